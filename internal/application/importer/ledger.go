package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// General ledger
// ---------------------------------------------------------------------------

// deriveXeroLedger emits one ledger row per journal line, enriched with the
// line's account.
func deriveXeroLedger(ctx context.Context, lookup RowLookup, journal *integration.NormalizedRecord) ([]*integration.NormalizedRecord, error) {
	lines, err := attrObjects(journal.Attributes["lines"])
	if err != nil {
		return nil, derivedInvalid(journal, "journal lines", err)
	}

	out := make([]*integration.NormalizedRecord, 0, len(lines))
	for i, line := range lines {
		lineID := attrString(line["journal_line_id"])
		if lineID == "" {
			lineID = fmt.Sprintf("%s:%d", journal.VendorID, i)
		}
		net, err := attrDecimal(line["net_amount"])
		if err != nil {
			return nil, derivedInvalid(journal, fmt.Sprintf("journal line %d net amount", i), err)
		}

		rec := newLedgerRow(journal, lineID, "xero.general_ledger")
		rec.DisplayName = firstNonEmpty(attrString(line["description"]), journal.DisplayName)
		rec.OccurredAt = journal.OccurredAt
		rec.Amount = decimal.NewNullDecimal(net)
		setAttr(rec, "journal_id", journal.VendorID)
		setAttr(rec, "journal_number", attrString(journal.Attributes["journal_number"]))
		setAttr(rec, "journal_reference", attrString(journal.Attributes["reference"]))
		setAttr(rec, "source_id", attrString(journal.Attributes["source_id"]))
		setAttr(rec, "source_type", attrString(journal.Attributes["source_type"]))
		setAttr(rec, "journal_line_id", lineID)
		setAttr(rec, "description", attrString(line["description"]))
		setAttr(rec, "net_amount", net.String())
		setAttr(rec, "gross_amount", attrString(line["gross_amount"]))
		setAttr(rec, "tax_amount", attrString(line["tax_amount"]))
		setAttr(rec, "tracking_category_name", attrString(line["tracking_category_name"]))
		setAttr(rec, "tracking_category_option", attrString(line["tracking_category_option"]))

		accountID := attrString(line["account_id"])
		setAttr(rec, "account_id", accountID)
		setAttr(rec, "account_code", attrString(line["account_code"]))
		setAttr(rec, "account_type", attrString(line["account_type"]))
		setAttr(rec, "account_name", attrString(line["account_name"]))
		if accountID != "" {
			account, err := lookup(ctx, integration.ComponentAccounts, accountID)
			if err != nil {
				return nil, err
			}
			if account != nil {
				rec.Currency = account.Currency
				class := attrString(account.Attributes["class"])
				setAttr(rec, "account_class", class)
				setAttr(rec, "account_status", attrString(account.Attributes["status"]))
				setAttr(rec, "account_tax_type", attrString(account.Attributes["tax_type"]))
				setAttr(rec, "account_reporting_code", attrString(account.Attributes["reporting_code"]))
				setAttr(rec, "statement", statementOf(class))
			}
			addRef(rec, "account", integration.ComponentAccounts, accountID)
		}
		addRef(rec, "journal", integration.ComponentJournals, journal.VendorID)
		out = append(out, rec)
	}
	return out, nil
}

// deriveNetSuiteLedger turns an accounting line into a ledger row. Lines of
// transactions that may not post (pending or rejected approval) are left out.
func deriveNetSuiteLedger(ctx context.Context, lookup RowLookup, line *integration.NormalizedRecord) ([]*integration.NormalizedRecord, error) {
	transactionID := attrString(line.Attributes["transaction"])
	if transactionID == "" {
		return nil, derivedInvalid(line, "accounting line has no transaction", nil)
	}
	tx, err := lookup(ctx, integration.ComponentTransactions, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, derivedInvalid(line, "transaction "+transactionID+" is not normalized", nil)
	}
	if eligible, ok := tx.Attributes["posting_eligible"].(bool); ok && !eligible {
		return nil, nil
	}

	rec := newLedgerRow(line, line.VendorID, "netsuite.general_ledger")
	rec.DisplayName = tx.DisplayName
	rec.OccurredAt = tx.OccurredAt
	rec.Currency = tx.Currency
	rec.Amount = line.Amount
	setAttr(rec, "transaction_id", transactionID)
	setAttr(rec, "tran_id", tx.DisplayName)
	setAttr(rec, "type", attrString(tx.Attributes["type"]))
	setAttr(rec, "memo", attrString(tx.Attributes["memo"]))
	setAttr(rec, "approval_status", attrString(tx.Attributes["approval_status"]))
	setAttr(rec, "posting_period", attrString(tx.Attributes["posting_period"]))
	setAttr(rec, "year_period", attrString(tx.Attributes["year_period"]))
	setAttr(rec, "exchange_rate", attrString(tx.Attributes["exchange_rate"]))
	setAttr(rec, "transaction_line", attrString(line.Attributes["transaction_line"]))
	setAttr(rec, "accounting_book", attrString(line.Attributes["accounting_book"]))
	setAttr(rec, "subsidiary", attrString(line.Attributes["subsidiary"]))
	setAttr(rec, "debit", attrString(line.Attributes["debit"]))
	setAttr(rec, "credit", attrString(line.Attributes["credit"]))
	setAttr(rec, "net_amount", attrString(line.Attributes["net_amount"]))

	if ref, ok := line.References["account"]; ok {
		account, err := lookup(ctx, integration.ComponentAccounts, ref.VendorID)
		if err != nil {
			return nil, err
		}
		setAttr(rec, "account", ref.VendorID)
		if account != nil {
			setAttr(rec, "acct_number", attrString(account.Attributes["number"]))
			setAttr(rec, "account_name", account.DisplayName)
			setAttr(rec, "account_type", attrString(account.Attributes["type"]))
		}
		addRef(rec, "account", integration.ComponentAccounts, ref.VendorID)
	}
	addRef(rec, "transaction", integration.ComponentTransactions, transactionID)
	addRef(rec, "accounting_line", integration.ComponentAccountingLines, line.VendorID)
	return []*integration.NormalizedRecord{rec}, nil
}

func newLedgerRow(src *integration.NormalizedRecord, vendorID, entityType string) *integration.NormalizedRecord {
	return &integration.NormalizedRecord{
		IntegrationID: src.IntegrationID,
		Component:     integration.ComponentGeneralLedger,
		VendorID:      vendorID,
		EntityType:    entityType,
		Attributes:    make(map[string]any),
		References:    make(map[string]integration.Reference),
	}
}

// statementOf places a Xero account class on the balance sheet or the profit and loss
func statementOf(class string) string {
	switch strings.ToUpper(class) {
	case "ASSET", "LIABILITY", "EQUITY":
		return "BS"
	case "REVENUE", "EXPENSE":
		return "PL"
	default:
		return ""
	}
}

func derivedInvalid(src *integration.NormalizedRecord, reason string, err error) error {
	return &integration.ValidationError{Component: integration.ComponentGeneralLedger, VendorID: src.VendorID, Reason: reason, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Stored attribute access. Rows read back from storage carry JSON-decoded
// attributes; rows built in the same pass carry the mapper's own types.
// ---------------------------------------------------------------------------

func attrString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func attrDecimal(v any) (decimal.Decimal, error) {
	s := attrString(v)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func attrObjects(v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return x, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d is not an object", i)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, errors.New("not a list")
	}
}
