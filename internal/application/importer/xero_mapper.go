package importer

import (
	"fmt"
	"sort"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Xero (accounting)
// ---------------------------------------------------------------------------

func registerXeroMappers(r *MapperRegistry) {
	k := integration.VendorKindAccounting
	r.Register(k, integration.ComponentAccounts, mapXeroAccount)
	r.Register(k, integration.ComponentContacts, mapXeroContact)
	r.Register(k, integration.ComponentInvoices, mapXeroInvoice)
	r.Register(k, integration.ComponentBankTransactions, mapXeroBankTransaction)
	r.Register(k, integration.ComponentJournals, mapXeroJournal)
	r.Register(k, integration.ComponentBudgets, mapXeroBudget)
	r.RegisterDeriver(k, integration.ComponentGeneralLedger, integration.ComponentJournals, deriveXeroLedger)
}

func mapXeroAccount(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	name := p.str("Name")
	if name == "" {
		return nil, invalid(raw, "account has no Name", nil)
	}
	rec := newRecord(raw, "xero.account")
	rec.DisplayName = name
	rec.Currency = p.str("CurrencyCode")
	setAttr(rec, "code", p.str("Code"))
	setAttr(rec, "type", p.str("Type"))
	setAttr(rec, "class", p.str("Class"))
	setAttr(rec, "status", p.str("Status"))
	setAttr(rec, "tax_type", p.str("TaxType"))
	setAttr(rec, "reporting_code", p.str("ReportingCode"))
	return rec, nil
}

func mapXeroContact(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(raw, "xero.contact")
	rec.DisplayName = p.first("Name", "ContactNumber", "ContactID")
	rec.Currency = p.str("DefaultCurrency")
	setAttr(rec, "status", p.str("ContactStatus"))
	setAttr(rec, "email", p.str("EmailAddress"))
	setAttr(rec, "tax_number", p.str("TaxNumber"))
	setAttr(rec, "is_customer", p.flag("IsCustomer"))
	setAttr(rec, "is_supplier", p.flag("IsSupplier"))
	return rec, nil
}

func mapXeroInvoice(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	total, ok, err := p.amount("Total")
	if err != nil {
		return nil, invalid(raw, "invalid invoice total", err)
	}
	if !ok {
		return nil, invalid(raw, "invoice has no Total", nil)
	}
	rec := newRecord(raw, "xero.invoice")
	rec.DisplayName = p.first("InvoiceNumber", "Reference", "InvoiceID")
	rec.Currency = p.str("CurrencyCode")
	rec.OccurredAt = p.timestamp("Date")
	setAmount(rec, total)
	setAttr(rec, "type", p.str("Type"))
	setAttr(rec, "status", p.str("Status"))
	setAttr(rec, "reference", p.str("Reference"))
	setAttr(rec, "sub_total", p.str("SubTotal"))
	setAttr(rec, "total_tax", p.str("TotalTax"))
	setAttr(rec, "amount_due", p.str("AmountDue"))
	setAttr(rec, "amount_paid", p.str("AmountPaid"))
	if due := p.timestamp("DueDate"); due != nil {
		setAttr(rec, "due_date", due.Format("2006-01-02"))
	}
	if contact := p.obj("Contact"); contact != nil {
		addRef(rec, "contact", integration.ComponentContacts, contact.str("ContactID"))
	}
	return rec, nil
}

func mapXeroBankTransaction(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	total, ok, err := p.amount("Total")
	if err != nil {
		return nil, invalid(raw, "invalid bank transaction total", err)
	}
	if !ok {
		return nil, invalid(raw, "bank transaction has no Total", nil)
	}
	rec := newRecord(raw, "xero.bank_transaction")
	rec.DisplayName = p.first("Reference", "BankTransactionID")
	rec.Currency = p.str("CurrencyCode")
	rec.OccurredAt = p.timestamp("Date")
	setAmount(rec, total)
	setAttr(rec, "type", p.str("Type"))
	setAttr(rec, "status", p.str("Status"))
	setAttr(rec, "is_reconciled", p.flag("IsReconciled"))
	if contact := p.obj("Contact"); contact != nil {
		addRef(rec, "contact", integration.ComponentContacts, contact.str("ContactID"))
	}
	if bank := p.obj("BankAccount"); bank != nil {
		addRef(rec, "bank_account", integration.ComponentAccounts, bank.str("AccountID"))
	}
	return rec, nil
}

// mapXeroJournal flattens journal lines with their net, gross and tax amounts.
// The journal amount is the sum of its debit lines.
func mapXeroJournal(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	lines, err := p.list("JournalLines")
	if err != nil {
		return nil, invalid(raw, "invalid journal lines", err)
	}

	rec := newRecord(raw, "xero.journal")
	number := p.str("JournalNumber")
	rec.DisplayName = "Journal " + number
	rec.OccurredAt = p.timestamp("JournalDate")
	setAttr(rec, "journal_number", number)
	setAttr(rec, "reference", p.str("Reference"))
	setAttr(rec, "source_id", p.str("SourceID"))
	setAttr(rec, "source_type", p.str("SourceType"))

	debits := decimal.Zero
	out := make([]map[string]any, 0, len(lines))
	for i, line := range lines {
		net, err := line.amountOrZero("NetAmount")
		if err != nil {
			return nil, invalid(raw, fmt.Sprintf("journal line %d", i), err)
		}
		if net.IsPositive() {
			debits = debits.Add(net)
		}
		entry := map[string]any{
			"journal_line_id": line.str("JournalLineID"),
			"account_id":      line.str("AccountID"),
			"account_code":    line.str("AccountCode"),
			"account_type":    line.str("AccountType"),
			"account_name":    line.str("AccountName"),
			"description":     line.str("Description"),
			"net_amount":      net.String(),
			"gross_amount":    line.str("GrossAmount"),
			"tax_amount":      line.str("TaxAmount"),
		}
		tracking, err := line.list("TrackingCategories")
		if err != nil {
			return nil, invalid(raw, fmt.Sprintf("journal line %d tracking", i), err)
		}
		if len(tracking) > 0 {
			entry["tracking_category_name"] = tracking[0].str("Name")
			entry["tracking_category_option"] = tracking[0].str("Option")
		}
		out = append(out, entry)
		addRef(rec, "account:"+line.str("AccountID"), integration.ComponentAccounts, line.str("AccountID"))
	}
	setAmount(rec, debits)
	setAttr(rec, "lines", out)
	return rec, nil
}

func mapXeroBudget(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	lines, err := p.list("BudgetLines")
	if err != nil {
		return nil, invalid(raw, "invalid budget lines", err)
	}

	rec := newRecord(raw, "xero.budget")
	rec.DisplayName = p.first("Description", "BudgetID")
	setAttr(rec, "type", p.str("Type"))
	setAttr(rec, "status", p.str("Status"))

	total := decimal.Zero
	accounts := make([]string, 0, len(lines))
	for i, line := range lines {
		balances, err := line.list("BudgetBalances")
		if err != nil {
			return nil, invalid(raw, fmt.Sprintf("budget line %d", i), err)
		}
		for _, b := range balances {
			amount, err := b.amountOrZero("Amount")
			if err != nil {
				return nil, invalid(raw, fmt.Sprintf("budget line %d balance", i), err)
			}
			total = total.Add(amount)
		}
		if id := line.str("AccountID"); id != "" {
			accounts = append(accounts, id)
			addRef(rec, "account:"+id, integration.ComponentAccounts, id)
		}
	}
	sort.Strings(accounts)
	setAmount(rec, total)
	setAttr(rec, "line_count", len(lines))
	if len(accounts) > 0 {
		setAttr(rec, "account_ids", accounts)
	}
	return rec, nil
}
