package importer

import (
	"strconv"
	"strings"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// NetSuite (ERP)
// ---------------------------------------------------------------------------

func registerNetSuiteMappers(r *MapperRegistry) {
	k := integration.VendorKindERP
	r.Register(k, integration.ComponentSubsidiaries, mapNetSuiteSubsidiary)
	r.Register(k, integration.ComponentAccounts, mapNetSuiteAccount)
	r.Register(k, integration.ComponentAccountingPeriods, mapNetSuiteAccountingPeriod)
	r.Register(k, integration.ComponentDepartments, mapNetSuiteDepartment)
	r.Register(k, integration.ComponentEntities, mapNetSuiteEntity("netsuite.entity"))
	r.Register(k, integration.ComponentVendors, mapNetSuiteEntity("netsuite.vendor"))
	r.Register(k, integration.ComponentTransactions, mapNetSuiteTransaction)
	r.Register(k, integration.ComponentTransactionLines, mapNetSuiteTransactionLine)
	r.Register(k, integration.ComponentAccountingLines, mapNetSuiteAccountingLine)
	r.Register(k, integration.ComponentBudgets, mapNetSuiteBudget)
	r.Register(k, integration.ComponentBudgetLines, mapNetSuiteBudgetLine)
	r.RegisterDeriver(k, integration.ComponentGeneralLedger, integration.ComponentAccountingLines, deriveNetSuiteLedger)
}

func mapNetSuiteSubsidiary(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(raw, "netsuite.subsidiary")
	rec.DisplayName = p.first("name", "fullname", "id")
	rec.Currency = p.str("currency")
	setAttr(rec, "full_name", p.str("fullname"))
	setAttr(rec, "legal_name", p.str("legalname"))
	setAttr(rec, "country", p.str("country"))
	setAttr(rec, "is_elimination", p.flag("iselimination"))
	return rec, nil
}

func mapNetSuiteAccount(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	name := p.first("acctname", "accountsearchdisplayname", "fullname")
	if name == "" {
		return nil, invalid(raw, "account has no name", nil)
	}
	rec := newRecord(raw, "netsuite.account")
	rec.DisplayName = name
	setAttr(rec, "number", p.str("acctnumber"))
	setAttr(rec, "full_name", p.str("fullname"))
	setAttr(rec, "type", p.str("accttype"))
	setAttr(rec, "parent", p.str("parent"))
	setAttr(rec, "subsidiary", p.str("subsidiary"))
	setAttr(rec, "is_inactive", p.flag("isinactive"))
	setAttr(rec, "is_summary", p.flag("issummary"))
	setAttr(rec, "eliminate", p.flag("eliminate"))
	return rec, nil
}

func mapNetSuiteAccountingPeriod(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	name := p.str("periodname")
	if name == "" {
		return nil, invalid(raw, "accounting period has no periodname", nil)
	}
	rec := newRecord(raw, "netsuite.accounting_period")
	rec.DisplayName = name
	rec.OccurredAt = p.timestamp("startdate")
	setAttr(rec, "start_date", p.str("startdate"))
	setAttr(rec, "end_date", p.str("enddate"))
	setAttr(rec, "closed", p.flag("closed"))
	setAttr(rec, "is_adjust", p.flag("isadjust"))
	setAttr(rec, "is_quarter", p.flag("isquarter"))
	setAttr(rec, "is_year", p.flag("isyear"))
	if yp, ok := YearPeriod(name); ok {
		setAttr(rec, "year_period", yp)
	}
	return rec, nil
}

func mapNetSuiteDepartment(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(raw, "netsuite.department")
	rec.DisplayName = p.first("name", "fullname", "id")
	setAttr(rec, "full_name", p.str("fullname"))
	setAttr(rec, "subsidiary", p.str("subsidiary"))
	setAttr(rec, "is_inactive", p.flag("isinactive"))
	return rec, nil
}

func mapNetSuiteEntity(entityType string) MapFunc {
	return func(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
		p, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		rec := newRecord(raw, entityType)
		rec.DisplayName = p.first("companyname", "legalname", "entityid", "id")
		rec.Currency = p.str("currency")
		setAttr(rec, "entity_id", p.str("entityid"))
		setAttr(rec, "entity_number", p.str("entitynumber"))
		setAttr(rec, "legal_name", p.str("legalname"))
		setAttr(rec, "email", p.str("email"))
		setAttr(rec, "subsidiary", p.str("subsidiary"))
		setAttr(rec, "terms", p.str("terms"))
		setAttr(rec, "parent", p.str("parententity"))
		setAttr(rec, "is_person", p.flag("isperson"))
		setAttr(rec, "is_inactive", p.flag("isinactive"))
		return rec, nil
	}
}

// mapNetSuiteTransaction derives the posting year-period and whether the
// transaction may reach the ledger: only approved or unapproved-workflow ones do.
func mapNetSuiteTransaction(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	total, _, err := p.amount("foreigntotal")
	if err != nil {
		return nil, invalid(raw, "invalid transaction total", err)
	}

	rec := newRecord(raw, "netsuite.transaction")
	rec.DisplayName = p.first("tranid", "id")
	rec.Currency = p.str("currency")
	rec.OccurredAt = p.timestamp("trandate")
	setAmount(rec, total)

	period := p.str("postingperiodname")
	approval := p.str("approvalstatus")
	setAttr(rec, "type", p.str("type"))
	setAttr(rec, "status", p.str("status"))
	setAttr(rec, "memo", p.str("memo"))
	setAttr(rec, "exchange_rate", p.str("exchangerate"))
	setAttr(rec, "approval_status", approval)
	setAttr(rec, "posting_period", period)
	setAttr(rec, "posting_eligible", approval == "" || strings.EqualFold(approval, "approved"))
	setAttr(rec, "voided", p.flag("voided") || p.flag("void"))
	if yp, ok := YearPeriod(period); ok {
		setAttr(rec, "year_period", yp)
	}

	addRef(rec, "subsidiary", integration.ComponentSubsidiaries, p.str("subsidiary"))
	addRef(rec, "posting_period", integration.ComponentAccountingPeriods, p.str("postingperiod"))
	addRef(rec, "entity", integration.ComponentEntities, p.str("entity"))
	return rec, nil
}

func mapNetSuiteTransactionLine(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	transaction := p.str("transaction")
	if transaction == "" {
		return nil, invalid(raw, "transaction line has no transaction", nil)
	}
	net, _, err := p.amount("netamount")
	if err != nil {
		return nil, invalid(raw, "invalid line net amount", err)
	}

	rec := newRecord(raw, "netsuite.transaction_line")
	rec.DisplayName = p.first("memo", "uniquekey")
	setAmount(rec, net)
	setAttr(rec, "transaction", transaction)
	setAttr(rec, "line_id", p.str("id"))
	setAttr(rec, "line_sequence", p.str("linesequencenumber"))
	setAttr(rec, "memo", p.str("memo"))
	setAttr(rec, "foreign_amount", p.str("foreignamount"))
	setAttr(rec, "subsidiary", p.str("subsidiary"))
	setAttr(rec, "entity", p.str("entity"))
	setAttr(rec, "main_line", p.flag("mainline"))
	setAttr(rec, "tax_line", p.flag("taxline"))

	addRef(rec, "transaction", integration.ComponentTransactions, transaction)
	addRef(rec, "account", integration.ComponentAccounts, p.str("expenseaccount"))
	addRef(rec, "department", integration.ComponentDepartments, p.str("department"))
	return rec, nil
}

// mapNetSuiteAccountingLine keeps the posting amounts of one transaction line
// in one accounting book. A line without an amount nets its debit and credit.
func mapNetSuiteAccountingLine(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	transaction := p.str("transaction")
	if transaction == "" {
		return nil, invalid(raw, "accounting line has no transaction", nil)
	}
	debit, err := p.amountOrZero("debit")
	if err != nil {
		return nil, invalid(raw, "invalid debit", err)
	}
	credit, err := p.amountOrZero("credit")
	if err != nil {
		return nil, invalid(raw, "invalid credit", err)
	}
	amount, ok, err := p.amount("amount")
	if err != nil {
		return nil, invalid(raw, "invalid amount", err)
	}
	if !ok {
		amount = debit.Sub(credit)
	}

	rec := newRecord(raw, "netsuite.accounting_line")
	rec.DisplayName = "Line " + raw.VendorID
	setAmount(rec, amount)
	setAttr(rec, "transaction", transaction)
	setAttr(rec, "transaction_line", p.str("transactionline"))
	setAttr(rec, "accounting_book", p.str("accountingbook"))
	setAttr(rec, "debit", debit.String())
	setAttr(rec, "credit", credit.String())
	setAttr(rec, "net_amount", p.str("netamount"))
	setAttr(rec, "amount_foreign", p.str("amountforeign"))
	setAttr(rec, "amount_paid", p.str("amountpaid"))
	setAttr(rec, "amount_unpaid", p.str("amountunpaid"))
	setAttr(rec, "subsidiary", p.str("subsidiary"))
	setAttr(rec, "eliminate", p.flag("eliminate"))
	setAttr(rec, "posting", p.flag("posting"))

	addRef(rec, "transaction", integration.ComponentTransactions, transaction)
	addRef(rec, "account", integration.ComponentAccounts, p.str("account"))
	return rec, nil
}

func mapNetSuiteBudget(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	amount, _, err := p.amount("amount")
	if err != nil {
		return nil, invalid(raw, "invalid budget amount", err)
	}
	rec := newRecord(raw, "netsuite.budget")
	rec.DisplayName = "Budget " + raw.VendorID
	setAmount(rec, amount)
	setAttr(rec, "year", p.str("year"))
	setAttr(rec, "category", p.str("category"))
	setAttr(rec, "accounting_book", p.str("accountingbook"))
	setAttr(rec, "department", p.str("department"))
	setAttr(rec, "subsidiary", p.str("subsidiary"))
	addRef(rec, "account", integration.ComponentAccounts, p.str("account"))
	return rec, nil
}

// mapNetSuiteBudgetLine is one period balance of a budget
func mapNetSuiteBudgetLine(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	budget := p.str("budget")
	if budget == "" {
		return nil, invalid(raw, "budget line has no budget", nil)
	}
	amount, err := p.amountOrZero("amount")
	if err != nil {
		return nil, invalid(raw, "invalid budget line amount", err)
	}
	rec := newRecord(raw, "netsuite.budget_line")
	rec.DisplayName = "Budget " + budget + " period " + p.str("period")
	setAmount(rec, amount)
	setAttr(rec, "budget", budget)
	setAttr(rec, "period", p.str("period"))
	setAttr(rec, "location", p.str("location"))
	setAttr(rec, "notes", p.str("notes"))

	addRef(rec, "budget", integration.ComponentBudgets, budget)
	addRef(rec, "account", integration.ComponentAccounts, p.str("account"))
	addRef(rec, "period", integration.ComponentAccountingPeriods, p.str("period"))
	addRef(rec, "department", integration.ComponentDepartments, p.str("department"))
	return rec, nil
}

var periodMonths = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// YearPeriod converts a NetSuite posting period name into YYYYPP, e.g.
// "Mar FY24" is 202403 and "Adjustment FY24" is 202413. Periods named by
// number ("P03 FY24") are accepted as well.
func YearPeriod(name string) (int, bool) {
	upper := strings.ToUpper(name)
	fy := strings.Index(upper, "FY")
	if fy < 0 || len(upper) < fy+4 {
		return 0, false
	}
	year, err := strconv.Atoi(upper[fy+2 : fy+4])
	if err != nil {
		return 0, false
	}

	month := 0
	switch {
	case strings.Contains(upper, "ADJUST"):
		month = 13
	case len(name) >= 3:
		if m, ok := periodMonths[strings.ToLower(name[:3])]; ok {
			month = m
		} else if n, err := strconv.Atoi(name[1:3]); err == nil {
			month = n
		}
	}
	if month < 1 || month > 13 {
		return 0, false
	}
	return 200000 + year*100 + month, true
}
