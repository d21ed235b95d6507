package importer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// rowsLookup serves rows keyed by component and vendor id
func rowsLookup(rows ...*integration.NormalizedRecord) RowLookup {
	byKey := make(map[integration.Reference]*integration.NormalizedRecord, len(rows))
	for _, r := range rows {
		byKey[integration.Reference{Component: r.Component, VendorID: r.VendorID}] = r
	}
	return func(_ context.Context, c integration.Component, vendorID string) (*integration.NormalizedRecord, error) {
		return byKey[integration.Reference{Component: c, VendorID: vendorID}], nil
	}
}

func TestDeriveXeroLedger(t *testing.T) {
	ctx := context.Background()
	journal := &integration.NormalizedRecord{
		IntegrationID: uuid.New(),
		Component:     integration.ComponentJournals,
		VendorID:      "j-1",
		DisplayName:   "Journal 7",
		OccurredAt:    &testClock,
		Attributes: map[string]any{
			"journal_number": float64(7),
			"source_type":    "ACCREC",
			// shape of lines read back from storage
			"lines": []any{
				map[string]any{"journal_line_id": "l-1", "account_id": "a-1", "net_amount": "100.00", "description": "Sale"},
				map[string]any{"account_id": "a-2", "net_amount": "-100.00"},
			},
		},
	}
	sales := &integration.NormalizedRecord{
		Component:  integration.ComponentAccounts,
		VendorID:   "a-1",
		Currency:   "NZD",
		Attributes: map[string]any{"class": "REVENUE", "status": "ACTIVE"},
	}

	rows, err := deriveXeroLedger(ctx, rowsLookup(sales), journal)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, integration.ComponentGeneralLedger, first.Component)
	assert.Equal(t, "l-1", first.VendorID)
	assert.Equal(t, journal.IntegrationID, first.IntegrationID)
	assert.Equal(t, "Sale", first.DisplayName)
	assert.Equal(t, "NZD", first.Currency)
	assert.True(t, first.Amount.Decimal.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, "7", first.Attributes["journal_number"])
	assert.Equal(t, "PL", first.Attributes["statement"])
	assert.Equal(t, "ACTIVE", first.Attributes["account_status"])
	assert.Equal(t, integration.Reference{Component: integration.ComponentJournals, VendorID: "j-1"}, first.References["journal"])

	second := rows[1]
	assert.Equal(t, "j-1:1", second.VendorID, "lines without an id are keyed by position")
	assert.Equal(t, "Journal 7", second.DisplayName)
	assert.Empty(t, second.Currency, "unknown account leaves the row unenriched")
	assert.NotContains(t, second.Attributes, "statement")

	journal.Attributes["lines"] = []any{"not an object"}
	_, err = deriveXeroLedger(ctx, rowsLookup(), journal)
	assert.ErrorIs(t, err, integration.ErrValidation)
}

func TestDeriveNetSuiteLedger(t *testing.T) {
	ctx := context.Background()
	line := &integration.NormalizedRecord{
		Component:  integration.ComponentAccountingLines,
		VendorID:   "100:2:1",
		Amount:     decimal.NewNullDecimal(decimal.RequireFromString("40")),
		Attributes: map[string]any{"transaction": "100", "transaction_line": "2", "debit": "40"},
		References: map[string]integration.Reference{
			"account":     {Component: integration.ComponentAccounts, VendorID: "300"},
			"transaction": {Component: integration.ComponentTransactions, VendorID: "100"},
		},
	}
	account := &integration.NormalizedRecord{
		Component:   integration.ComponentAccounts,
		VendorID:    "300",
		DisplayName: "Office supplies",
		Attributes:  map[string]any{"number": "6100"},
	}
	approved := &integration.NormalizedRecord{
		Component:   integration.ComponentTransactions,
		VendorID:    "100",
		DisplayName: "JE-100",
		Currency:    "USD",
		Attributes:  map[string]any{"posting_eligible": true, "year_period": float64(202403), "posting_period": "Mar FY24"},
	}

	t.Run("posts lines of approved transactions", func(t *testing.T) {
		rows, err := deriveNetSuiteLedger(ctx, rowsLookup(account, approved), line)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		gl := rows[0]
		assert.Equal(t, "100:2:1", gl.VendorID)
		assert.Equal(t, "JE-100", gl.DisplayName)
		assert.Equal(t, "USD", gl.Currency)
		assert.True(t, gl.Amount.Decimal.Equal(decimal.RequireFromString("40")))
		assert.Equal(t, "202403", gl.Attributes["year_period"])
		assert.Equal(t, "6100", gl.Attributes["acct_number"])
		assert.Equal(t, "Office supplies", gl.Attributes["account_name"])
		assert.Equal(t, integration.ComponentAccountingLines, gl.References["accounting_line"].Component)
	})

	t.Run("leaves out transactions that may not post", func(t *testing.T) {
		pending := *approved
		pending.Attributes = map[string]any{"posting_eligible": false}
		rows, err := deriveNetSuiteLedger(ctx, rowsLookup(account, &pending), line)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("missing transaction is a validation error", func(t *testing.T) {
		_, err := deriveNetSuiteLedger(ctx, rowsLookup(account), line)
		assert.ErrorIs(t, err, integration.ErrValidation)
	})
}

func TestTransformer_DerivesGeneralLedger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	env.stage(t, integration.ComponentAccounts,
		fetched("a-1", `{"AccountID":"a-1","Name":"Sales","Class":"REVENUE"}`),
		fetched("a-2", `{"AccountID":"a-2","Name":"Bank","Class":"ASSET"}`),
	)
	env.stage(t, integration.ComponentJournals,
		fetched("j-1", `{"JournalID":"j-1","JournalNumber":1,"JournalLines":[
			{"JournalLineID":"l-1","AccountID":"a-1","NetAmount":-50},
			{"JournalLineID":"l-2","AccountID":"a-2","NetAmount":50}
		]}`),
	)
	for _, c := range []integration.Component{integration.ComponentAccounts, integration.ComponentJournals} {
		_, err := env.transformer.Transform(ctx, env.integ.ID, c, todayWindow())
		require.NoError(t, err)
	}

	res, err := env.transformer.Transform(ctx, env.integ.ID, integration.ComponentGeneralLedger, todayWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Normalized)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, int64(2), env.normalizedCount(t, integration.ComponentGeneralLedger))

	bank, err := env.normalized.Find(ctx, env.integ.ID, integration.ComponentGeneralLedger, "l-2")
	require.NoError(t, err)
	require.NotNil(t, bank)
	assert.Equal(t, "BS", bank.Attributes["statement"])

	again, err := env.transformer.Transform(ctx, env.integ.ID, integration.ComponentGeneralLedger, todayWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Normalized)
	assert.Zero(t, again.Written, "unchanged journals must not rewrite ledger rows")
}
