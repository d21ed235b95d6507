package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// payload is a decoded vendor JSON object. Numbers are kept as json.Number so
// amounts reach decimal.Decimal without a float round trip.
type payload map[string]any

func decodePayload(raw *integration.RawRecord) (payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw.Payload))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, &integration.ValidationError{
			Component: raw.Component,
			VendorID:  raw.VendorID,
			Reason:    "payload is not a JSON object",
			Err:       err,
		}
	}
	if p == nil {
		return nil, &integration.ValidationError{Component: raw.Component, VendorID: raw.VendorID, Reason: "payload is null"}
	}
	return p, nil
}

// str renders a scalar field as a string; objects, arrays and null render empty
func (p payload) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// first returns the first non-empty string field among keys
func (p payload) first(keys ...string) string {
	for _, k := range keys {
		if s := p.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (p payload) obj(key string) payload {
	if m, ok := p[key].(map[string]any); ok {
		return payload(m)
	}
	return nil
}

// list returns the objects of an array field. A present field that is not an
// array of objects is reported as an error.
func (p payload) list(key string) ([]payload, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %s is not an array", key)
	}
	out := make([]payload, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s[%d] is not an object", key, i)
		}
		out = append(out, payload(m))
	}
	return out, nil
}

// amount parses a numeric field; absent or empty fields report ok=false
func (p payload) amount(key string) (decimal.Decimal, bool, error) {
	s := p.str(key)
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("field %s: %w", key, err)
	}
	return d, true, nil
}

// amountOrZero parses a numeric field, treating absence as zero
func (p payload) amountOrZero(key string) (decimal.Decimal, error) {
	d, _, err := p.amount(key)
	return d, err
}

// flag reads a JSON bool or NetSuite's "T"/"F"
func (p payload) flag(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "t") || strings.EqualFold(v, "true")
	default:
		return false
	}
}

func (p payload) timestamp(key string) *time.Time {
	t, ok := integration.ParseTimestamp(p.str(key))
	if !ok {
		return nil
	}
	return &t
}

// ---------------------------------------------------------------------------
// Record building
// ---------------------------------------------------------------------------

func newRecord(raw *integration.RawRecord, entityType string) *integration.NormalizedRecord {
	return &integration.NormalizedRecord{
		IntegrationID: raw.IntegrationID,
		Component:     raw.Component,
		VendorID:      raw.VendorID,
		EntityType:    entityType,
		Attributes:    make(map[string]any),
		References:    make(map[string]integration.Reference),
	}
}

// setAttr stores non-empty attribute values only, so absent and empty fields hash alike
func setAttr(rec *integration.NormalizedRecord, key string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
	case nil:
		return
	}
	rec.Attributes[key] = value
}

// addRef requires a normalized row of component with the given vendor id
func addRef(rec *integration.NormalizedRecord, name string, component integration.Component, vendorID string) {
	if vendorID == "" {
		return
	}
	rec.References[name] = integration.Reference{Component: component, VendorID: vendorID}
}

func setAmount(rec *integration.NormalizedRecord, d decimal.Decimal) {
	rec.Amount = decimal.NewNullDecimal(d)
}

func invalid(raw *integration.RawRecord, reason string, err error) error {
	return &integration.ValidationError{Component: raw.Component, VendorID: raw.VendorID, Reason: reason, Err: err}
}
