package importer

import (
	"fmt"
	"strings"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Toast (point of sale)
// ---------------------------------------------------------------------------

// SettingRestaurantGUID is the integration setting holding the Toast restaurant an order belongs to
const SettingRestaurantGUID = "restaurant_guid"

func registerToastMappers(r *MapperRegistry) {
	k := integration.VendorKindPOS
	r.Register(k, integration.ComponentRestaurants, mapToastRestaurant)
	r.Register(k, integration.ComponentOrders, mapToastOrder)
}

func mapToastRestaurant(_ MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(raw, "toast.restaurant")
	rec.DisplayName = p.first("restaurantName", "name", "locationName", "restaurantGuid", "guid")
	setAttr(rec, "location_name", p.str("locationName"))
	setAttr(rec, "management_group_guid", p.str("managementGroupGuid"))
	setAttr(rec, "external_group_ref", p.str("externalGroupRef"))
	return rec, nil
}

func mapToastOrder(mc MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	sales, checks, err := toastNetSales(p)
	if err != nil {
		return nil, invalid(raw, "invalid order checks", err)
	}

	rec := newRecord(raw, "toast.order")
	rec.DisplayName = p.first("displayNumber", "guid")
	rec.OccurredAt = p.timestamp("openedDate")
	setAmount(rec, sales)
	setAttr(rec, "business_date", p.str("businessDate"))
	setAttr(rec, "source", p.str("source"))
	setAttr(rec, "voided", p.flag("voided"))
	setAttr(rec, "check_count", checks)
	if closed := p.timestamp("closedDate"); closed != nil {
		setAttr(rec, "closed_at", closed.Format("2006-01-02T15:04:05Z"))
	}

	restaurant := p.str("restaurantGuid")
	if restaurant == "" && mc.Integration != nil {
		restaurant = mc.Integration.Setting(SettingRestaurantGUID, "")
	}
	addRef(rec, "restaurant", integration.ComponentRestaurants, restaurant)
	return rec, nil
}

// toastNetSales sums the net sales of an order's checks:
// per selection preDiscountPrice minus its non-taxable discounts (voided and
// gift card selections excluded), plus non-gratuity service charges, minus
// check-level discounts. Voided checks contribute nothing.
func toastNetSales(order payload) (decimal.Decimal, int, error) {
	checks, err := order.list("checks")
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for ci, check := range checks {
		if check.flag("voided") || check.flag("deleted") {
			continue
		}
		checkTotal := decimal.Zero

		selections, err := check.list("selections")
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("check %d: %w", ci, err)
		}
		for si, sel := range selections {
			if sel.flag("voided") || strings.Contains(strings.ToLower(sel.str("displayName")), "gift card") {
				continue
			}
			price, err := sel.amountOrZero("preDiscountPrice")
			if err != nil {
				return decimal.Zero, 0, fmt.Errorf("check %d selection %d: %w", ci, si, err)
			}
			discounts, err := sumField(sel, "appliedDiscounts", "nonTaxableDiscountAmount", nil)
			if err != nil {
				return decimal.Zero, 0, fmt.Errorf("check %d selection %d: %w", ci, si, err)
			}
			checkTotal = checkTotal.Add(price.Sub(discounts))
		}

		charges, err := sumField(check, "appliedServiceCharges", "chargeAmount", func(c payload) bool {
			return !c.flag("gratuity")
		})
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("check %d: %w", ci, err)
		}
		discounts, err := sumField(check, "appliedDiscounts", "nonTaxableDiscountAmount", nil)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("check %d: %w", ci, err)
		}
		total = total.Add(checkTotal.Add(charges).Sub(discounts))
	}
	return total, len(checks), nil
}

// sumField adds a numeric field over the objects of a list, optionally filtered
func sumField(p payload, listKey, field string, keep func(payload) bool) (decimal.Decimal, error) {
	items, err := p.list(listKey)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, item := range items {
		if keep != nil && !keep(item) {
			continue
		}
		d, err := item.amountOrZero(field)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(d)
	}
	return sum, nil
}
