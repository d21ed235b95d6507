package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// DefaultMaxDeferrals is how many transform passes a record may wait for a missing reference
const DefaultMaxDeferrals = 5

// TransformResult holds the counters of one transform pass over a component
type TransformResult struct {
	// Normalized counts records that mapped and resolved, whether or not the row changed
	Normalized int
	// Written counts normalized rows actually rewritten (source hash changed)
	Written  int
	Deferred int
	Skipped  int
	// Errors holds the per-record errors of skipped records
	Errors []error
}

// ---------------------------------------------------------------------------
// Transformer
// ---------------------------------------------------------------------------

// Transformer normalizes staged raw records of one component
type Transformer struct {
	integrations integration.IntegrationRepository
	staging      integration.StagingRepository
	normalized   integration.NormalizedRepository
	pending      integration.PendingReferenceRepository
	mappers      *MapperRegistry
	maxDeferrals int
	logger       *zap.Logger
	now          func() time.Time
}

// NewTransformer creates a transformer. maxDeferrals <= 0 selects DefaultMaxDeferrals.
func NewTransformer(
	integrations integration.IntegrationRepository,
	staging integration.StagingRepository,
	normalized integration.NormalizedRepository,
	pending integration.PendingReferenceRepository,
	mappers *MapperRegistry,
	maxDeferrals int,
	logger *zap.Logger,
) *Transformer {
	if mappers == nil {
		mappers = NewMapperRegistry()
	}
	if maxDeferrals <= 0 {
		maxDeferrals = DefaultMaxDeferrals
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		integrations: integrations,
		staging:      staging,
		normalized:   normalized,
		pending:      pending,
		mappers:      mappers,
		maxDeferrals: maxDeferrals,
		logger:       logger,
		now:          time.Now,
	}
}

// Transform normalizes the staged records of a component inside the window,
// together with every record still pending on a missing reference.
//
// Per-record failures never fail the pass: malformed payloads are skipped and
// records with unresolved references are deferred until MaxDeferrals passes
// have gone by. The returned error is reserved for storage failures,
// cancellation and components without a mapper.
func (t *Transformer) Transform(ctx context.Context, integrationID uuid.UUID, component integration.Component, window integration.Window) (*TransformResult, error) {
	integ, err := t.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if spec, ok := integration.LookupComponent(integ.VendorKind, component); ok && spec.Derived {
		return t.derive(ctx, integ, component, window)
	}
	mapper, ok := t.mappers.Get(integ.VendorKind, component)
	if !ok {
		return nil, &integration.ValidationError{
			Component: component,
			Reason:    fmt.Sprintf("no mapper for %s", integ.VendorKind.DisplayName()),
		}
	}

	raws, pendingIDs, err := t.loadInput(ctx, integrationID, component, window)
	if err != nil {
		return nil, err
	}

	log := t.logger.With(
		zap.String("integration_id", integrationID.String()),
		zap.String("component", string(component)),
	)
	mc := MapContext{Integration: integ}
	refs := newRefCache(t.normalized, integrationID)
	result := &TransformResult{}

	for i := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		raw := &raws[i]
		wasPending := pendingIDs[raw.VendorID]

		rec, err := mapper(mc, raw)
		if err != nil {
			if !errors.Is(err, integration.ErrValidation) {
				return result, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, err)
			log.Warn("Skipping malformed record", zap.String("vendor_id", raw.VendorID), zap.Error(err))
			if wasPending {
				if err := t.pending.Resolve(ctx, integrationID, component, raw.VendorID); err != nil {
					return result, err
				}
			}
			continue
		}

		missing, err := refs.firstMissing(ctx, rec.References)
		if err != nil {
			return result, err
		}
		if missing != nil {
			if err := t.deferRecord(ctx, raw, *missing, result); err != nil {
				return result, err
			}
			continue
		}

		rec.TransformedAt = t.now().UTC()
		if err := rec.ComputeHash(); err != nil {
			return result, fmt.Errorf("hash %s %s: %w", component, raw.VendorID, err)
		}
		written, err := t.normalized.Upsert(ctx, rec)
		if err != nil {
			return result, err
		}
		result.Normalized++
		if written {
			result.Written++
		}
		refs.mark(component, raw.VendorID)
		if wasPending {
			if err := t.pending.Resolve(ctx, integrationID, component, raw.VendorID); err != nil {
				return result, err
			}
		}
	}

	log.Debug("Transform pass finished",
		zap.Int("records", len(raws)),
		zap.Int("normalized", result.Normalized),
		zap.Int("written", result.Written),
		zap.Int("deferred", result.Deferred),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// derive rebuilds a derived component from the source rows transformed
// inside the window. Unchanged rows are not rewritten.
func (t *Transformer) derive(ctx context.Context, integ *integration.Integration, component integration.Component, window integration.Window) (*TransformResult, error) {
	d, ok := t.mappers.Deriver(integ.VendorKind, component)
	if !ok {
		return nil, &integration.ValidationError{
			Component: component,
			Reason:    fmt.Sprintf("no deriver for %s", integ.VendorKind.DisplayName()),
		}
	}
	sources, err := t.normalized.FindInWindow(ctx, integ.ID, d.Source, window)
	if err != nil {
		return nil, err
	}

	log := t.logger.With(
		zap.String("integration_id", integ.ID.String()),
		zap.String("component", string(component)),
	)
	lookup := func(ctx context.Context, c integration.Component, vendorID string) (*integration.NormalizedRecord, error) {
		return t.normalized.Find(ctx, integ.ID, c, vendorID)
	}
	result := &TransformResult{}
	for i := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rows, err := d.Derive(ctx, lookup, &sources[i])
		if err != nil {
			if !errors.Is(err, integration.ErrValidation) {
				return result, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, err)
			log.Warn("Skipping source row", zap.String("vendor_id", sources[i].VendorID), zap.Error(err))
			continue
		}
		for _, rec := range rows {
			rec.TransformedAt = t.now().UTC()
			if err := rec.ComputeHash(); err != nil {
				return result, fmt.Errorf("hash %s %s: %w", component, rec.VendorID, err)
			}
			written, err := t.normalized.Upsert(ctx, rec)
			if err != nil {
				return result, err
			}
			result.Normalized++
			if written {
				result.Written++
			}
		}
	}

	log.Debug("Derive pass finished",
		zap.String("source", string(d.Source)),
		zap.Int("sources", len(sources)),
		zap.Int("normalized", result.Normalized),
		zap.Int("written", result.Written),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// loadInput merges the window's staged records with the pending ones, ordered
// by vendor id. Pending rows whose staged record no longer exists are dropped.
func (t *Transformer) loadInput(ctx context.Context, integrationID uuid.UUID, component integration.Component, window integration.Window) ([]integration.RawRecord, map[string]bool, error) {
	raws, err := t.staging.FindInWindow(ctx, integrationID, component, window)
	if err != nil {
		return nil, nil, err
	}
	pendings, err := t.pending.ListByComponent(ctx, integrationID, component)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(raws))
	for _, r := range raws {
		seen[r.VendorID] = true
	}
	pendingIDs := make(map[string]bool, len(pendings))
	var missing []string
	for _, p := range pendings {
		pendingIDs[p.VendorID] = true
		if !seen[p.VendorID] {
			missing = append(missing, p.VendorID)
		}
	}

	if len(missing) > 0 {
		extra, err := t.staging.FindByVendorIDs(ctx, integrationID, component, missing)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range extra {
			seen[r.VendorID] = true
		}
		raws = append(raws, extra...)
		for _, id := range missing {
			if seen[id] {
				continue
			}
			if err := t.pending.Resolve(ctx, integrationID, component, id); err != nil {
				return nil, nil, err
			}
			delete(pendingIDs, id)
		}
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].VendorID < raws[j].VendorID })
	return raws, pendingIDs, nil
}

func (t *Transformer) deferRecord(ctx context.Context, raw *integration.RawRecord, ref integration.Reference, result *TransformResult) error {
	refErr := &integration.ReferenceUnresolvedError{
		Component:    raw.Component,
		VendorID:     raw.VendorID,
		RefComponent: ref.Component,
		RefVendorID:  ref.VendorID,
	}
	attempts, err := t.pending.Defer(ctx, &integration.PendingReference{
		IntegrationID: raw.IntegrationID,
		Component:     raw.Component,
		VendorID:      raw.VendorID,
		RefComponent:  ref.Component,
		RefVendorID:   ref.VendorID,
		LastError:     refErr.Error(),
	})
	if err != nil {
		return err
	}
	if attempts <= t.maxDeferrals {
		result.Deferred++
		return nil
	}

	if err := t.pending.Resolve(ctx, raw.IntegrationID, raw.Component, raw.VendorID); err != nil {
		return err
	}
	result.Skipped++
	result.Errors = append(result.Errors, &integration.ValidationError{
		Component: raw.Component,
		VendorID:  raw.VendorID,
		Reason:    fmt.Sprintf("reference unresolved after %d attempts", attempts),
		Err:       refErr,
	})
	t.logger.Warn("Giving up on deferred record",
		zap.String("integration_id", raw.IntegrationID.String()),
		zap.String("component", string(raw.Component)),
		zap.String("vendor_id", raw.VendorID),
		zap.Int("attempts", attempts),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Reference lookups
// ---------------------------------------------------------------------------

// refCache memoizes normalized-row existence for one pass
type refCache struct {
	repo          integration.NormalizedRepository
	integrationID uuid.UUID
	known         map[integration.Reference]bool
}

func newRefCache(repo integration.NormalizedRepository, integrationID uuid.UUID) *refCache {
	return &refCache{repo: repo, integrationID: integrationID, known: make(map[integration.Reference]bool)}
}

func (c *refCache) mark(component integration.Component, vendorID string) {
	c.known[integration.Reference{Component: component, VendorID: vendorID}] = true
}

// firstMissing returns the first unresolved reference in name order, or nil
func (c *refCache) firstMissing(ctx context.Context, refs map[string]integration.Reference) (*integration.Reference, error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := refs[name]
		exists, ok := c.known[ref]
		if !ok {
			var err error
			exists, err = c.repo.Exists(ctx, c.integrationID, ref.Component, ref.VendorID)
			if err != nil {
				return nil, err
			}
			// only positive answers are stable within a pass
			if exists {
				c.known[ref] = true
			}
		}
		if !exists {
			return &ref, nil
		}
	}
	return nil, nil
}
