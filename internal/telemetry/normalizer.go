package telemetry

import (
	"fmt"
)

// BatchNormalizer is the default Normalizer. It holds no per-batch state and is
// safe for concurrent use as long as its allocator is.
type BatchNormalizer struct {
	allocator IdentityAllocator
}

type Option func(*BatchNormalizer)

// WithAllocator replaces the default one-pass identity allocator.
func WithAllocator(a IdentityAllocator) Option {
	return func(n *BatchNormalizer) {
		if a != nil {
			n.allocator = a
		}
	}
}

func NewBatchNormalizer(opts ...Option) *BatchNormalizer {
	n := &BatchNormalizer{allocator: OnePassAllocator{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize never fails: every input record yields exactly one result, in
// input order. Values that could not be used are replaced and reported as
// notices on the result.
func (n *BatchNormalizer) Normalize(batch []RawRecord) []Result {
	results := make([]Result, len(batch))
	candidates := make([]float64, len(batch))

	for i, raw := range batch {
		rec, notices := coerceRecord(raw)
		cd, notice := candidateIdentity(raw)
		if notice != nil {
			notices = append(notices, *notice)
		}
		candidates[i] = cd
		results[i] = Result{Record: rec, Notices: notices}
	}

	for i, cd := range n.allocator.Assign(candidates) {
		results[i].Record.VehicleCD = cd
	}
	return results
}

// NormalizeStrict normalizes the batch and returns a *CoercionError for the
// first record that needed a substitution. The results are returned either way.
func (n *BatchNormalizer) NormalizeStrict(batch []RawRecord) ([]Result, error) {
	results := n.Normalize(batch)
	for i, r := range results {
		if len(r.Notices) > 0 {
			return results, &CoercionError{Index: i, Notices: r.Notices}
		}
	}
	return results, nil
}

// Normalize runs the default normalizer over a batch.
func Normalize(batch []RawRecord) []Result {
	return NewBatchNormalizer().Normalize(batch)
}

func coerceRecord(raw RawRecord) (Record, []Notice) {
	var (
		rec     Record
		notices []Notice
	)

	for _, f := range numericFields {
		v, present := raw[f.name]
		if !present {
			continue
		}
		num, ok, reason := coerceNumber(v)
		if !ok {
			notices = append(notices, Notice{Field: f.name, Raw: v, Reason: reason})
		}
		*f.ref(&rec) = &num
	}

	if v, present := raw[FieldVehicleName]; present {
		if v == nil {
			rec.nullName = true
		} else {
			name := fmt.Sprint(v)
			rec.VehicleName = &name
		}
	}
	rec.DataDateTime = RewriteDateTime(raw[FieldDataDateTime])

	for k, v := range raw {
		if isKnownField(k) {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec, notices
}

func candidateIdentity(raw RawRecord) (float64, *Notice) {
	if v := raw[FieldVehicleCD]; usableCode(v) {
		num, ok, reason := coerceNumber(v)
		if !ok {
			return num, &Notice{Field: FieldVehicleCD, Raw: v, Reason: reason}
		}
		return num, nil
	}

	var name string
	if v, ok := raw[FieldVehicleName]; ok && v != nil {
		name = fmt.Sprint(v)
	}
	return DeriveIdentity(name), nil
}
