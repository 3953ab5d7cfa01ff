// Package pricer holds the pricing dispatch contract: a registry mapping
// product types onto pure pricing functions, plus scenario application.
package pricer

import (
	"errors"
	"fmt"
	"math"

	"riskrun/internal/models"
)

// Func is the uniform pricer signature. Implementations are pure: same
// inputs, same outputs, no side effects. The returned map contains exactly
// the requested measures.
type Func func(pos models.Position, instrument map[string]any, snap models.SnapshotPayload, measures []string, scenarioID string) (map[string]float64, error)

// ErrUnknownProduct marks a dispatch failure. It is terminal: retrying a
// product type nobody registered cannot succeed.
var ErrUnknownProduct = errors.New("unknown product type")

// Error is a caught pricing failure. It counts against the task's attempt
// budget but is not immediately terminal.
type Error struct {
	ProductType string
	PositionID  string
	Reason      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pricer %s failed for position %s: %s", e.ProductType, e.PositionID, e.Reason)
}

// Registry maps product_type (uppercase) to a pricing function. It is
// populated once at process startup and read-only afterwards.
type Registry struct {
	pricers map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{pricers: make(map[string]Func)}
}

func (r *Registry) Register(productType string, fn Func) {
	r.pricers[productType] = fn
}

func (r *Registry) Lookup(productType string) (Func, bool) {
	fn, ok := r.pricers[productType]
	return fn, ok
}

// RegisterBuiltins installs the initial pricer set.
func RegisterBuiltins(r *Registry) {
	r.Register("FIXED_BOND", PriceFixedBond)
	r.Register("AMORT_LOAN", PriceAmortLoan)
	r.Register("FX_FWD", PriceFXForward)
}

// Price dispatches one (position, scenario) pair and validates the output:
// every requested measure present, nothing extra, all values finite.
func (r *Registry) Price(pos models.Position, snap models.SnapshotPayload, measures []string, scenarioID string) (map[string]float64, error) {
	fn, ok := r.Lookup(pos.ProductType)
	if !ok {
		return nil, fmt.Errorf("product type %q: %w", pos.ProductType, ErrUnknownProduct)
	}

	vals, err := fn(pos, pos.Attributes.Instrument, snap, measures, scenarioID)
	if err != nil {
		return nil, err
	}

	for _, m := range measures {
		v, ok := vals[m]
		if !ok {
			return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("measure %s missing from output", m)}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("measure %s is not finite", m)}
		}
	}
	if len(vals) != len(measures) {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: "output has measures that were not requested"}
	}
	return vals, nil
}

// numField reads a numeric instrument attribute. JSON decoding leaves
// numbers as float64.
func numField(instrument map[string]any, key string, def float64) float64 {
	if v, ok := instrument[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func strField(instrument map[string]any, key string) string {
	if v, ok := instrument[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
