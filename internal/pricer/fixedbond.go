package pricer

import (
	"fmt"

	"riskrun/internal/models"
)

// PriceFixedBond values a fixed-coupon bullet bond off the zero curve for
// the position's currency (plus the credit-spread curve when present).
//
// Instrument attributes: coupon_rate, maturity_years, frequency (payments
// per year, default 2), accrual_fraction (elapsed fraction of the current
// coupon period, default 0).
//
// DV01 is computed by an internal +1bp parallel re-price:
// DV01 = (PV - PV_bumped) / 0.0001.
func PriceFixedBond(pos models.Position, instrument map[string]any, snap models.SnapshotPayload, measures []string, scenarioID string) (map[string]float64, error) {
	notional := pos.Attributes.Notional
	coupon := numField(instrument, "coupon_rate", 0)
	maturity := numField(instrument, "maturity_years", 0)
	freq := numField(instrument, "frequency", 2)
	accrualFrac := numField(instrument, "accrual_fraction", 0)

	if maturity <= 0 || freq <= 0 {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: "maturity_years and frequency must be positive"}
	}

	disc, err := newDiscounter(snap, pos.Attributes.Currency, true)
	if err != nil {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: err.Error()}
	}

	pv := bondPV(notional, coupon, maturity, freq, disc)

	out := make(map[string]float64, len(measures))
	for _, m := range measures {
		switch m {
		case models.MeasurePV:
			out[m] = pv
		case models.MeasureDV01:
			bumped := bondPV(notional, coupon, maturity, freq, disc.withBump(RatesBump))
			out[m] = (pv - bumped) / RatesBump
		case models.MeasureAccruedInterest:
			out[m] = notional * (coupon / freq) * accrualFrac
		case models.MeasureFXDelta:
			// No spot exposure: value moves only with the discount curve.
			out[m] = 0
		default:
			return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("unsupported measure %s", m)}
		}
	}
	return out, nil
}

func bondPV(notional, coupon, maturity, freq float64, disc *discounter) float64 {
	n := int(maturity*freq + 0.5)
	pv := 0.0
	for i := 1; i <= n; i++ {
		t := float64(i) / freq
		pv += notional * (coupon / freq) * disc.df(t)
	}
	pv += notional * disc.df(maturity)
	return pv
}
