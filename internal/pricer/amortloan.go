package pricer

import (
	"fmt"

	"riskrun/internal/models"
)

// PriceAmortLoan values an equal-principal amortizing loan: every period
// repays notional/n plus interest on the outstanding balance, each cashflow
// discounted off the zero+spread curve.
//
// Instrument attributes: rate, maturity_years, frequency (default 2),
// accrual_fraction (default 0).
func PriceAmortLoan(pos models.Position, instrument map[string]any, snap models.SnapshotPayload, measures []string, scenarioID string) (map[string]float64, error) {
	notional := pos.Attributes.Notional
	rate := numField(instrument, "rate", 0)
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

	pv := loanPV(notional, rate, maturity, freq, disc)

	out := make(map[string]float64, len(measures))
	for _, m := range measures {
		switch m {
		case models.MeasurePV:
			out[m] = pv
		case models.MeasureDV01:
			bumped := loanPV(notional, rate, maturity, freq, disc.withBump(RatesBump))
			out[m] = (pv - bumped) / RatesBump
		case models.MeasureAccruedInterest:
			// Interest accrues on the full outstanding balance.
			out[m] = notional * (rate / freq) * accrualFrac
		case models.MeasureFXDelta:
			out[m] = 0
		default:
			return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("unsupported measure %s", m)}
		}
	}
	return out, nil
}

func loanPV(notional, rate, maturity, freq float64, disc *discounter) float64 {
	n := int(maturity*freq + 0.5)
	if n == 0 {
		return 0
	}
	principal := notional / float64(n)
	outstanding := notional
	pv := 0.0
	for i := 1; i <= n; i++ {
		t := float64(i) / freq
		interest := outstanding * (rate / freq)
		pv += (principal + interest) * disc.df(t)
		outstanding -= principal
	}
	return pv
}
