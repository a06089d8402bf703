package payment

// WagePolicy computes the gateway fee added on top of an order amount.
type WagePolicy interface {
	Wage(amount int64) int64
}

// SepWage is Sep's tiered fee, in toman.
type SepWage struct{}

func (SepWage) Wage(amount int64) int64 {
	switch {
	case amount < 600_000:
		return 120
	case amount < 20_000_000:
		// 0.02%
		return amount * 2 / 10_000
	default:
		return 4000
	}
}
