// README: Money value object for per-seat prices quoted by drivers.
package types

// DefaultCurrency is used when a driver offer omits one.
const DefaultCurrency = "COP"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}
