// Package settings holds the per-company display settings (decimal places,
// date formats). Settings are display-only data, so every failure path falls
// back to hard-coded defaults: downstream formatting code never observes an
// absent value.
package settings

// Display is the settings record the backend returns per company.
type Display struct {
	AmountDecimals   int    `json:"amountDecimals"`
	QuantityDecimals int    `json:"quantityDecimals"`
	RateDecimals     int    `json:"rateDecimals"`
	DateFormat       string `json:"dateFormat"`
	ThousandsSep     string `json:"thousandsSeparator"`
}

// Defaults returns the fallback settings used whenever the fetch fails or
// returns nothing.
func Defaults() Display {
	return Display{
		AmountDecimals:   2,
		QuantityDecimals: 2,
		RateDecimals:     4,
		DateFormat:       "02/01/2006",
		ThousandsSep:     ",",
	}
}

// Normalize collapses the backend's zero-or-more settings records into the
// single record the rest of the client consumes: the first record wins, and
// an empty list substitutes the defaults.
func Normalize(records []Display) Display {
	if len(records) == 0 {
		return Defaults()
	}
	return records[0]
}
