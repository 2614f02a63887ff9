package types

import "time"

type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Balance holds the spot balance of a single asset. InterestBearing is the
// portion parked in the venue's savings/earn product, if the venue has one.
type Balance struct {
	Asset           string
	Free            float64
	Locked          float64
	InterestBearing float64
}

// Total returns the full holding across spot wallet and savings.
func (b Balance) Total() float64 {
	return b.Free + b.Locked + b.InterestBearing
}
