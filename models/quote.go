package models

import (
	"time"
)

// Classification identifies what kind of instrument a symbol is.
type Classification string

const (
	ClassSecurity Classification = "security"
	ClassOption   Classification = "option"
	ClassRepo     Classification = "repo"
)

// Instrument holds the static metadata of one tradable symbol as
// delivered by the provider listing.
type Instrument struct {
	Symbol         string         `json:"symbol"`
	Classification Classification `json:"classification"`
	CFICode        string         `json:"cficode,omitempty"`
	Strike         float64        `json:"strike,omitempty"`
	Expiration     string         `json:"expiration,omitempty"`
	TenorDays      int            `json:"tenor_days,omitempty"`
	LastSeen       time.Time      `json:"last_seen"`
}

// IsOption reports whether the provider CFI code marks this instrument
// as a call (OCASPS) or put (OPASPS) option.
func (i Instrument) IsOption() bool {
	return i.CFICode == "OCASPS" || i.CFICode == "OPASPS"
}

// RawQuoteMessage is one provider-native update handed off from the
// feed session to the normalizer. Payload is the untouched wire JSON.
type RawQuoteMessage struct {
	Symbol   string
	Payload  []byte
	Received time.Time
}

// CanonicalQuote is the normalized, provider-independent view of one
// market update. Zero on a price field means the side was absent from
// the message; Symbol is always set.
type CanonicalQuote struct {
	Symbol         string         `json:"symbol"`
	Classification Classification `json:"classification"`
	BidSize        int64          `json:"bid_size"`
	Bid            float64        `json:"bid"`
	Ask            float64        `json:"ask"`
	AskSize        int64          `json:"ask_size"`
	Last           float64        `json:"last"`
	Change         float64        `json:"change"`
	Open           float64        `json:"open"`
	High           float64        `json:"high"`
	Low            float64        `json:"low"`
	PreviousClose  float64        `json:"previous_close"`
	Turnover       float64        `json:"turnover"`
	Volume         int64          `json:"volume"`
	Operations     int64          `json:"operations"`
	Timestamp      time.Time      `json:"timestamp"`
}

// FieldVector returns the fourteen sink columns in their fixed order
// (bid_size .. datetime), matching the sheet layout B..O.
func (q CanonicalQuote) FieldVector() []any {
	return []any{
		q.BidSize,
		q.Bid,
		q.Ask,
		q.AskSize,
		q.Last,
		q.Change,
		q.Open,
		q.High,
		q.Low,
		q.PreviousClose,
		q.Turnover,
		q.Volume,
		q.Operations,
		q.Timestamp.Format("2006-01-02 15:04:05"),
	}
}

// QuoteFieldCount is the number of columns in FieldVector.
const QuoteFieldCount = 14
