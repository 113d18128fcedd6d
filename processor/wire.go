package processor

import "encoding/json"

// numberOrPrice accepts the provider's two encodings of a price-like
// field: a bare number, or an object carrying a "price" key. Anything
// unparseable is treated as absent rather than failing the message.
type numberOrPrice struct {
	Value   float64
	Present bool
}

func (v *numberOrPrice) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		v.Value = num
		v.Present = true
		return nil
	}

	var obj struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		v.Value = obj.Price
		v.Present = true
		return nil
	}

	v.Value = 0
	v.Present = false
	return nil
}

// priceLevel is one entry of a bid or offer list.
type priceLevel struct {
	Price numberOrPrice `json:"price"`
	Size  numberOrPrice `json:"size"`
}

// levelList tolerates a malformed side list by treating it as empty.
type levelList []priceLevel

func (l *levelList) UnmarshalJSON(data []byte) error {
	var levels []priceLevel
	if err := json.Unmarshal(data, &levels); err != nil {
		*l = nil
		return nil
	}
	*l = levels
	return nil
}

// lastTrade is the nested last-trade record.
type lastTrade struct {
	Price numberOrPrice `json:"price"`
	Size  numberOrPrice `json:"size"`
	Date  int64         `json:"date"`
}

// wireMarketData mirrors the provider's marketData payload. Entry
// names follow the wire format.
type wireMarketData struct {
	BI levelList     `json:"BI"` // bid levels
	OF levelList     `json:"OF"` // offer levels
	LA *lastTrade    `json:"LA"` // last trade
	OP numberOrPrice `json:"OP"` // session open
	CL numberOrPrice `json:"CL"` // previous close
	HI numberOrPrice `json:"HI"` // session high
	LO numberOrPrice `json:"LO"` // session low
	EV numberOrPrice `json:"EV"` // effective volume (turnover)
	NV numberOrPrice `json:"NV"` // nominal volume
	TC numberOrPrice `json:"TC"` // trade count
}

func (md wireMarketData) lastPrice() float64 {
	if md.LA == nil {
		return 0
	}
	return md.LA.Price.Value
}
