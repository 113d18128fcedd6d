package feed

import "encoding/json"

// defaultEntries is the full set of market data entries requested on
// subscription: book tops, last trade, session stats and counters.
var defaultEntries = []string{"BI", "OF", "LA", "OP", "CL", "HI", "LO", "EV", "NV", "TC"}

const defaultMarketID = "ROFX"

type instrumentID struct {
	MarketID string `json:"marketId"`
	Symbol   string `json:"symbol"`
}

type instrumentDetail struct {
	InstrumentID instrumentID `json:"instrumentId"`
	CFICode      string       `json:"cficode"`
	StrikePrice  float64      `json:"strikePrice"`
	MaturityDate string       `json:"maturityDate"`
}

type instrumentsResponse struct {
	Status      string             `json:"status"`
	Instruments []instrumentDetail `json:"instruments"`
}

// subscribeRequest asks for level-1 market data on a product list.
type subscribeRequest struct {
	Type     string         `json:"type"`
	Level    int            `json:"level"`
	Entries  []string       `json:"entries"`
	Products []instrumentID `json:"products"`
}

func newSubscribeRequest(symbols []string) subscribeRequest {
	products := make([]instrumentID, len(symbols))
	for i, s := range symbols {
		products[i] = instrumentID{MarketID: defaultMarketID, Symbol: s}
	}
	return subscribeRequest{
		Type:     "smd",
		Level:    1,
		Entries:  defaultEntries,
		Products: products,
	}
}

// marketDataMessage is the envelope of one inbound update. MarketData
// is kept raw; the normalizer owns its interpretation.
type marketDataMessage struct {
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	InstrumentID instrumentID    `json:"instrumentId"`
	MarketData   json.RawMessage `json:"marketData"`
}
