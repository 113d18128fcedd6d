package processor

import (
	"context"
	"math"
	"testing"
	"time"

	"quotesync/config"
	"quotesync/internal/channel"
	"quotesync/models"
)

type stubClassifier struct {
	class models.Classification
}

func (s stubClassifier) Classify(symbol string) models.Classification { return s.class }

func newTestNormalizer(class models.Classification) *Normalizer {
	return NewNormalizer(config.ProcessorConfig{MaxWorkers: 1}, stubClassifier{class: class}, nil)
}

const fullMessage = `{
	"type": "Md",
	"instrumentId": {"marketId": "ROFX", "symbol": "MERV - XMEV - YPFD - 24hs"},
	"marketData": {
		"BI": [{"price": 150.5, "size": 1000}],
		"OF": [{"price": 151.0, "size": 500}],
		"LA": {"price": 100.5, "size": 10, "date": 1727445045000},
		"OP": 150.25,
		"CL": {"price": 100.0},
		"HI": 151.5,
		"LO": 149.8,
		"EV": 1500000,
		"NV": 10000,
		"TC": 45
	}
}`

func TestNormalizeFullMessage(t *testing.T) {
	n := newTestNormalizer(models.ClassSecurity)
	q, ok := n.Normalize(models.RawQuoteMessage{
		Symbol:   "MERV - XMEV - YPFD - 24hs",
		Payload:  []byte(fullMessage),
		Received: time.Now(),
	})
	if !ok {
		t.Fatalf("full message dropped")
	}

	if q.Bid != 150.5 || q.BidSize != 1000 {
		t.Errorf("bid side: %v/%v", q.Bid, q.BidSize)
	}
	if q.Ask != 151.0 || q.AskSize != 500 {
		t.Errorf("ask side: %v/%v", q.Ask, q.AskSize)
	}
	if q.Last != 100.5 || q.PreviousClose != 100.0 {
		t.Errorf("last/close: %v/%v", q.Last, q.PreviousClose)
	}
	if math.Abs(q.Change-0.005) > 1e-9 {
		t.Errorf("change = %v, want 0.005", q.Change)
	}
	if q.Open != 150.25 || q.High != 151.5 || q.Low != 149.8 {
		t.Errorf("session stats: %v/%v/%v", q.Open, q.High, q.Low)
	}
	if q.Turnover != 1500000 || q.Volume != 10000 || q.Operations != 45 {
		t.Errorf("volume stats: %v/%v/%v", q.Turnover, q.Volume, q.Operations)
	}
}

func TestNormalizeMissingAskSide(t *testing.T) {
	payload := `{"instrumentId":{"symbol":"S"},"marketData":{"BI":[{"price":10,"size":5}]}}`
	n := newTestNormalizer(models.ClassSecurity)
	q, ok := n.Normalize(models.RawQuoteMessage{Symbol: "S", Payload: []byte(payload)})
	if !ok {
		t.Fatalf("partial message must not be dropped")
	}
	if q.Bid != 10 || q.Ask != 0 || q.AskSize != 0 {
		t.Fatalf("unexpected sides: %+v", q)
	}
}

func TestNormalizeMalformedFieldsDefault(t *testing.T) {
	payload := `{"instrumentId":{"symbol":"S"},"marketData":{"BI":"garbage","OP":"not-a-number","LA":{"price":12.5}}}`
	n := newTestNormalizer(models.ClassSecurity)
	q, ok := n.Normalize(models.RawQuoteMessage{Symbol: "S", Payload: []byte(payload)})
	if !ok {
		t.Fatalf("message with bad fields must not be dropped")
	}
	if q.Bid != 0 || q.Open != 0 {
		t.Fatalf("bad fields should default to zero: %+v", q)
	}
	if q.Last != 12.5 {
		t.Fatalf("good fields must survive bad siblings: %+v", q)
	}
}

func TestNormalizeMissingSymbolDrops(t *testing.T) {
	n := newTestNormalizer(models.ClassSecurity)
	if _, ok := n.Normalize(models.RawQuoteMessage{Payload: []byte(`{"marketData":{}}`)}); ok {
		t.Fatalf("message without symbol must be dropped")
	}
}

func TestNormalizeZeroCloseNoChange(t *testing.T) {
	payload := `{"instrumentId":{"symbol":"S"},"marketData":{"LA":{"price":10},"CL":0}}`
	n := newTestNormalizer(models.ClassSecurity)
	q, ok := n.Normalize(models.RawQuoteMessage{Symbol: "S", Payload: []byte(payload)})
	if !ok {
		t.Fatalf("message dropped")
	}
	if q.Change != 0 {
		t.Fatalf("change must be 0 when previous close is 0, got %v", q.Change)
	}
}

func TestWorkerPipesQuotes(t *testing.T) {
	ch := channel.NewChannels(8, 8)
	n := NewNormalizer(config.ProcessorConfig{MaxWorkers: 1}, stubClassifier{class: models.ClassOption}, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch.SendRaw(ctx, models.RawQuoteMessage{Symbol: "OPT", Payload: []byte(fullMessage)})

	select {
	case q := <-ch.Quotes:
		if q.Symbol != "OPT" || q.Classification != models.ClassOption {
			t.Fatalf("unexpected quote: %+v", q)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("quote never produced")
	}

	cancel()
	n.Stop()
}
