package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quotesync/config"
	"quotesync/internal/channel"
	"quotesync/logger"
	"quotesync/models"
)

// Classifier routes a symbol to its sink layout. Satisfied by
// registry.Registry.
type Classifier interface {
	Classify(symbol string) models.Classification
}

// Normalizer converts provider-native update messages into canonical
// quotes. Extraction is defensive: a missing or malformed field
// becomes a typed default, never a dropped update. Only a missing
// symbol drops the message.
type Normalizer struct {
	cfg config.ProcessorConfig
	cls Classifier
	ch  *channel.Channels
	log *logger.Log

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	processed atomic.Int64
	dropped   atomic.Int64
}

func NewNormalizer(cfg config.ProcessorConfig, cls Classifier, ch *channel.Channels) *Normalizer {
	return &Normalizer{
		cfg: cfg,
		cls: cls,
		ch:  ch,
		log: logger.GetLogger(),
	}
}

// Start launches the worker pool draining the raw channel.
func (n *Normalizer) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("normalizer already running")
	}
	n.running = true
	n.mu.Unlock()

	workers := n.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	log := n.log.WithComponent("normalizer")
	log.WithFields(logger.Fields{"workers": workers}).Info("starting normalizer")

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker(ctx, i)
	}
	return nil
}

// Stop waits for the workers to drain.
func (n *Normalizer) Stop() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()

	n.wg.Wait()
	n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"processed": n.processed.Load(),
		"dropped":   n.dropped.Load(),
	}).Info("normalizer stopped")
}

// NormalizerStats reports message counters.
type NormalizerStats struct {
	Processed int64
	Dropped   int64
}

func (n *Normalizer) Stats() NormalizerStats {
	return NormalizerStats{
		Processed: n.processed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

func (n *Normalizer) worker(ctx context.Context, id int) {
	defer n.wg.Done()
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"worker": id})

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-n.ch.Raw:
			if !ok {
				return
			}
			quote, ok := n.Normalize(msg)
			if !ok {
				n.dropped.Add(1)
				continue
			}
			if n.ch.SendQuote(ctx, quote) {
				n.processed.Add(1)
			} else if ctx.Err() == nil {
				log.Warn("quote channel full, dropping quote")
			}
		}
	}
}

// Normalize builds a canonical quote from one raw message. The bool
// result is false when the message must be dropped.
func (n *Normalizer) Normalize(msg models.RawQuoteMessage) (models.CanonicalQuote, bool) {
	var env struct {
		InstrumentID struct {
			Symbol string `json:"symbol"`
		} `json:"instrumentId"`
		MarketData wireMarketData `json:"marketData"`
	}
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		n.log.WithComponent("normalizer").WithError(err).Warn("unparseable market data message")
		return models.CanonicalQuote{}, false
	}

	symbol := msg.Symbol
	if symbol == "" {
		symbol = env.InstrumentID.Symbol
	}
	if symbol == "" {
		return models.CanonicalQuote{}, false
	}

	md := env.MarketData
	q := models.CanonicalQuote{
		Symbol:        symbol,
		Last:          md.lastPrice(),
		Open:          md.OP.Value,
		High:          md.HI.Value,
		Low:           md.LO.Value,
		PreviousClose: md.CL.Value,
		Turnover:      md.EV.Value,
		Volume:        int64(md.NV.Value),
		Operations:    int64(md.TC.Value),
		Timestamp:     msg.Received,
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	// Best bid and offer sit at the head of each side's level list.
	if len(md.BI) > 0 {
		q.Bid = md.BI[0].Price.Value
		q.BidSize = int64(md.BI[0].Size.Value)
	}
	if len(md.OF) > 0 {
		q.Ask = md.OF[0].Price.Value
		q.AskSize = int64(md.OF[0].Size.Value)
	}

	if q.Last != 0 && q.PreviousClose != 0 {
		q.Change = q.Last/q.PreviousClose - 1
	}

	if n.cls != nil {
		q.Classification = n.cls.Classify(symbol)
	} else {
		q.Classification = models.ClassSecurity
	}
	return q, true
}
