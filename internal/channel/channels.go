package channel

import (
	"context"
	"sync"

	"quotesync/logger"
	"quotesync/models"
)

// ChannelStats counts traffic through the handoff channels.
type ChannelStats struct {
	RawSent      int64
	QuoteSent    int64
	RawDropped   int64
	QuoteDropped int64
}

// Channels carries messages between the pipeline stages: the feed
// session pushes raw provider messages into Raw, the normalizer pushes
// canonical quotes into Quotes, and the sink synchronizer drains
// Quotes on its own schedule. Sends never block; a full buffer drops
// the message and bumps a counter.
type Channels struct {
	Raw    chan models.RawQuoteMessage
	Quotes chan models.CanonicalQuote

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, quoteBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:    make(chan models.RawQuoteMessage, rawBufferSize),
		Quotes: make(chan models.CanonicalQuote, quoteBufferSize),
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":   rawBufferSize,
		"quote_buffer_size": quoteBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Quotes)
	c.log.WithComponent("channels").Info("channels closed")
}

func (c *Channels) SendRaw(ctx context.Context, msg models.RawQuoteMessage) bool {
	select {
	case c.Raw <- msg:
		c.incr(func(s *ChannelStats) { s.RawSent++ })
		logger.RecordChannelMessage("feed_raw", len(msg.Payload))
		return true
	case <-ctx.Done():
		return false
	default:
		c.incr(func(s *ChannelStats) { s.RawDropped++ })
		return false
	}
}

func (c *Channels) SendQuote(ctx context.Context, q models.CanonicalQuote) bool {
	select {
	case c.Quotes <- q:
		c.incr(func(s *ChannelStats) { s.QuoteSent++ })
		logger.RecordChannelMessage("quotes", models.QuoteFieldCount)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incr(func(s *ChannelStats) { s.QuoteDropped++ })
		return false
	}
}

func (c *Channels) incr(f func(*ChannelStats)) {
	c.statsMutex.Lock()
	f(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
