package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"quotesync/config"
	"quotesync/logger"
	"quotesync/models"
)

const (
	authPath        = "auth/getToken"
	instrumentsPath = "rest/instruments/details"
	authTokenHeader = "X-Auth-Token"
)

// Client talks to the provider: REST for authentication and the
// instrument listing, websocket for the market data stream.
type Client struct {
	cfg     config.ProviderConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.ProviderConfig) *Client {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// Login authenticates against the REST API. The session token comes
// back in a response header and is attached to every later call.
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+authPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("X-Username", c.cfg.Username)
	req.Header.Set("X-Password", c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication failed: status %d", resp.StatusCode)
	}

	token := resp.Header.Get(authTokenHeader)
	if token == "" {
		return fmt.Errorf("authentication response missing %s header", authTokenHeader)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.log.WithComponent("feed_client").Info("authenticated with provider")
	return nil
}

func (c *Client) authToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchInstruments downloads the detailed instrument listing. It
// satisfies the registry's Fetcher interface.
func (c *Client) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	return c.fetchInstruments(ctx, true)
}

func (c *Client) fetchInstruments(ctx context.Context, allowRelogin bool) ([]models.Instrument, error) {
	if c.authToken() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+instrumentsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build instruments request: %w", err)
	}
	req.Header.Set(authTokenHeader, c.authToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnError{Op: "fetch_instruments", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token expired; one re-login then retry. A 401 that survives a
		// fresh token is a permission problem, not a stale session, and
		// must surface so the registry can fall back to its snapshot.
		if !allowRelogin {
			return nil, fmt.Errorf("instruments request failed: status %d", resp.StatusCode)
		}
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		return c.fetchInstruments(ctx, false)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instruments request failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnError{Op: "fetch_instruments", Err: err}
	}

	var listing instrumentsResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse instrument listing: %w", err)
	}

	instruments := make([]models.Instrument, 0, len(listing.Instruments))
	for _, d := range listing.Instruments {
		if d.InstrumentID.Symbol == "" {
			continue
		}
		instruments = append(instruments, models.Instrument{
			Symbol:     d.InstrumentID.Symbol,
			CFICode:    d.CFICode,
			Strike:     d.StrikePrice,
			Expiration: d.MaturityDate,
		})
	}

	c.log.WithComponent("feed_client").WithFields(logger.Fields{
		"count": len(instruments),
	}).Info("fetched instrument listing")
	return instruments, nil
}

// Session is one live websocket connection. Messages and transport
// errors are delivered on channels so the manager can multiplex them
// with shutdown.
type Session struct {
	conn     *websocket.Conn
	messages chan models.RawQuoteMessage
	errs     chan error
	done     chan struct{}
	log      *logger.Log

	closeOnce sync.Once
}

// Connect dials the market data websocket and starts the read loop.
func (c *Client) Connect(ctx context.Context) (SessionHandle, error) {
	if c.authToken() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	header.Set(authTokenHeader, c.authToken())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		return nil, &ConnError{Op: "dial", Err: err}
	}

	s := &Session{
		conn:     conn,
		messages: make(chan models.RawQuoteMessage, 256),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		log:      c.log,
	}
	go s.readLoop()

	c.log.WithComponent("feed_client").WithFields(logger.Fields{
		"url": c.cfg.WSURL,
	}).Info("websocket connected")
	return s, nil
}

// Subscribe requests level-1 market data for the full symbol list in
// a single message.
func (s *Session) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	if err := s.conn.WriteJSON(newSubscribeRequest(symbols)); err != nil {
		return &ConnError{Op: "subscribe", Err: err}
	}
	return nil
}

func (s *Session) Messages() <-chan models.RawQuoteMessage {
	return s.messages
}

func (s *Session) Errors() <-chan error {
	return s.errs
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// deliver hands a message to the consumer without wedging the read
// loop: once the session is closed nobody drains the buffer, so a
// pending send must abort instead of blocking forever.
func (s *Session) deliver(msg models.RawQuoteMessage) bool {
	select {
	case s.messages <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readLoop() {
	defer close(s.messages)
	log := s.log.WithComponent("feed_session")

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- &ConnError{Op: "read", Err: err}:
			default:
			}
			return
		}

		var env marketDataMessage
		if err := json.Unmarshal(payload, &env); err != nil {
			log.WithError(err).Warn("discarding unparseable message")
			continue
		}
		if env.Type != "Md" || env.InstrumentID.Symbol == "" {
			continue
		}

		if !s.deliver(models.RawQuoteMessage{
			Symbol:   env.InstrumentID.Symbol,
			Payload:  payload,
			Received: time.Now(),
		}) {
			return
		}
	}
}
