package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quotesync/config"
	"quotesync/internal/channel"
	"quotesync/logger"
	"quotesync/models"
)

// State is the connection lifecycle state owned by the Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrExhausted is returned by Run when the reconnect budget is spent.
// It is terminal; recovery requires operator intervention.
var ErrExhausted = errors.New("reconnect attempts exhausted")

// SessionHandle is one live feed connection as seen by the Manager.
type SessionHandle interface {
	Subscribe(symbols []string) error
	Messages() <-chan models.RawQuoteMessage
	Errors() <-chan error
	Close() error
}

// Connector abstracts the provider client so the state machine can be
// tested without a network.
type Connector interface {
	Login(ctx context.Context) error
	Connect(ctx context.Context) (SessionHandle, error)
}

// Manager drives the feed session: connect, subscribe the full symbol
// universe, pump messages into the raw channel, and reconnect with
// escalating backoff when the transport fails.
type Manager struct {
	cfg       config.FeedConfig
	connector Connector
	symbols   []string
	ch        *channel.Channels
	log       *logger.Log

	state      atomic.Int32
	attempts   atomic.Int32
	reconnects atomic.Int64

	mu          sync.Mutex
	running     bool
	connectedAt time.Time
	lastErr     string
}

func NewManager(cfg config.FeedConfig, connector Connector, symbols []string, ch *channel.Channels) *Manager {
	return &Manager{
		cfg:       cfg,
		connector: connector,
		symbols:   symbols,
		ch:        ch,
		log:       logger.GetLogger(),
	}
}

// Status is a point-in-time report of the connection state. NextDelay
// is the backoff that would precede the next reconnect attempt.
type Status struct {
	State           State
	Attempts        int
	Subscribed      int
	TotalReconnects int64
	NextDelay       time.Duration
	ConnectedAt     time.Time
	LastError       string
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempts := int(m.attempts.Load())
	return Status{
		State:           State(m.state.Load()),
		Attempts:        attempts,
		Subscribed:      len(m.symbols),
		TotalReconnects: m.reconnects.Load(),
		NextDelay:       m.backoffDelay(attempts + 1),
		ConnectedAt:     m.connectedAt,
		LastError:       m.lastErr,
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Run blocks until ctx is cancelled or the reconnect budget is spent.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("feed manager already running")
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	log := m.log.WithComponent("feed_manager")
	log.WithFields(logger.Fields{"symbols": len(m.symbols)}).Info("starting feed manager")

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateConnecting)
		sess, err := m.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return nil
			}
			log.WithError(err).Warn("connection attempt failed")
			if cont, rerr := m.retry(ctx, err); !cont {
				return rerr
			}
			continue
		}

		m.attempts.Store(0)
		m.setState(StateConnected)
		m.mu.Lock()
		m.connectedAt = time.Now()
		m.mu.Unlock()
		log.Info("feed connected and subscribed")

		shutdown, err := m.consume(ctx, sess)
		if shutdown {
			m.setState(StateDisconnected)
			log.Info("feed manager stopped")
			return nil
		}

		log.WithError(err).Warn("feed session lost")
		if cont, rerr := m.retry(ctx, err); !cont {
			return rerr
		}
	}
}

// establish performs login, dial and the full subscription. A partial
// subscription after reconnect would silently starve the sink, so any
// subscribe failure tears the session down.
func (m *Manager) establish(ctx context.Context) (SessionHandle, error) {
	if err := m.connector.Login(ctx); err != nil {
		return nil, err
	}
	sess, err := m.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Subscribe(m.symbols); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// consume pumps the session until shutdown or a connection-class
// failure. Message-level errors never tear down a live session.
func (m *Manager) consume(ctx context.Context, sess SessionHandle) (shutdown bool, err error) {
	log := m.log.WithComponent("feed_manager")

	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return true, nil

		case err := <-sess.Errors():
			if err == nil {
				continue
			}
			if IsConnError(err) {
				sess.Close()
				return false, err
			}
			log.WithError(err).Warn("non-fatal feed error")

		case msg, ok := <-sess.Messages():
			if !ok {
				sess.Close()
				return false, &ConnError{Op: "read", Err: errors.New("message stream closed")}
			}
			if m.ch.SendRaw(ctx, msg) {
				logger.IncrementFeedRead(len(msg.Payload))
			} else if ctx.Err() == nil {
				log.Warn("raw channel full, dropping message")
			}
		}
	}
}

// retry applies the backoff schedule. It returns false when the
// manager must stop, either exhausted or cancelled.
func (m *Manager) retry(ctx context.Context, cause error) (bool, error) {
	attempt := int(m.attempts.Add(1))
	m.mu.Lock()
	m.lastErr = cause.Error()
	m.mu.Unlock()

	if attempt >= m.cfg.MaxAttempts {
		m.setState(StateExhausted)
		m.log.WithComponent("feed_manager").WithFields(logger.Fields{
			"attempts": attempt,
		}).Error("reconnect attempts exhausted")
		return false, ErrExhausted
	}

	m.setState(StateReconnecting)
	delay := m.backoffDelay(attempt)
	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"attempt":   attempt,
		"delay_sec": int(delay.Seconds()),
	}).Warn("reconnecting after backoff")
	m.reconnects.Add(1)
	logger.IncrementReconnect()

	select {
	case <-ctx.Done():
		m.setState(StateDisconnected)
		return false, nil
	case <-time.After(delay):
		return true, nil
	}
}

// backoffDelay returns the delay before the given attempt (1-based).
// The schedule is capped at its last entry.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	schedule := m.cfg.BackoffSeconds
	if len(schedule) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return time.Duration(schedule[idx]) * time.Second
}
