package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quotesync/config"
	"quotesync/logger"
	"quotesync/models"
)

const testListing = `{"instruments":[{"instrumentId":{"symbol":"MERV - XMEV - YPFD - 24hs"},"cficode":"ESXXXX"}]}`

func newTestProvider(t *testing.T, instruments http.HandlerFunc) (*httptest.Server, config.ProviderConfig) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+authPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(authTokenHeader, "test-token")
	})
	mux.HandleFunc("/"+instrumentsPath, instruments)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, config.ProviderConfig{
		APIURL:    srv.URL + "/",
		Username:  "user",
		Password:  "pass",
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
}

func TestFetchInstrumentsPersistentUnauthorized(t *testing.T) {
	var hits atomic.Int32
	_, cfg := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewClient(cfg)
	done := make(chan error, 1)
	go func() {
		_, err := c.FetchInstruments(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("persistent 401 must surface as an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("FetchInstruments never returned; %d instrument requests", hits.Load())
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected one retry after re-login, got %d instrument requests", got)
	}
}

func TestFetchInstrumentsRecoversFromExpiredToken(t *testing.T) {
	var hits atomic.Int32
	_, cfg := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(testListing))
	})

	c := NewClient(cfg)
	instruments, err := c.FetchInstruments(context.Background())
	if err != nil {
		t.Fatalf("FetchInstruments: %v", err)
	}
	if len(instruments) != 1 || instruments[0].Symbol != "MERV - XMEV - YPFD - 24hs" {
		t.Fatalf("unexpected listing: %+v", instruments)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected exactly one retry, got %d instrument requests", got)
	}
}

func TestSessionCloseUnblocksReadLoop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		payload := []byte(`{"type":"Md","instrumentId":{"symbol":"MERV - XMEV - YPFD - 24hs"}}`)
		for i := 0; i < 16; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	s := &Session{
		conn:     conn,
		messages: make(chan models.RawQuoteMessage, 4),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		log:      logger.GetLogger(),
	}
	go s.readLoop()

	// Let the read loop fill the buffer and block on the next send.
	time.Sleep(100 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.messages:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("read loop still blocked after Close")
		}
	}
}
