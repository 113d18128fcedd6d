package models

import (
	"testing"
	"time"
)

func TestFieldVectorOrder(t *testing.T) {
	ts := time.Date(2025, 9, 27, 15, 30, 45, 0, time.UTC)
	q := CanonicalQuote{
		Symbol:        "MERV - XMEV - YPFD - 24hs",
		BidSize:       1000,
		Bid:           150.50,
		Ask:           151.00,
		AskSize:       500,
		Last:          150.75,
		Change:        0.005,
		Open:          150.25,
		High:          151.50,
		Low:           149.80,
		PreviousClose: 150.00,
		Turnover:      1500000,
		Volume:        10000,
		Operations:    45,
		Timestamp:     ts,
	}
	v := q.FieldVector()
	if len(v) != QuoteFieldCount {
		t.Fatalf("expected %d fields, got %d", QuoteFieldCount, len(v))
	}
	if v[0] != int64(1000) || v[1] != 150.50 || v[2] != 151.00 {
		t.Fatalf("unexpected head of vector: %v", v[:3])
	}
	if v[13] != "2025-09-27 15:30:45" {
		t.Fatalf("unexpected datetime cell: %v", v[13])
	}
}

func TestInstrumentIsOption(t *testing.T) {
	if !(Instrument{CFICode: "OCASPS"}).IsOption() {
		t.Fatalf("OCASPS should be an option")
	}
	if !(Instrument{CFICode: "OPASPS"}).IsOption() {
		t.Fatalf("OPASPS should be an option")
	}
	if (Instrument{CFICode: "ESXXXX"}).IsOption() {
		t.Fatalf("ESXXXX should not be an option")
	}
}

func TestSnapshotExpiry(t *testing.T) {
	now := time.Now()
	snap := &CacheSnapshot{Timestamp: now, TTL: 30 * time.Minute}
	if snap.Expired(now.Add(30*time.Minute - time.Second)) {
		t.Fatalf("snapshot should still be valid just inside the TTL")
	}
	if !snap.Expired(now.Add(30*time.Minute + time.Second)) {
		t.Fatalf("snapshot should be expired just past the TTL")
	}
}
