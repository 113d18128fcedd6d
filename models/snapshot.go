package models

import (
	"time"
)

// CacheSnapshot is one versioned copy of the instrument universe. It is
// what the registry keeps in memory and what gets persisted as the
// durable cache document; a snapshot is never mutated after creation,
// only superseded by a newer one.
type CacheSnapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	TTL         time.Duration     `json:"ttl"`
	Instruments []Instrument      `json:"instruments"`
	Count       int               `json:"count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Age returns how old the snapshot is relative to now.
func (s *CacheSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Expired reports whether the snapshot is older than its TTL.
func (s *CacheSnapshot) Expired(now time.Time) bool {
	return s.Age(now) > s.TTL
}
