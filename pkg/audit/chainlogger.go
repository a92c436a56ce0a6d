// Package audit provides sha256 hash chains. The refund journal chains its
// transitions with Link; ChainLogger keeps a chained in-memory trail of API
// calls and forwards each entry to a sink.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// ZeroHash is the previous hash of the first entry in every chain.
var ZeroHash = strings.Repeat("0", 64)

// Link returns sha256(prevHash|field1|field2|...) as lowercase hex.
func Link(prevHash string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	for _, f := range fields {
		h.Write([]byte{'|'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LogEntry is one link in a ChainLogger trail.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

func (e *LogEntry) computeHash(prev string) string {
	return Link(prev, e.Timestamp, e.Payload)
}

// ChainLogger appends tamper-evident entries. It keeps the most recent
// entries in memory and hands each new one to Sink.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	entries      []*LogEntry
	capacity     int

	// Sink, when set, receives every appended entry.
	Sink func(*LogEntry)
	now  func() time.Time
}

// NewChainLogger keeps up to capacity entries (unbounded when capacity <= 0).
func NewChainLogger(capacity int) *ChainLogger {
	return &ChainLogger{
		previousHash: ZeroHash,
		capacity:     capacity,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (c *ChainLogger) WithClock(now func() time.Time) *ChainLogger {
	c.now = now
	return c
}

// Append adds payload to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	entry := &LogEntry{
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entry.computeHash(entry.PreviousHash)
	c.previousHash = entry.Hash

	c.entries = append(c.entries, entry)
	if c.capacity > 0 && len(c.entries) > c.capacity {
		c.entries = c.entries[len(c.entries)-c.capacity:]
	}
	sink := c.Sink
	c.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
	return entry
}

// Entries returns the retained entries, oldest first.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// VerifyChain reports whether entries form an unbroken chain. The first entry's
// PreviousHash is trusted, so a retained suffix of a longer trail verifies.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		prev := entry.PreviousHash
		if i > 0 {
			prev = entries[i-1].Hash
			if entry.PreviousHash != prev {
				return false
			}
		}
		if entry.computeHash(prev) != entry.Hash {
			return false
		}
	}
	return true
}
