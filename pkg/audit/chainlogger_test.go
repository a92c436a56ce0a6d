package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLogger(t *testing.T) {
	var sunk []*LogEntry
	logger := NewChainLogger(0)
	logger.Sink = func(e *LogEntry) { sunk = append(sunk, e) }

	e1 := logger.Append("cid=1 method=POST path=/v1/refund-requests status=201")
	e2 := logger.Append("cid=2 method=POST path=/v1/arbitration-cases/c1/votes status=200")
	e3 := logger.Append("cid=3 method=GET path=/v1/refund-requests/r1 status=200")

	chain := []*LogEntry{e1, e2, e3}
	require.True(t, VerifyChain(chain))
	assert.Equal(t, ZeroHash, e1.PreviousHash)
	assert.Equal(t, e3.Hash, logger.Head())
	assert.Len(t, sunk, 3)

	original := e2.Payload
	e2.Payload = "cid=2 method=DELETE path=/v1/arbitrators/a1 status=204"
	assert.False(t, VerifyChain(chain), "tampered payload")
	e2.Payload = original

	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "tampered hash")
	e2.Hash = originalHash

	e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "broken link")
}

func TestChainLoggerKeepsVerifiableSuffix(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	logger := NewChainLogger(2).WithClock(func() time.Time { return fixed })
	for i := 0; i < 5; i++ {
		logger.Append("entry")
	}

	entries := logger.Entries()
	require.Len(t, entries, 2)
	assert.True(t, VerifyChain(entries))
	assert.Equal(t, fixed.Format(time.RFC3339Nano), entries[0].Timestamp)
}

func TestLinkIsOrderSensitive(t *testing.T) {
	a := Link(ZeroHash, "PENDING_MERCHANT", "NEGOTIATING")
	b := Link(ZeroHash, "NEGOTIATING", "PENDING_MERCHANT")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Link(ZeroHash, "PENDING_MERCHANT", "NEGOTIATING"))
}
