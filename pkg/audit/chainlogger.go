package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Severity grades audit events. Critical events mark money movements
// that need manual reconciliation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a single append-only audit record.
type Event struct {
	ID           string   `json:"id"`
	ActorID      string   `json:"actor_id"`
	EventType    string   `json:"event_type"`
	Severity     Severity `json:"severity"`
	Payload      string   `json:"payload"`
	Timestamp    string   `json:"timestamp"`
	PreviousHash string   `json:"previous_hash"`
	Hash         string   `json:"hash"`
}

// ChainLogger provides a tamper-evident audit trail using hash chaining.
// The mutex serializes appends, so events observe a total order and
// per-actor ordering holds by construction.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append chains a new event and returns it with its hash filled in.
func (c *ChainLogger) Append(id, actorID, eventType string, severity Severity, payload string) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := &Event{
		ID:           id,
		ActorID:      actorID,
		EventType:    eventType,
		Severity:     severity,
		Payload:      payload,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
	}
	ev.Hash = eventHash(ev)

	c.previousHash = ev.Hash
	return ev
}

func eventHash(ev *Event) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		ev.PreviousHash, ev.Timestamp, ev.ID, ev.ActorID, ev.EventType, ev.Severity, ev.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that a slice of events forms a valid hash chain,
// which is how compensation trails are validated after the fact.
func VerifyChain(events []*Event) bool {
	for i, ev := range events {
		if i > 0 && ev.PreviousHash != events[i-1].Hash {
			return false
		}
		if eventHash(ev) != ev.Hash {
			return false
		}
	}
	return true
}
