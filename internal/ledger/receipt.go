package ledger

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces sortable receipt codes and account numbers
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDGenerator creates a generator backed by monotonic ULID entropy
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// ReceiptCode returns a new receipt code, e.g. RCP-01ARZ3NDEKTSV4RRFFQ69G5FAV
func (g *IDGenerator) ReceiptCode(t time.Time) string {
	return "RCP-" + g.next(t)
}

// AccountNumber returns a new account number, e.g. ACC-01ARZ3NDEKTSV4RRFFQ69G5FAV
func (g *IDGenerator) AccountNumber(t time.Time) string {
	return "ACC-" + g.next(t)
}

func (g *IDGenerator) next(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
