package clock

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDSource issues unique identifiers for requests, correlations, and
// stored entities. Production code uses UUIDSource; tests use Sequence
// for deterministic ids.
type IDSource interface {
	NewID() string
}

// UUIDSource issues random version 4 UUIDs.
type UUIDSource struct{}

func (UUIDSource) NewID() string { return uuid.NewString() }

// Sequence issues deterministic prefixed ids ("req-1", "req-2", ...)
// for tests.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequence returns a Sequence starting at 1 with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix, next: 1}
}

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("%s-%d", s.prefix, s.next)
	s.next++
	return id
}
