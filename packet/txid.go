package packet

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces transaction ids. Uniqueness is only as strong as the
// strategy behind it.
type IDGenerator interface {
	NextID() string
}

const (
	StrategyCounter = "counter"
	StrategyUUID    = "uuid"
	StrategyULID    = "ulid"
)

// NewIDGenerator returns the generator registered under strategy.
func NewIDGenerator(strategy string) (IDGenerator, error) {
	switch strategy {
	case "", StrategyCounter:
		return &CounterIDs{}, nil
	case StrategyUUID:
		return UUIDIDs{}, nil
	case StrategyULID:
		return NewULIDIDs(), nil
	default:
		return nil, fmt.Errorf("unknown transaction id strategy %q", strategy)
	}
}

// CounterIDs yields "1", "2", ... and is unique within one process.
type CounterIDs struct {
	n atomic.Uint64
}

func (g *CounterIDs) NextID() string {
	return strconv.FormatUint(g.n.Add(1), 10)
}

// UUIDIDs yields random version 4 UUIDs.
type UUIDIDs struct{}

func (UUIDIDs) NextID() string {
	return uuid.NewString()
}

// ULIDIDs yields lexically sortable ULIDs, monotonic within one millisecond.
type ULIDIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDIDs() *ULIDIDs {
	return &ULIDIDs{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDIDs) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
