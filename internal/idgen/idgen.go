// Package idgen issues unique, time-ordered 64-bit identifiers.
//
// Layout: 41 bits of milliseconds since a custom epoch, 10 bits of node
// id, 12 bits of per-millisecond sequence. Every persisted record in
// this system is keyed by the decimal-string form of one of these ids.
package idgen

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const (
	// epochMillis is 2024-01-01T00:00:00Z. 41 bits of milliseconds give
	// roughly 69 years of headroom from that point.
	epochMillis int64 = 1704067200000

	nodeBits = 10
	seqBits  = 12

	MaxNodeID = (1 << nodeBits) - 1
	maxSeq    = (1 << seqBits) - 1

	timestampShift = nodeBits + seqBits

	// maxClockDrift bounds how far backwards the wall clock may step
	// before id issuance fails instead of waiting it out.
	maxClockDrift = 5000 * time.Millisecond
)

// ErrClockRegression is returned when the wall clock moved backwards by
// more than the tolerated drift. The failure is scoped to the single
// issuance call; later calls succeed once the clock catches up.
var ErrClockRegression = errors.New("clock moved backwards beyond tolerance")

// Generator issues ids for one node. Concurrent callers are serialized
// internally; distinct nodes must be configured with distinct node ids
// to keep ids globally unique.
type Generator struct {
	mu         sync.Mutex
	nodeID     uint64
	lastMillis int64
	seq        uint64

	nowMillis func() int64
}

func New(nodeID uint16) (*Generator, error) {
	if nodeID > MaxNodeID {
		return nil, fmt.Errorf("node id %d exceeds %d", nodeID, MaxNodeID)
	}
	return &Generator{
		nodeID:     uint64(nodeID),
		lastMillis: -1,
		nowMillis:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next id. Ids from one generator are strictly
// increasing. The call blocks at most for one millisecond rollover plus
// any tolerated clock drift.
func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowMillis()

	if now < g.lastMillis {
		drift := time.Duration(g.lastMillis-now) * time.Millisecond
		if drift > maxClockDrift {
			return 0, fmt.Errorf("%w: %v", ErrClockRegression, drift)
		}
		now = g.waitUntil(g.lastMillis)
	}

	if now == g.lastMillis {
		g.seq = (g.seq + 1) & maxSeq
		if g.seq == 0 {
			// Sequence exhausted for this millisecond; spin to the next one.
			now = g.waitUntil(g.lastMillis + 1)
		}
	} else {
		g.seq = 0
	}

	g.lastMillis = now

	id := uint64(now-epochMillis)<<timestampShift | g.nodeID<<seqBits | g.seq
	return id, nil
}

// NextString returns the next id in the decimal-string form used as a
// record key.
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return FormatID(id), nil
}

// waitUntil spins until the clock reaches target, yielding between
// checks so the wait does not peg a core.
func (g *Generator) waitUntil(target int64) int64 {
	now := g.nowMillis()
	for now < target {
		runtime.Gosched()
		now = g.nowMillis()
	}
	return now
}

func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func ParseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// Parts is the decomposition of an id, for diagnostics.
type Parts struct {
	Timestamp time.Time
	NodeID    uint16
	Sequence  uint16
}

func Decompose(id uint64) Parts {
	millis := int64(id>>timestampShift) + epochMillis
	return Parts{
		Timestamp: time.UnixMilli(millis).UTC(),
		NodeID:    uint16(id >> seqBits & MaxNodeID),
		Sequence:  uint16(id & maxSeq),
	}
}
