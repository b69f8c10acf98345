package store

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// gregorianOffset is the number of 100ns ticks between the Gregorian epoch
// (1582-10-15) and the Unix epoch (1970-01-01).
const gregorianOffset = 0x01b21dd213814000

var (
	idMu      sync.Mutex
	lastTicks uint64
)

// NewCheckpointID returns a UUID version 6 string for the current time.
//
// IDs produced by one process are strictly increasing, both numerically and
// as strings: when the clock has not advanced (or went backwards) the tick
// counter is bumped past the previous value.
func NewCheckpointID() string {
	idMu.Lock()
	ticks := timeToTicks(time.Now())
	if ticks <= lastTicks {
		ticks = lastTicks + 1
	}
	lastTicks = ticks
	idMu.Unlock()

	return newV6(ticks).String()
}

// NewCheckpointIDAt returns a UUID version 6 string embedding t. It does not
// participate in the monotonic sequence of NewCheckpointID.
func NewCheckpointIDAt(t time.Time) string {
	return newV6(timeToTicks(t)).String()
}

// newV6 lays out a 60-bit tick counter in version 6 order: high 32 bits,
// middle 16 bits, then the version nibble followed by the low 12 bits. The
// clock sequence and node come from a random UUID.
func newV6(ticks uint64) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], uint32(ticks>>28))
	binary.BigEndian.PutUint16(u[4:6], uint16(ticks>>12))
	binary.BigEndian.PutUint16(u[6:8], 0x6000|uint16(ticks&0x0FFF))

	random := uuid.New()
	copy(u[8:], random[8:])
	u[8] = (u[8] & 0x3F) | 0x80
	return u
}

// CheckpointTime decodes the creation time embedded in a checkpoint ID.
//
// Version 6 and version 1 layouts are supported. Anything else, including
// malformed input, yields the current time instead of an error so thread
// listings never fail on a bad ID.
func CheckpointTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Now().UTC()
	}

	switch u.Version() {
	case 6:
		high := uint64(binary.BigEndian.Uint32(u[0:4]))
		mid := uint64(binary.BigEndian.Uint16(u[4:6]))
		low := uint64(binary.BigEndian.Uint16(u[6:8]) & 0x0FFF)
		return ticksToTime(high<<28 | mid<<12 | low)
	case 1:
		return ticksToTime(uint64(u.Time()))
	default:
		return time.Now().UTC()
	}
}

func timeToTicks(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + gregorianOffset
}

func ticksToTime(ticks uint64) time.Time {
	d := int64(ticks) - gregorianOffset
	return time.Unix(d/10_000_000, (d%10_000_000)*100).UTC()
}
