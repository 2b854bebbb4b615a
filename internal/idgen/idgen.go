// Package idgen issues globally unique, time-sortable 64-bit event
// identifiers (Snowflake layout: timestamp, worker id, per-millisecond
// sequence).
package idgen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cornjacket/event-egress/internal/clock"
)

const (
	// Custom epoch: 2024-01-01T00:00:00Z in Unix milliseconds. Gives the
	// 41-bit timestamp field roughly 69 years of headroom.
	epochMs = 1704067200000

	workerBits   = 10
	sequenceBits = 12

	// MaxWorkerID is the largest worker id the layout can encode (1023).
	MaxWorkerID = (1 << workerBits) - 1

	maxSequence = (1 << sequenceBits) - 1

	timestampShift = workerBits + sequenceBits
	workerShift    = sequenceBits

	// maxBackwardSkewMs bounds the backward clock jump we are willing to
	// wait out. Anything larger is treated as unrecoverable because a
	// long wait risks both availability and, on overflow of the wait,
	// duplicate ids.
	maxBackwardSkewMs = 100

	// DefaultClockWaitTimeout bounds the total time Next blocks waiting
	// for the clock to catch up after a small backward jump or a
	// sequence rollover.
	DefaultClockWaitTimeout = 5 * time.Second
)

// ErrClockMovedBack is returned when the system clock jumped backward by
// more than the tolerated skew. The caller must not retry blindly: issuing
// an id before the clock recovers could collide with one already handed out.
var ErrClockMovedBack = errors.New("idgen: clock moved backward beyond skew tolerance")

// ErrClockWait is returned when waiting for the clock to catch up exceeded
// the configured timeout or was cancelled.
var ErrClockWait = errors.New("idgen: timed out waiting for clock to advance")

// errClockBehind drives the retry loop; never escapes this package.
var errClockBehind = errors.New("clock behind target")

// ID is a Snowflake-style identifier. IDs issued by one generator are
// strictly increasing; IDs issued by generators with distinct worker ids
// never collide.
type ID int64

// String renders the id in decimal, the form persisted as event_id.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Time returns the millisecond timestamp encoded in the id.
func (id ID) Time() time.Time {
	ms := int64(id)>>timestampShift + epochMs
	return time.UnixMilli(ms).UTC()
}

// WorkerID returns the worker id encoded in the id.
func (id ID) WorkerID() int64 {
	return (int64(id) >> workerShift) & MaxWorkerID
}

// Sequence returns the per-millisecond sequence encoded in the id.
func (id ID) Sequence() int64 {
	return int64(id) & maxSequence
}

// Config holds generator settings.
type Config struct {
	// WorkerID must be unique per generator instance across the
	// deployment (0–1023). See DeriveWorkerID for the best-effort
	// fallback when no static assignment exists.
	WorkerID int64

	// ClockWaitTimeout bounds catch-up waits. Zero means
	// DefaultClockWaitTimeout.
	ClockWaitTimeout time.Duration
}

// Generator issues IDs. Safe for concurrent use; a single mutex
// serializes issuance.
type Generator struct {
	mu          sync.Mutex
	clk         clock.Clock
	workerID    int64
	waitTimeout time.Duration

	lastMs int64
	seq    int64
}

// New creates a Generator. The clock is injected for testability;
// production callers pass clock.RealClock{}.
func New(cfg Config, clk clock.Clock) (*Generator, error) {
	if cfg.WorkerID < 0 || cfg.WorkerID > MaxWorkerID {
		return nil, fmt.Errorf("idgen: worker id %d out of range [0, %d]", cfg.WorkerID, MaxWorkerID)
	}

	timeout := cfg.ClockWaitTimeout
	if timeout <= 0 {
		timeout = DefaultClockWaitTimeout
	}

	return &Generator{
		clk:         clk,
		workerID:    cfg.WorkerID,
		waitTimeout: timeout,
		lastMs:      -1,
	}, nil
}

// Next returns the next id.
//
// A backward clock jump within the skew tolerance is waited out with
// exponential backoff, bounded by the configured timeout. A larger jump,
// a timeout, or cancellation yields a fatal error (ErrClockMovedBack or
// ErrClockWait); callers must surface it rather than swallow it, since a
// colliding id is worse than a failed request.
func (g *Generator) Next(ctx context.Context) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.clk.Now().UnixMilli()

	if nowMs < g.lastMs {
		drift := g.lastMs - nowMs
		if drift > maxBackwardSkewMs {
			return 0, fmt.Errorf("%w: %dms behind last issued timestamp", ErrClockMovedBack, drift)
		}
		var err error
		nowMs, err = g.waitForMillis(ctx, g.lastMs)
		if err != nil {
			return 0, err
		}
	}

	if nowMs == g.lastMs {
		g.seq = (g.seq + 1) & maxSequence
		if g.seq == 0 {
			// Sequence exhausted within this millisecond.
			var err error
			nowMs, err = g.waitForMillis(ctx, g.lastMs+1)
			if err != nil {
				return 0, err
			}
		}
	} else {
		g.seq = 0
	}

	g.lastMs = nowMs

	return ID((nowMs-epochMs)<<timestampShift | g.workerID<<workerShift | g.seq), nil
}

// waitForMillis blocks until the clock reads at least target, polling with
// exponential backoff (1ms doubling, capped at 100ms) under the overall
// wait timeout. Returns the observed millisecond on success.
func (g *Generator) waitForMillis(ctx context.Context, target int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()

	backoff := retry.WithCappedDuration(100*time.Millisecond, retry.NewExponential(time.Millisecond))

	var nowMs int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		nowMs = g.clk.Now().UnixMilli()
		if nowMs >= target {
			return nil
		}
		return retry.RetryableError(errClockBehind)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrClockWait, err)
	}

	return nowMs, nil
}
