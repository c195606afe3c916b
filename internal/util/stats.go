package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide transfer counter.
var Stats = &stats{}

type stats struct {
	FramesSent    atomic.Int64 // frames handed to a transport
	FramesRecv    atomic.Int64 // frames decoded successfully
	FramesDropped atomic.Int64 // malformed or stray frames
	BytesSent     atomic.Int64 // frame bytes written
	BytesRecv     atomic.Int64 // frame bytes read
	Completed     atomic.Int64 // sequences delivered to the consumer
	Evicted       atomic.Int64 // incomplete sequences discarded after idling
}

func (s *stats) AddSent(n int) { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.FramesRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddDropped()   { s.FramesDropped.Add(1) }
func (s *stats) AddCompleted() { s.Completed.Add(1) }
func (s *stats) AddEvicted()   { s.Evicted.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs transfer statistics
// every 10 seconds while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevRecv, prevSent, prevDone, prevEvicted, prevDropped int64
		for {
			select {
			case <-ticker.C:
				recv := Stats.BytesRecv.Load()
				sent := Stats.BytesSent.Load()
				done := Stats.Completed.Load()
				evicted := Stats.Evicted.Load()
				dropped := Stats.FramesDropped.Load()

				inS := float64(recv-prevRecv) / 10.0
				outS := float64(sent-prevSent) / 10.0

				if inS > 10 || outS > 10 || done != prevDone || evicted != prevEvicted || dropped != prevDropped {
					pterm.DefaultLogger.Info(formatStats(inS, outS, done-prevDone, evicted-prevEvicted, dropped-prevDropped))
				}

				prevRecv, prevSent = recv, sent
				prevDone, prevEvicted, prevDropped = done, evicted, dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the interval stats for display in the logger.
func formatStats(inS, outS float64, done, evicted, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Files: %2d done %2d evicted | Dropped: %d",
		FormatBytes(inS),
		FormatBytes(outS),
		done,
		evicted,
		dropped,
	)
}
