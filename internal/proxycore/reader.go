package proxycore

import (
	"context"
	"fmt"
	"time"

	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

// rawReadTimeout bounds a single device read during steady state (spec.md
// §5). Transports that support it (a TCP-backed endpoint.Deadliner) get a
// real deadline reapplied every iteration; usbstream.Stream enforces the
// same timeout internally via BulkTimeout, so applying a deadline here is
// a no-op for it.
const rawReadTimeout = 15 * time.Second

// runReader loops reading raw bytes from dev, feeding them to a per-side
// frame.Decoder, and publishing every complete packet into out. It exits
// (closing out) on read error, framing error, or ctx cancellation —
// matching spec.md §4.7's reader task.
func (s *Session) runReader(ctx context.Context, side rewriter.Side, dev endpoint.Endpoint, out chan<- frame.Packet) error {
	defer close(out)

	dec := frame.NewDecoder()
	buf := make([]byte, endpoint.MaxReadSize)

	for {
		if dl, ok := dev.(endpoint.Deadliner); ok {
			_ = dl.SetReadDeadline(time.Now().Add(rawReadTimeout))
		}

		n, err := dev.Read(buf)
		if n > 0 {
			pkts, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				return fmt.Errorf("proxycore: %s framing: %w", sideName(side), decErr)
			}
			for _, pkt := range pkts {
				if sendErr := sendOrDone(ctx, out, pkt); sendErr != nil {
					return sendErr
				}
			}
		}
		if err != nil {
			return fmt.Errorf("proxycore: %s read: %w", sideName(side), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
