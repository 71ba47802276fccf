package proxycore

import (
	"sync/atomic"

	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

// Counters holds the two atomic byte counters spec.md §4.9 reads every
// monitor tick: total bytes written out to the HU and to the MD since the
// session started.
type Counters struct {
	huOut atomic.Uint64
	mdOut atomic.Uint64
}

func (c *Counters) Add(side rewriter.Side, n int) {
	if n <= 0 {
		return
	}
	if side == rewriter.SideHU {
		c.huOut.Add(uint64(n))
	} else {
		c.mdOut.Add(uint64(n))
	}
}

func (c *Counters) Snapshot() (hu, md uint64) {
	return c.huOut.Load(), c.mdOut.Load()
}
