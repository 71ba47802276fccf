package proxycore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

func TestCountersAddAndSnapshot(t *testing.T) {
	var c Counters
	c.Add(rewriter.SideHU, 100)
	c.Add(rewriter.SideMD, 50)
	c.Add(rewriter.SideHU, 25)
	c.Add(rewriter.SideHU, -5) // ignored

	hu, md := c.Snapshot()
	assert.Equal(t, uint64(125), hu)
	assert.Equal(t, uint64(50), md)
}
