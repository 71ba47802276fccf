package proxycore

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

// captureDevice is a write-only endpoint.Endpoint fixture recording every
// byte written to it; there is no real USB/TCP transport in these tests.
type captureDevice struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureDevice) Read(p []byte) (int, error) { select {} }
func (c *captureDevice) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}
func (c *captureDevice) Close() error { return nil }
func (c *captureDevice) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func TestRunPassthroughForwardsBothWays(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := &Session{opts: Options{Logger: logger}}

	dev := &captureDevice{}
	rawIn := make(chan frame.Packet, 1)
	toPeer := make(chan frame.Packet, 1)
	fromPeer := make(chan frame.Packet, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.runPassthrough(ctx, rewriter.SideHU, dev, rawIn, toPeer, fromPeer) }()

	inboundFromHU := frame.Packet{Channel: 0, Flags: frame.FlagFirst | frame.FlagLast, Payload: []byte{0x00, 0x01}}
	rawIn <- inboundFromHU
	select {
	case forwarded := <-toPeer:
		assert.Equal(t, inboundFromHU.Payload, forwarded.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forward to peer")
	}

	outboundToHU := frame.Packet{Channel: 2, Flags: frame.FlagFirst | frame.FlagLast | frame.FlagEncrypted, Payload: []byte("ciphertext")}
	fromPeer <- outboundToHU

	require.Eventually(t, func() bool {
		return len(dev.bytes()) > 0
	}, time.Second, 10*time.Millisecond)

	expected := frame.EncodeSingle(outboundToHU.Channel, outboundToHU.Flags, outboundToHU.Payload)
	assert.Equal(t, expected, dev.bytes())

	hu, _ := s.counters.Snapshot()
	assert.Equal(t, uint64(len(expected)), hu)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runPassthrough did not exit after cancel")
	}
}
