package ledctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "idle", State(99).String())
}

func TestNoopNeverErrors(t *testing.T) {
	var c Controller = Noop{}
	assert.NoError(t, c.Set(StateConnecting))
	assert.NoError(t, c.Set(StateError))
}
