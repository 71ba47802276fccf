package rewriter

import "sync"

// Context is the mutable state threaded through the rewriter across every
// packet of one session (spec.md §9: "keep it as an explicit argument; do
// not promote it to a singleton — multiple sessions may run serially and
// must start with a clean context"). A fresh Context is created per
// session by internal/supervisor.
//
// sensorChannel and navigationChannel are written exactly once, by the
// HU-side processor while handling a ServiceDiscoveryResponse (spec.md §5:
// "only the HU-side processor writes it"); the HTTP admin's /battery
// handler only reads it, via SensorChannel.
type Context struct {
	mu                sync.RWMutex
	sensorChannel     int32
	hasSensorChannel  bool
	navChannel        int32
	hasNavChannel     bool
	evLoggerStarted   bool
}

func NewContext() *Context {
	return &Context{}
}

func (c *Context) SetSensorChannel(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSensorChannel {
		return // first-service-wins capture (spec.md §4.6)
	}
	c.sensorChannel = id
	c.hasSensorChannel = true
}

func (c *Context) SensorChannel() (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sensorChannel, c.hasSensorChannel
}

func (c *Context) SetNavigationChannel(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasNavChannel {
		return
	}
	c.navChannel = id
	c.hasNavChannel = true
}

func (c *Context) NavigationChannel() (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.navChannel, c.hasNavChannel
}

// MarkEVLoggerStarted returns false the first time it's called on this
// Context and true on every later call, so the rewriter starts the EV
// battery-logger child process at most once per session.
func (c *Context) MarkEVLoggerStarted() (alreadyStarted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evLoggerStarted {
		return true
	}
	c.evLoggerStarted = true
	return false
}
