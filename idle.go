package mdoc

import (
	"context"
	"time"
)

// armIdleTimeout starts a monitor that calls onExpire once no activity has
// been recorded for idleTimeout (spec §5/§6 IdleTimeout), polling at a
// quarter of the timeout so expiry is detected within idleTimeout*1.25 of
// the last activity. Mirrors the teacher's lastActivityByMedium staleness
// check in enclave_client.go, generalized from a fixed poll to one scaled
// to idleTimeout. A non-positive idleTimeout disables the monitor.
func armIdleTimeout(ctx context.Context, idleTimeout time.Duration, lastActivity func() time.Time, onExpire func()) {
	if idleTimeout <= 0 {
		return
	}
	tick := idleTimeout / 4
	if tick <= 0 {
		tick = idleTimeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(lastActivity()) >= idleTimeout {
				onExpire()
				return
			}
		}
	}
}
