package application

import "vn.io.arda/cropalert/internal/poller"

// SessionState is what the alert badge endpoint returns.
type SessionState = poller.Snapshot
