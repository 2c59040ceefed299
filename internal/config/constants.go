package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Socket settling delays. The transport needs a moment after construction
// before a pairing code can be requested, and credential writes are flushed
// asynchronously after the connection opens.
const (
	SocketSettleDelay = 3 * time.Second
	CredsFlushDelay   = 2 * time.Second
)

// CredsMarkerFile is the file the messaging library writes into a session's
// credentials directory once pairing state exists. Its absence means the
// session is not ready to be encoded yet.
const CredsMarkerFile = "creds.json"

// Background job intervals
const CleanupJobInterval = time.Minute
