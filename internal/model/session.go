package model

import (
	"io"
	"time"
)

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConnected SessionStatus = "connected"

	// SessionStatusClosed is never stored: a remote logout removes the
	// record immediately, so this status only appears in event payloads.
	SessionStatusClosed SessionStatus = "closed"

	// SessionStatusNotFound is never stored; it is the status reported for
	// ids that have no live record.
	SessionStatusNotFound SessionStatus = "not_found"
)

// Session is one pairing attempt. Each record has exactly one writer path
// (its orchestrator instance); everything else reads snapshots.
type Session struct {
	ID            string
	PhoneNumber   string
	Status        SessionStatus
	SessionString string
	CredsDir      string
	CreatedAt     time.Time

	// Deadline is the watchdog cutoff while pending, replaced by the
	// bounded-lifetime cutoff once connected.
	Deadline time.Time

	// Socket is the connection handle, exclusively owned by this record and
	// closed on removal.
	Socket io.Closer
}

type PairResult struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

type StatusResult struct {
	Status SessionStatus `json:"status"`
}

type SessionStringResult struct {
	Success       bool   `json:"success"`
	SessionID     string `json:"sessionId"`
	SessionString string `json:"sessionString"`
}
