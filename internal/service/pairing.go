package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairbridge/pairing-server-go/internal/creds"
	apperrors "github.com/pairbridge/pairing-server-go/internal/errors"
	"github.com/pairbridge/pairing-server-go/internal/model"
	"github.com/pairbridge/pairing-server-go/internal/sse"
	"github.com/pairbridge/pairing-server-go/internal/store"
	"github.com/pairbridge/pairing-server-go/internal/util"
	"github.com/pairbridge/pairing-server-go/internal/wa"
)

const connectedHandlerTimeout = 30 * time.Second

// EventPublisher pushes session lifecycle events to subscribed clients.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

type PairingOptions struct {
	SessionsDir string

	// SettleDelay is waited between socket construction and the pairing code
	// request, so the underlying transport can establish first.
	SettleDelay time.Duration

	// FlushDelay is waited after the connection opens before encoding, so the
	// library's asynchronous multi-file credential writes can land.
	FlushDelay time.Duration

	// PendingTimeout is the watchdog cutoff for sessions stuck in pending.
	PendingTimeout time.Duration

	// SessionTTL bounds the lifetime of a connected session; when it elapses
	// the record and its resources are removed unconditionally.
	SessionTTL time.Duration
}

type CreatePairingResult struct {
	SessionID string
	Code      string
}

// PairingService drives one external socket per session through
// connect → request-code → await-confirmation, and owns every timer that can
// remove a session. Each session's transitions are serialized by the socket's
// event channel; timer callbacks re-check store state before acting.
type PairingService struct {
	store     *store.SessionStore
	encoder   *creds.Encoder
	dialer    wa.Dialer
	publisher EventPublisher
	opts      PairingOptions
}

func NewPairingService(
	sessionStore *store.SessionStore,
	encoder *creds.Encoder,
	dialer wa.Dialer,
	publisher EventPublisher,
	opts PairingOptions,
) *PairingService {
	return &PairingService{
		store:     sessionStore,
		encoder:   encoder,
		dialer:    dialer,
		publisher: publisher,
		opts:      opts,
	}
}

// Pair validates the phone number, provisions a session and requests a
// pairing code. Any failure after the record exists removes it again, so a
// failed request never leaks a socket or directory.
func (s *PairingService) Pair(ctx context.Context, phone string) (*CreatePairingResult, error) {
	normalized, ok := util.NormalizePhone(phone)
	if !ok {
		return nil, apperrors.InvalidInput("phone", "must contain at least 7 digits")
	}

	sess, err := s.store.Create(normalized, time.Now().Add(s.opts.PendingTimeout))
	if err != nil {
		return nil, apperrors.Internal("Failed to create session").WithCause(err)
	}

	credsDir := filepath.Join(s.opts.SessionsDir, sess.ID)
	if err := os.MkdirAll(credsDir, 0o700); err != nil {
		s.store.Remove(sess.ID)
		return nil, apperrors.Internal("Failed to create session directory").WithCause(err)
	}
	s.store.Update(sess.ID, func(r *model.Session) { r.CredsDir = credsDir })

	sock, err := s.dialer.Dial(ctx, credsDir)
	if err != nil {
		s.store.Remove(sess.ID)
		return nil, apperrors.External("messaging socket", err)
	}
	s.store.Update(sess.ID, func(r *model.Session) { r.Socket = sock })

	go s.pumpEvents(sess.ID, sock)

	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		s.store.Remove(sess.ID)
		return nil, apperrors.Internal("Pairing request cancelled").WithCause(err)
	}

	code, err := sock.RequestPairingCode(ctx, normalized)
	if err != nil {
		s.store.Remove(sess.ID)
		return nil, apperrors.External("messaging socket", err)
	}
	code = util.FormatPairingCode(code)

	time.AfterFunc(s.opts.PendingTimeout, func() { s.expirePending(sess.ID) })

	log.Info().
		Str("sessionId", sess.ID).
		Str("code", util.MaskCode(code)).
		Msg("pairing code issued")

	return &CreatePairingResult{SessionID: sess.ID, Code: code}, nil
}

// Status reports the current lifecycle state for an id, not_found for ids
// with no live record.
func (s *PairingService) Status(id string) model.SessionStatus {
	sess := s.store.Get(id)
	if sess == nil {
		return model.SessionStatusNotFound
	}
	return sess.Status
}

// SessionString returns the encoded credentials once the session is connected
// and encoding has completed.
func (s *PairingService) SessionString(id string) (string, error) {
	sess := s.store.Get(id)
	if sess == nil {
		return "", apperrors.NotFound("Session")
	}
	if sess.Status != model.SessionStatusConnected {
		return "", apperrors.SessionNotConnected()
	}
	if sess.SessionString == "" {
		return "", apperrors.SessionNotReady()
	}
	return sess.SessionString, nil
}

// pumpEvents consumes the socket's event stream for one session. Events
// arrive in transport order and never concurrently, so the handlers below run
// serialized per session.
func (s *PairingService) pumpEvents(id string, sock wa.Socket) {
	for event := range sock.Events() {
		switch event.Kind {
		case wa.EventConnected:
			s.handleConnected(id, sock)
		case wa.EventClosed:
			s.handleClosed(id, event.StatusCode)
		}
	}
}

func (s *PairingService) handleConnected(id string, sock wa.Socket) {
	// The pending→connected transition happens in one Update so the watchdog
	// can never observe a half-applied state. connected stays false when the
	// record is already gone or a duplicate notification arrives.
	connected := false
	deadline := time.Now().Add(s.opts.SessionTTL)
	s.store.Update(id, func(r *model.Session) {
		if r.Status != model.SessionStatusPending {
			return
		}
		r.Status = model.SessionStatusConnected
		r.Deadline = deadline
		connected = true
	})
	if !connected {
		return
	}

	log.Info().Str("sessionId", id).Msg("session connected")
	s.publish(id, "status", fmt.Sprintf(`{"status":%q}`, model.SessionStatusConnected))

	ctx, cancel := context.WithTimeout(context.Background(), connectedHandlerTimeout)
	defer cancel()

	if err := sock.SaveCredentials(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to save credentials")
	}

	if err := sleep(ctx, s.opts.FlushDelay); err == nil {
		s.encodeSession(id)
	}

	// Unconditional bounded lifetime: the record goes away at the deadline
	// regardless of later activity.
	time.AfterFunc(s.opts.SessionTTL, func() {
		if s.store.Remove(id) {
			log.Info().Str("sessionId", id).Msg("connected session expired")
			s.publish(id, "session_expired", `{"reason":"ttl"}`)
		}
	})
}

func (s *PairingService) encodeSession(id string) {
	sess := s.store.Get(id)
	if sess == nil {
		return
	}

	blob, ok := s.encoder.Encode(sess.CredsDir)
	if !ok {
		// Not ready: the record stays connected with no session string and
		// status/session reads report the retryable condition.
		log.Debug().Str("sessionId", id).Msg("credentials not ready to encode")
		return
	}

	s.store.Update(id, func(r *model.Session) { r.SessionString = blob })
	log.Info().Str("sessionId", id).Int("blobLen", len(blob)).Msg("session credentials encoded")
	s.publish(id, "session_ready", `{}`)
}

func (s *PairingService) handleClosed(id string, statusCode int) {
	if statusCode != wa.StatusLoggedOut {
		// Transient disconnect: the library drives its own reconnection, the
		// record stays as-is until a timer resolves it.
		log.Debug().Str("sessionId", id).Int("statusCode", statusCode).Msg("socket closed, keeping session")
		return
	}

	if s.store.Remove(id) {
		log.Info().Str("sessionId", id).Msg("remote logged out, session removed")
		s.publish(id, "status", fmt.Sprintf(`{"status":%q}`, model.SessionStatusClosed))
	}
}

// expirePending is the watchdog: it fires once per session and removes the
// record only if it is still pending at that instant. The status check and
// the removal happen under the store lock, so firing after the connected
// transition is a guaranteed no-op.
func (s *PairingService) expirePending(id string) {
	removed := s.store.RemoveIf(id, func(r *model.Session) bool {
		return r.Status == model.SessionStatusPending
	})
	if removed {
		log.Info().Str("sessionId", id).Msg("pending session timed out")
		s.publish(id, "pairing_expired", `{"reason":"timeout"}`)
	}
}

func (s *PairingService) publish(id, eventType, data string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, id, sse.Event{Type: eventType, Data: []byte(data)}); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Str("event", eventType).Msg("failed to publish session event")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
