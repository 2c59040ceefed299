package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairbridge/pairing-server-go/internal/config"
	"github.com/pairbridge/pairing-server-go/internal/creds"
	apperrors "github.com/pairbridge/pairing-server-go/internal/errors"
	"github.com/pairbridge/pairing-server-go/internal/model"
	"github.com/pairbridge/pairing-server-go/internal/sse"
	"github.com/pairbridge/pairing-server-go/internal/store"
	"github.com/pairbridge/pairing-server-go/internal/wa"
)

type fakeSocket struct {
	mu         sync.Mutex
	dir        string
	code       string
	codeErr    error
	saveWrites bool
	saves      int
	closed     bool
	events     chan wa.Event
}

func newFakeSocket(dir string) *fakeSocket {
	return &fakeSocket{
		dir:        dir,
		code:       "ABCD1234",
		saveWrites: true,
		events:     make(chan wa.Event, 8),
	}
}

func (f *fakeSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if f.codeErr != nil {
		return "", f.codeErr
	}
	return f.code, nil
}

func (f *fakeSocket) SaveCredentials(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveWrites {
		return os.WriteFile(filepath.Join(f.dir, config.CredsMarkerFile), []byte(`{"me":"creds"}`), 0o600)
	}
	return nil
}

func (f *fakeSocket) Events() <-chan wa.Event {
	return f.events
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSocket) deliver(event wa.Event) {
	f.events <- event
}

type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	prepare func(*fakeSocket)
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, credsDir string) (wa.Socket, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	sock := newFakeSocket(credsDir)
	if d.prepare != nil {
		d.prepare(sock)
	}
	d.mu.Lock()
	d.sockets = append(d.sockets, sock)
	d.mu.Unlock()
	return sock, nil
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *fakePublisher) Publish(ctx context.Context, sessionID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	service *PairingService
	store   *store.SessionStore
	dialer  *fakeDialer
	pub     *fakePublisher
	opts    PairingOptions
}

func newFixture(t *testing.T, adjust func(*PairingOptions)) *fixture {
	t.Helper()

	opts := PairingOptions{
		SessionsDir:    t.TempDir(),
		SettleDelay:    time.Millisecond,
		FlushDelay:     time.Millisecond,
		PendingTimeout: time.Second,
		SessionTTL:     time.Minute,
	}
	if adjust != nil {
		adjust(&opts)
	}

	sessionStore := store.NewSessionStore()
	dialer := &fakeDialer{}
	pub := &fakePublisher{}
	svc := NewPairingService(sessionStore, creds.NewEncoder(config.CredsMarkerFile), dialer, pub, opts)

	return &fixture{service: svc, store: sessionStore, dialer: dialer, pub: pub, opts: opts}
}

func TestPair(t *testing.T) {
	t.Run("rejects short phone numbers without allocating", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.service.Pair(context.Background(), "+1 (23) 45-6")
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)

		assert.Equal(t, 0, f.store.Len())
		assert.Nil(t, f.dialer.last())
	})

	t.Run("issues a formatted code and leaves the session pending", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "123-4567")
		require.NoError(t, err)

		assert.Equal(t, "ABCD-1234", result.Code)
		assert.Equal(t, model.SessionStatusPending, f.service.Status(result.SessionID))

		sess := f.store.Get(result.SessionID)
		require.NotNil(t, sess)
		assert.Equal(t, "1234567", sess.PhoneNumber)
		assert.DirExists(t, sess.CredsDir)
	})

	t.Run("removes the session when dialing fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.dialer.dialErr = errors.New("socket construction failed")

		_, err := f.service.Pair(context.Background(), "1234567")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeExternal, apperrors.GetCode(err))
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("removes the session when the code request fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.dialer.prepare = func(sock *fakeSocket) {
			sock.codeErr = errors.New("rate limited by upstream")
		}

		_, err := f.service.Pair(context.Background(), "1234567")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited by upstream")

		assert.Equal(t, 0, f.store.Len())
		assert.True(t, f.dialer.last().isClosed())
	})

	t.Run("distinct sessions get distinct ids", func(t *testing.T) {
		f := newFixture(t, nil)

		a, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)
		b, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		assert.NotEqual(t, a.SessionID, b.SessionID)
		assert.Equal(t, 2, f.store.Len())
	})
}

func TestConnectionOpen(t *testing.T) {
	t.Run("transitions to connected and encodes credentials", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventConnected})

		require.Eventually(t, func() bool {
			blob, err := f.service.SessionString(result.SessionID)
			return err == nil && blob != ""
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, model.SessionStatusConnected, f.service.Status(result.SessionID))
		assert.Equal(t, 1, f.dialer.last().saves)

		blob, err := f.service.SessionString(result.SessionID)
		require.NoError(t, err)
		files, err := creds.Decode(blob)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"me":"creds"}`), files[config.CredsMarkerFile])

		assert.Contains(t, f.pub.types(), "status")
		assert.Contains(t, f.pub.types(), "session_ready")
	})

	t.Run("stays not-ready when the marker never appears", func(t *testing.T) {
		f := newFixture(t, nil)
		f.dialer.prepare = func(sock *fakeSocket) { sock.saveWrites = false }

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventConnected})

		require.Eventually(t, func() bool {
			return f.service.Status(result.SessionID) == model.SessionStatusConnected
		}, time.Second, 5*time.Millisecond)

		// Give the flush delay and encode attempt time to run.
		time.Sleep(20 * time.Millisecond)

		_, err = f.service.SessionString(result.SessionID)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionNotReady, apperrors.GetCode(err))
	})

	t.Run("connected session is removed when its lifetime elapses", func(t *testing.T) {
		f := newFixture(t, func(o *PairingOptions) { o.SessionTTL = 30 * time.Millisecond })

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventConnected})

		require.Eventually(t, func() bool {
			return f.service.Status(result.SessionID) == model.SessionStatusNotFound
		}, time.Second, 5*time.Millisecond)

		assert.True(t, f.dialer.last().isClosed())
	})
}

func TestConnectionClosed(t *testing.T) {
	t.Run("logout removes the session immediately", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventClosed, StatusCode: wa.StatusLoggedOut})

		require.Eventually(t, func() bool {
			return f.service.Status(result.SessionID) == model.SessionStatusNotFound
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("transient disconnect leaves the record as-is", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventClosed, StatusCode: 503})
		time.Sleep(20 * time.Millisecond)

		assert.Equal(t, model.SessionStatusPending, f.service.Status(result.SessionID))
	})
}

func TestWatchdog(t *testing.T) {
	t.Run("removes a session stuck in pending", func(t *testing.T) {
		f := newFixture(t, func(o *PairingOptions) { o.PendingTimeout = 30 * time.Millisecond })

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return f.service.Status(result.SessionID) == model.SessionStatusNotFound
		}, time.Second, 5*time.Millisecond)

		assert.Contains(t, f.pub.types(), "pairing_expired")
	})

	t.Run("is a no-op once the session connected", func(t *testing.T) {
		f := newFixture(t, func(o *PairingOptions) { o.PendingTimeout = 40 * time.Millisecond })

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		f.dialer.last().deliver(wa.Event{Kind: wa.EventConnected})
		require.Eventually(t, func() bool {
			return f.service.Status(result.SessionID) == model.SessionStatusConnected
		}, time.Second, 5*time.Millisecond)

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, model.SessionStatusConnected, f.service.Status(result.SessionID))
	})

	t.Run("firing right after the connected transition keeps the session", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		// Commit the transition through the same path the event pump uses,
		// then fire the watchdog by hand so the ordering is deterministic.
		f.service.handleConnected(result.SessionID, f.dialer.last())
		f.service.expirePending(result.SessionID)

		assert.Equal(t, model.SessionStatusConnected, f.service.Status(result.SessionID))
		assert.NotContains(t, f.pub.types(), "pairing_expired")
	})
}

func TestConnectedAfterRemoval(t *testing.T) {
	t.Run("does nothing when the record is already gone", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		sock := f.dialer.last()
		require.True(t, f.store.Remove(result.SessionID))

		f.service.handleConnected(result.SessionID, sock)

		assert.Equal(t, model.SessionStatusNotFound, f.service.Status(result.SessionID))
		assert.Equal(t, 0, sock.saves)
		assert.NotContains(t, f.pub.types(), "session_ready")
	})
}

func TestSessionString(t *testing.T) {
	t.Run("unknown id reports not found", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.service.SessionString("nope")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("pending session reports not connected", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.service.Pair(context.Background(), "1234567")
		require.NoError(t, err)

		_, err = f.service.SessionString(result.SessionID)
		assert.Equal(t, apperrors.ErrCodeSessionNotConnected, apperrors.GetCode(err))
	})
}
