// Package meow implements the wa contract on top of go.mau.fi/whatsmeow.
// Each socket owns a per-session sqlite device store inside the session's
// credentials directory, so removing the directory removes every trace of the
// attempt.
package meow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/pairbridge/pairing-server-go/internal/config"
	"github.com/pairbridge/pairing-server-go/internal/wa"
)

const (
	deviceStoreFile = "creds.db"
	clientName      = "Chrome (Linux)"
	eventBuffer     = 16
)

type Dialer struct {
	log waLog.Logger
}

func NewDialer() *Dialer {
	return &Dialer{log: waLog.Noop}
}

func (d *Dialer) Dial(ctx context.Context, credsDir string) (wa.Socket, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(credsDir, deviceStoreFile))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	container := sqlstore.NewWithDB(db.DB, "sqlite3", d.log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, d.log)

	s := &socket{
		client: client,
		db:     db,
		dir:    credsDir,
		events: make(chan wa.Event, eventBuffer),
	}
	s.handlerID = client.AddEventHandler(s.handleEvent)

	if err := client.Connect(); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	return s, nil
}

type socket struct {
	client    *whatsmeow.Client
	db        *sqlx.DB
	dir       string
	handlerID uint32

	mu     sync.Mutex
	closed bool
	events chan wa.Event
}

func (s *socket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return s.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, clientName)
}

// SaveCredentials persists the device state and writes the marker file the
// encoder gates on. The sqlite store is updated by the library on every
// credential mutation already; the marker captures the device identity once
// pairing completed.
func (s *socket) SaveCredentials(ctx context.Context) error {
	if err := s.client.Store.Save(ctx); err != nil {
		return fmt.Errorf("save device: %w", err)
	}

	info := map[string]string{
		"platform": s.client.Store.Platform,
		"pushName": s.client.Store.PushName,
	}
	if s.client.Store.ID != nil {
		info["jid"] = s.client.Store.ID.String()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, config.CredsMarkerFile), data, 0o600); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func (s *socket) Events() <-chan wa.Event {
	return s.events
}

func (s *socket) handleEvent(evt any) {
	switch evt.(type) {
	case *events.Connected:
		s.send(wa.Event{Kind: wa.EventConnected})
	case *events.LoggedOut:
		s.send(wa.Event{Kind: wa.EventClosed, StatusCode: wa.StatusLoggedOut})
	case *events.StreamReplaced:
		s.send(wa.Event{Kind: wa.EventClosed, StatusCode: wa.StatusLoggedOut})
	case *events.Disconnected:
		s.send(wa.Event{Kind: wa.EventClosed})
	}
}

func (s *socket) send(event wa.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		// The consumer has fallen behind; dropping is safe because every
		// event it acts on re-reads current state.
	}
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.client.RemoveEventHandler(s.handlerID)
	s.client.Disconnect()
	return s.db.Close()
}
