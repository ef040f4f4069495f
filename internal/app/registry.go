// Package app holds the room/connection state and the signaling relay.
package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/domain"
)

var ErrBackpressure = errors.New("send buffer full")

// Sender abstracts the outbound half of a signaling transport.
// Owned by the adapter; the adapter must Close() it.
type Sender interface {
	TrySend(data []byte) error
	Close()
}

type regEntry struct {
	conn   *domain.Connection
	sender Sender
}

// Registry is the process-wide ConnectionRegistry: connection identity to
// session attributes and transport handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ConnectionID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.ConnectionID]*regEntry)}
}

func (r *Registry) Register(id domain.ConnectionID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &regEntry{conn: &domain.Connection{ID: id}, sender: sender}
	log.Info().Str("module", "app.registry").Str("cid", string(id)).Msg("connection registered")
}

func (r *Registry) Unregister(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	log.Info().Str("module", "app.registry").Str("cid", string(id)).Msg("connection unregistered")
}

// Get returns a copy of the connection attributes and its live sender.
func (r *Registry) Get(id domain.ConnectionID) (domain.Connection, Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.Connection{}, nil, false
	}
	return *e.conn, e.sender, true
}

func (r *Registry) Sender(id domain.ConnectionID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.sender, true
}

// SetProfile records the display attributes a client announced on
// create/join along with the external persistence reference.
func (r *Registry) SetProfile(id domain.ConnectionID, userName, name, imageURL string, roomRef int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.conn.UserName = userName
		e.conn.Name = name
		e.conn.ImageURL = imageURL
		e.conn.RoomRef = roomRef
	}
}

func (r *Registry) SetRoom(id domain.ConnectionID, key domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.conn.RoomKey = key
	}
}

func (r *Registry) ClearRoom(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.conn.RoomKey = ""
	}
}

func (r *Registry) UserName(id domain.ConnectionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.conn.UserName
	}
	return ""
}
