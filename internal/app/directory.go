package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/domain"
)

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrAlreadyInRoom = errors.New("user already in room")
)

// Directory is the process-wide RoomDirectory: room key to member set.
// Membership mutations are serialized under one lock so each inbound
// message observes and applies a consistent view, matching the original
// single-threaded mutation semantics. A room is deleted exactly once,
// when its member set becomes empty.
type Directory struct {
	mu    sync.Mutex
	rooms map[domain.RoomKey]map[domain.ConnectionID]struct{}
	reg   *Registry
}

func NewDirectory(reg *Registry) *Directory {
	return &Directory{
		rooms: make(map[domain.RoomKey]map[domain.ConnectionID]struct{}),
		reg:   reg,
	}
}

// Create makes a new room with the creator as its only member. If the room
// exists and the creator (by user name) is already a member, it succeeds
// idempotently without mutating anything; if it exists otherwise, it fails
// with ErrRoomExists. Returns whether membership actually changed.
func (d *Directory) Create(key domain.RoomKey, id domain.ConnectionID, userName string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if members, ok := d.rooms[key]; ok {
		if d.hasUserLocked(members, userName) {
			return false, nil
		}
		return false, ErrRoomExists
	}

	d.rooms[key] = map[domain.ConnectionID]struct{}{id: {}}
	d.reg.SetRoom(id, key)
	log.Info().Str("module", "app.directory").Str("room", string(key)).Str("user", userName).Msg("room created")
	return true, nil
}

// Join adds a connection to an existing room. ErrRoomNotFound if the room
// is absent, ErrAlreadyInRoom on a display-name collision. Joining a room
// the connection is already in is an idempotent no-op (changed=false).
func (d *Directory) Join(key domain.RoomKey, id domain.ConnectionID, userName string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[key]
	if !ok {
		return false, ErrRoomNotFound
	}
	if _, ok := members[id]; ok {
		return false, nil
	}
	if d.hasUserLocked(members, userName) {
		return false, ErrAlreadyInRoom
	}

	members[id] = struct{}{}
	d.reg.SetRoom(id, key)
	log.Info().Str("module", "app.directory").Str("room", string(key)).Str("user", userName).Msg("member joined")
	return true, nil
}

// Leave removes a connection from a room; a no-op if it is not a member.
// Reports whether the member was removed and whether the room became empty
// and was deleted in the same step.
func (d *Directory) Leave(key domain.RoomKey, id domain.ConnectionID) (removed, emptied bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[key]
	if !ok {
		return false, false
	}
	if _, ok := members[id]; !ok {
		return false, false
	}

	delete(members, id)
	d.reg.ClearRoom(id)
	if len(members) == 0 {
		delete(d.rooms, key)
		log.Info().Str("module", "app.directory").Str("room", string(key)).Msg("room deleted (empty)")
		return true, true
	}
	return true, false
}

func (d *Directory) Exists(key domain.RoomKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[key]
	return ok
}

// Members returns the connection IDs currently in the room.
func (d *Directory) Members(key domain.RoomKey) []domain.ConnectionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[key]
	if !ok {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Users returns the client-facing member list of the room.
func (d *Directory) Users(key domain.RoomKey) []domain.RoomUser {
	out := []domain.RoomUser{}
	for _, id := range d.Members(key) {
		conn, _, ok := d.reg.Get(id)
		if !ok || conn.UserName == "" {
			continue
		}
		out = append(out, domain.RoomUser{
			UserName:    conn.UserName,
			Name:        conn.Name,
			ImageURL:    conn.ImageURL,
			IsConnected: true,
		})
	}
	return out
}

func (d *Directory) hasUserLocked(members map[domain.ConnectionID]struct{}, userName string) bool {
	for id := range members {
		if d.reg.UserName(id) == userName {
			return true
		}
	}
	return false
}
