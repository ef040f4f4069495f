package app

import (
	"errors"
	"testing"

	"github.com/echoroom/server/internal/domain"
)

type fakeSender struct {
	frames [][]byte
	full   bool
}

func (s *fakeSender) TrySend(data []byte) error {
	if s.full {
		return ErrBackpressure
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSender) Close() {}

func register(t *testing.T, reg *Registry, id, userName string) domain.ConnectionID {
	t.Helper()
	cid := domain.ConnectionID(id)
	reg.Register(cid, &fakeSender{})
	reg.SetProfile(cid, userName, "Display "+userName, "", 0)
	return cid
}

func TestDirectoryCreate(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg)
	alice := register(t, reg, "c1", "alice")

	changed, err := dir.Create("room1", alice, "alice")
	if err != nil || !changed {
		t.Fatalf("Create = (%v, %v), want (true, nil)", changed, err)
	}

	// Recreating your own room is an idempotent no-op.
	changed, err = dir.Create("room1", alice, "alice")
	if err != nil || changed {
		t.Fatalf("repeat Create = (%v, %v), want (false, nil)", changed, err)
	}

	// Someone else claiming the key fails.
	bob := register(t, reg, "c2", "bob")
	if _, err := dir.Create("room1", bob, "bob"); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("Create by other = %v, want ErrRoomExists", err)
	}
}

func TestDirectoryJoin(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg)
	alice := register(t, reg, "c1", "alice")
	bob := register(t, reg, "c2", "bob")

	if _, err := dir.Join("room1", bob, "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Join missing room = %v, want ErrRoomNotFound", err)
	}

	if _, err := dir.Create("room1", alice, "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	changed, err := dir.Join("room1", bob, "bob")
	if err != nil || !changed {
		t.Fatalf("Join = (%v, %v), want (true, nil)", changed, err)
	}

	// Rejoining is idempotent for the same connection.
	changed, err = dir.Join("room1", bob, "bob")
	if err != nil || changed {
		t.Fatalf("repeat Join = (%v, %v), want (false, nil)", changed, err)
	}

	// A different connection with the same display name is rejected.
	bob2 := register(t, reg, "c3", "bob")
	if _, err := dir.Join("room1", bob2, "bob"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("Join with duplicate name = %v, want ErrAlreadyInRoom", err)
	}

	users := dir.Users("room1")
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
}

func TestDirectoryLeaveDeletesEmptyRoomOnce(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg)
	alice := register(t, reg, "c1", "alice")
	bob := register(t, reg, "c2", "bob")

	dir.Create("room1", alice, "alice")
	dir.Join("room1", bob, "bob")

	removed, emptied := dir.Leave("room1", alice)
	if !removed || emptied {
		t.Fatalf("Leave alice = (%v, %v), want (true, false)", removed, emptied)
	}
	removed, emptied = dir.Leave("room1", bob)
	if !removed || !emptied {
		t.Fatalf("Leave bob = (%v, %v), want (true, true)", removed, emptied)
	}
	if dir.Exists("room1") {
		t.Fatal("room should be deleted when emptied")
	}

	// A second leave for the same connection reports nothing.
	removed, emptied = dir.Leave("room1", bob)
	if removed || emptied {
		t.Fatalf("repeat Leave = (%v, %v), want (false, false)", removed, emptied)
	}
}

func TestDirectoryLeaveNonMember(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg)
	alice := register(t, reg, "c1", "alice")
	bob := register(t, reg, "c2", "bob")

	dir.Create("room1", alice, "alice")
	if removed, _ := dir.Leave("room1", bob); removed {
		t.Fatal("non-member leave should be a no-op")
	}
	if !dir.Exists("room1") {
		t.Fatal("room should survive a non-member leave")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	cid := register(t, reg, "c1", "alice")

	conn, _, ok := reg.Get(cid)
	if !ok || conn.UserName != "alice" {
		t.Fatalf("Get = (%+v, %v)", conn, ok)
	}

	reg.SetRoom(cid, "room1")
	conn, _, _ = reg.Get(cid)
	if conn.RoomKey != "room1" {
		t.Errorf("room = %q, want room1", conn.RoomKey)
	}
	reg.ClearRoom(cid)
	conn, _, _ = reg.Get(cid)
	if conn.RoomKey != "" {
		t.Errorf("room = %q after clear, want empty", conn.RoomKey)
	}

	reg.Unregister(cid)
	if _, _, ok := reg.Get(cid); ok {
		t.Fatal("Get after Unregister should fail")
	}
	if name := reg.UserName(cid); name != "" {
		t.Errorf("UserName after Unregister = %q", name)
	}
}
