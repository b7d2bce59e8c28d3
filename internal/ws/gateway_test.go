package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/credstore"
	"github.com/UlleongUlleong/server-sub000/internal/directory"
	"github.com/UlleongUlleong/server-sub000/internal/models"
	"github.com/UlleongUlleong/server-sub000/internal/registry"
	"github.com/google/uuid"
)

// fakeDirectory is an in-memory stand-in for the relational collaborator.
type fakeDirectory struct {
	rooms      map[uint]*models.Room
	membership map[uint]uint // userID -> roomID
	nextRoomID uint
	leaveErr   error
	userErr    error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		rooms:      make(map[uint]*models.Room),
		membership: make(map[uint]uint),
		nextRoomID: 1,
	}
}

func (f *fakeDirectory) CreateRoom(creatorID uint, spec directory.RoomSpec) (*models.Room, error) {
	if spec.MaxParticipants < 2 || spec.MaxParticipants > 10 {
		return nil, directory.ErrValidation
	}
	if spec.ThemeID != 1 {
		return nil, directory.ErrInvalidReference
	}
	room := &models.Room{ID: f.nextRoomID, Name: spec.Name, ThemeID: spec.ThemeID, MaxParticipants: spec.MaxParticipants}
	f.rooms[room.ID] = room
	f.nextRoomID++
	f.membership[creatorID] = room.ID
	return room, nil
}

func (f *fakeDirectory) Join(roomID, userID uint) (uint, error) {
	if _, ok := f.rooms[roomID]; !ok {
		return 0, directory.ErrRoomNotFound
	}
	prev := f.membership[userID]
	f.membership[userID] = roomID
	return prev, nil
}

func (f *fakeDirectory) Leave(userID uint) (uint, error) {
	if f.leaveErr != nil {
		return 0, f.leaveErr
	}
	prev := f.membership[userID]
	delete(f.membership, userID)
	return prev, nil
}

func (f *fakeDirectory) ActiveUser(userID uint) (*models.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &models.User{ID: userID, Status: models.UserStatusActive}, nil
}

func setupGateway(t *testing.T) (*Gateway, *fakeDirectory, *registry.Registry) {
	t.Helper()
	store, err := credstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store)
	dir := newFakeDirectory()
	gw := NewGateway(NewHub(), reg, nil, dir)
	return gw, dir, reg
}

func connect(t *testing.T, gw *Gateway, userID uint) *Client {
	t.Helper()
	c := &Client{id: uuid.NewString(), gw: gw, send: make(chan []byte, 256), state: StateConnecting}
	if err := gw.Connect(c, userID); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

// collect drains events already delivered to the client's send queue.
func collect(c *Client, wait time.Duration) []map[string]interface{} {
	time.Sleep(wait)
	var out []map[string]interface{}
	for {
		select {
		case b := <-c.send:
			var m map[string]interface{}
			if err := json.Unmarshal(b, &m); err == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func countEvents(msgs []map[string]interface{}, event string) int {
	n := 0
	for _, m := range msgs {
		if m["event"] == event {
			n++
		}
	}
	return n
}

func TestGateway_CreateRoom(t *testing.T) {
	gw, dir, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"friday","themeId":1,"maxParticipants":4}`))

	msgs := collect(a, 20*time.Millisecond)
	if countEvents(msgs, EventRoomCreated) != 1 {
		t.Fatalf("expected one room_created, got %v", msgs)
	}
	if countEvents(msgs, EventUserJoined) != 1 {
		t.Errorf("creator should see its own user_joined broadcast, got %v", msgs)
	}
	if a.state != StateInRoom {
		t.Errorf("state = %v, want StateInRoom", a.state)
	}
	if dir.membership[1] != 1 {
		t.Errorf("creator membership = %d, want room 1", dir.membership[1])
	}
}

func TestGateway_CreateRoom_ValidationFailure(t *testing.T) {
	gw, dir, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"x","themeId":1,"maxParticipants":1}`))

	msgs := collect(a, 20*time.Millisecond)
	if countEvents(msgs, EventError) != 1 {
		t.Fatalf("expected error reply, got %v", msgs)
	}
	if a.state != StateAuthenticated {
		t.Errorf("failed create must leave state at idle, got %v", a.state)
	}
	if len(dir.rooms) != 0 {
		t.Errorf("no room should persist on validation failure")
	}
}

func TestGateway_CreateRoom_UnknownTheme(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"x","themeId":99,"maxParticipants":4}`))

	msgs := collect(a, 20*time.Millisecond)
	if countEvents(msgs, EventError) != 1 {
		t.Fatalf("expected error reply, got %v", msgs)
	}
}

func TestGateway_JoinBroadcastsToRoom(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)
	b := connect(t, gw, 2)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"friday","themeId":1,"maxParticipants":4}`))
	collect(a, 20*time.Millisecond)

	gw.HandleMessage(b, []byte(`{"event":"join_room","roomId":1}`))

	bMsgs := collect(b, 20*time.Millisecond)
	if countEvents(bMsgs, EventRoomJoined) != 1 {
		t.Errorf("joiner should receive room_joined, got %v", bMsgs)
	}
	if countEvents(bMsgs, EventUserJoined) != 1 {
		t.Errorf("joiner should receive the user_joined broadcast too, got %v", bMsgs)
	}

	aMsgs := collect(a, 0)
	found := false
	for _, m := range aMsgs {
		if m["event"] == EventUserJoined && m["userId"] == float64(2) {
			found = true
		}
	}
	if !found {
		t.Errorf("existing member should see user_joined for user 2, got %v", aMsgs)
	}
}

func TestGateway_JoinUnknownRoom(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"join_room","roomId":404}`))

	msgs := collect(a, 20*time.Millisecond)
	if countEvents(msgs, EventError) != 1 {
		t.Fatalf("expected error reply, got %v", msgs)
	}
	if a.state != StateAuthenticated {
		t.Errorf("state after failed join = %v, want StateAuthenticated", a.state)
	}
}

func TestGateway_DoubleJoinSingleMembership(t *testing.T) {
	gw, dir, _ := setupGateway(t)
	host1 := connect(t, gw, 10)
	host2 := connect(t, gw, 11)
	u := connect(t, gw, 1)

	gw.HandleMessage(host1, []byte(`{"event":"create_room","name":"r1","themeId":1,"maxParticipants":4}`))
	gw.HandleMessage(host2, []byte(`{"event":"create_room","name":"r2","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)

	gw.HandleMessage(u, []byte(`{"event":"join_room","roomId":1}`))
	gw.HandleMessage(u, []byte(`{"event":"join_room","roomId":2}`))
	time.Sleep(20 * time.Millisecond)

	if dir.membership[1] != 2 {
		t.Errorf("membership = %d, want room 2 only", dir.membership[1])
	}
	if u.room == nil || u.room.roomID != 2 {
		t.Fatalf("client should be attached to room 2's broadcast group")
	}
	if gw.hub.Online(1) != 1 {
		t.Errorf("room 1 online = %d, want 1 (host only)", gw.hub.Online(1))
	}
	if gw.hub.Online(2) != 2 {
		t.Errorf("room 2 online = %d, want 2", gw.hub.Online(2))
	}
}

func TestGateway_LeaveWhenIdleIsBenign(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"leave_room"}`))

	msgs := collect(a, 20*time.Millisecond)
	if countEvents(msgs, EventRoomLeft) != 1 {
		t.Fatalf("leave while idle should still reply room_left, got %v", msgs)
	}
	if countEvents(msgs, EventError) != 0 {
		t.Errorf("leave while idle is not an error, got %v", msgs)
	}
}

func TestGateway_LeaveBroadcastsUserLeft(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)
	b := connect(t, gw, 2)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"r","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)
	gw.HandleMessage(b, []byte(`{"event":"join_room","roomId":1}`))
	collect(a, 20*time.Millisecond)

	gw.HandleMessage(b, []byte(`{"event":"leave_room"}`))

	aMsgs := collect(a, 20*time.Millisecond)
	left := 0
	for _, m := range aMsgs {
		if m["event"] == EventUserLeft && m["userId"] == float64(2) {
			left++
		}
	}
	if left != 1 {
		t.Errorf("remaining member should see user_left exactly once, got %d in %v", left, aMsgs)
	}
}

func TestGateway_DisconnectCleansUp(t *testing.T) {
	gw, dir, reg := setupGateway(t)
	a := connect(t, gw, 1)
	b := connect(t, gw, 2)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"r","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)
	gw.HandleMessage(b, []byte(`{"event":"join_room","roomId":1}`))
	collect(a, 20*time.Millisecond)

	bConnID := b.id
	gw.Disconnect(b)

	aMsgs := collect(a, 20*time.Millisecond)
	left := 0
	for _, m := range aMsgs {
		if m["event"] == EventUserLeft && m["userId"] == float64(2) {
			left++
		}
	}
	if left != 1 {
		t.Errorf("user_left for the disconnected user should arrive exactly once, got %d", left)
	}
	if _, ok := dir.membership[2]; ok {
		t.Errorf("participant record should be gone after disconnect")
	}
	if _, err := reg.Resolve(context.Background(), bConnID); !errors.Is(err, registry.ErrNotAuthenticated) {
		t.Errorf("Resolve() after disconnect = %v, want ErrNotAuthenticated", err)
	}
	if b.state != StateClosed {
		t.Errorf("state = %v, want StateClosed", b.state)
	}
}

func TestGateway_DisconnectUnbindsEvenWhenLeaveFails(t *testing.T) {
	gw, dir, reg := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"r","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)

	dir.leaveErr = errors.New("db down")
	gw.Disconnect(a)

	// A failed leave must never block the unbind.
	if _, err := reg.Resolve(context.Background(), a.id); !errors.Is(err, registry.ErrNotAuthenticated) {
		t.Errorf("Resolve() after disconnect = %v, want ErrNotAuthenticated", err)
	}
}

func TestGateway_DisconnectLeavesRoomWhenBindingLost(t *testing.T) {
	gw, dir, reg := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"r","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)

	// Binding already gone (e.g. store-side expiry); the connection still
	// knows who it was, so the participant row must not be orphaned.
	if err := reg.Unbind(context.Background(), a.id); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	gw.Disconnect(a)

	if _, ok := dir.membership[1]; ok {
		t.Errorf("participant record should be gone even without a registry binding")
	}
	if a.state != StateClosed {
		t.Errorf("state = %v, want StateClosed", a.state)
	}
}

func TestGateway_ChatRelayedToRoom(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)
	b := connect(t, gw, 2)

	gw.HandleMessage(a, []byte(`{"event":"create_room","name":"r","themeId":1,"maxParticipants":4}`))
	time.Sleep(20 * time.Millisecond)
	gw.HandleMessage(b, []byte(`{"event":"join_room","roomId":1}`))
	collect(a, 20*time.Millisecond)
	collect(b, 0)

	gw.HandleMessage(b, []byte(`{"event":"chat","content":"cheers"}`))

	aMsgs := collect(a, 20*time.Millisecond)
	found := false
	for _, m := range aMsgs {
		if m["event"] == EventChat && m["content"] == "cheers" && m["userId"] == float64(2) {
			found = true
		}
	}
	if !found {
		t.Errorf("chat should be relayed to the room, got %v", aMsgs)
	}
}

func TestGateway_MalformedPayload(t *testing.T) {
	gw, _, _ := setupGateway(t)
	a := connect(t, gw, 1)

	gw.HandleMessage(a, []byte(`{not json`))

	msgs := collect(a, 10*time.Millisecond)
	if countEvents(msgs, EventError) != 1 {
		t.Fatalf("malformed payload should produce an error reply, got %v", msgs)
	}
}
