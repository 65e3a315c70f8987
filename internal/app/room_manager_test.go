package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQueueFull = errors.New("queue full")

type fakeConn struct {
	id core.SessionID

	mu          sync.Mutex
	frames      []core.Frame
	full        bool
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: core.SessionID(id)} }

func (c *fakeConn) ID() core.SessionID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errQueueFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeConn) received() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

type memStore struct {
	mu      sync.Mutex
	rooms   map[domain.RoomName]domain.Room
	loadErr error
	saveErr error
	saves   int
}

func (s *memStore) Load() (map[domain.RoomName]domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[domain.RoomName]domain.Room, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(rooms map[domain.RoomName]domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rooms = rooms
	return nil
}

func setPassword(t *testing.T, m *RoomManager, room, password string) {
	t.Helper()
	_, err := m.SetPassword(domain.RoomName(room), password)
	require.NoError(t, err)
}

func attach(t *testing.T, m *RoomManager, room string, c core.SignalConnection) AttachResult {
	t.Helper()
	res, err := m.Attach(domain.RoomName(room), c, domain.Identity{DeviceID: "dev-" + string(c.ID())}, nil)
	require.NoError(t, err)
	return res
}

func TestVerifyPasswordDefaultsToOpen(t *testing.T) {
	m := NewRoomManager(nil)

	assert.True(t, m.VerifyPassword("unknown", "anything"))
	require.NoError(t, m.EnsureRoom("open"))
	assert.True(t, m.VerifyPassword("open", ""))
	assert.True(t, m.VerifyPassword("open", "whatever"))
}

func TestSetPasswordRejectsWrongPassword(t *testing.T) {
	m := NewRoomManager(nil)
	has, err := m.SetPassword("jam", "secret")
	require.NoError(t, err)
	assert.True(t, has)

	assert.True(t, m.HasPassword("jam"))
	assert.False(t, m.VerifyPassword("jam", ""))
	assert.False(t, m.VerifyPassword("jam", "wrong"))
	assert.True(t, m.VerifyPassword("jam", "secret"))

	has, err = m.SetPassword("jam", "")
	require.NoError(t, err)
	assert.False(t, has)
	assert.False(t, m.HasPassword("jam"))
	assert.True(t, m.VerifyPassword("jam", "wrong"))
}

func TestEmptyRoomNameIsRejected(t *testing.T) {
	m := NewRoomManager(nil)

	assert.ErrorIs(t, m.EnsureRoom(""), ErrRoomRequired)
	_, err := m.SetPassword("", "x")
	assert.ErrorIs(t, err, ErrRoomRequired)
	_, err = m.Attach("", newFakeConn("a"), domain.Identity{}, nil)
	assert.ErrorIs(t, err, ErrRoomRequired)
}

func TestAttachMovesConnectionBetweenRooms(t *testing.T) {
	m := NewRoomManager(nil)
	x, y := newFakeConn("x"), newFakeConn("y")
	attach(t, m, "a", x)
	attach(t, m, "a", y)
	require.Equal(t, 2, m.MemberCount("a"))

	res := attach(t, m, "b", x)
	assert.Equal(t, domain.RoomName("b"), res.Room)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, domain.RoomName("a"), res.Previous)
	assert.Equal(t, 1, res.PreviousCount)
	assert.Equal(t, []core.SignalConnection{y}, res.PreviousMembers)

	assert.Equal(t, 1, m.MemberCount("a"))
	assert.Equal(t, 1, m.MemberCount("b"))
	room, _, ok := m.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("b"), room)
	assert.Equal(t, 2, m.TotalConnections())
}

func TestRejoinSameRoomKeepsCount(t *testing.T) {
	m := NewRoomManager(nil)
	x := newFakeConn("x")
	attach(t, m, "a", x)

	res := attach(t, m, "a", x)
	assert.Equal(t, 1, res.Count)
	assert.Empty(t, res.Previous)
}

func TestMembershipConsistentAfterChurn(t *testing.T) {
	m := NewRoomManager(nil)
	conns := make([]*fakeConn, 6)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
	}
	rooms := []string{"r1", "r2", "r3"}
	want := map[core.SessionID]domain.RoomName{}

	for step := 0; step < 60; step++ {
		c := conns[(step*7)%len(conns)]
		if step%5 == 4 {
			m.Detach(c.ID(), nil)
			delete(want, c.ID())
			continue
		}
		room := rooms[(step/2)%len(rooms)]
		attach(t, m, room, c)
		want[c.ID()] = domain.RoomName(room)
	}

	counts := map[domain.RoomName]int{}
	for _, c := range conns {
		room, _, ok := m.Lookup(c.ID())
		wantRoom, joined := want[c.ID()]
		require.Equal(t, joined, ok, "membership of %s", c.ID())
		if ok {
			assert.Equal(t, wantRoom, room)
			counts[room]++
		}
	}
	total := 0
	for _, ov := range m.RoomsOverview() {
		assert.Equal(t, counts[ov.Name], ov.MemberCount, "room %s", ov.Name)
		assert.Len(t, ov.Members, ov.MemberCount)
		total += ov.MemberCount
	}
	assert.Equal(t, len(want), total)
	assert.Equal(t, len(want), m.TotalConnections())
}

func TestDetachKeepsEmptyRoom(t *testing.T) {
	m := NewRoomManager(nil)
	x := newFakeConn("x")
	attach(t, m, "jam", x)

	res := m.Detach("x", nil)
	assert.True(t, res.Detached)
	assert.Equal(t, domain.RoomName("jam"), res.Room)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 1, m.RoomCount())

	again := m.Detach("x", nil)
	assert.False(t, again.Detached)
}

func TestAttachCallbackSeesLastSync(t *testing.T) {
	m := NewRoomManager(nil)
	x, z := newFakeConn("x"), newFakeConn("z")
	attach(t, m, "jam", x)
	_, err := m.PublishSync("x", "jam", domain.LastSync{SyncID: 111, Payload: json.RawMessage(`{"url":"https://x/1"}`)}, core.Frame("sync"))
	require.NoError(t, err)

	var seen AttachResult
	_, err = m.Attach("jam", z, domain.Identity{}, func(r AttachResult) { seen = r })
	require.NoError(t, err)
	require.NotNil(t, seen.LastSync)
	assert.Equal(t, int64(111), seen.LastSync.SyncID)
	assert.JSONEq(t, `{"url":"https://x/1"}`, string(seen.LastSync.Payload))
	assert.Len(t, seen.Members, 2)
}

func TestPublishSyncFansOutToEveryMember(t *testing.T) {
	m := NewRoomManager(nil)
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	uid := int64(42)
	_, err := m.Attach("jam", a, domain.Identity{UserID: &uid, Username: "alice"}, nil)
	require.NoError(t, err)
	attach(t, m, "jam", b)
	attach(t, m, "jam", c)
	other := newFakeConn("o")
	attach(t, m, "elsewhere", other)

	res, err := m.PublishSync("a", "jam", domain.LastSync{SyncID: 7, Payload: json.RawMessage(`1`)}, core.Frame("f"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.SendTo)
	assert.Empty(t, res.Dropped)
	for _, conn := range []*fakeConn{a, b, c} {
		assert.Equal(t, []core.Frame{core.Frame("f")}, conn.received())
	}
	assert.Empty(t, other.received())

	s, ok := m.GetLastSync("jam")
	require.True(t, ok)
	assert.Equal(t, int64(7), s.SyncID)
	require.NotNil(t, s.SenderUserID)
	assert.Equal(t, int64(42), *s.SenderUserID)
	assert.Equal(t, "alice", s.SenderUsername)
}

func TestPublishSyncRequiresJoinedSender(t *testing.T) {
	m := NewRoomManager(nil)
	attach(t, m, "a-room", newFakeConn("a"))

	_, err := m.PublishSync("ghost", "a-room", domain.LastSync{SyncID: 1}, core.Frame("f"))
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = m.PublishSync("a", "", domain.LastSync{SyncID: 1}, core.Frame("f"))
	assert.ErrorIs(t, err, ErrRoomRequired)
	_, ok := m.GetLastSync("a-room")
	assert.False(t, ok)
}

func TestPublishSyncToAnotherRoom(t *testing.T) {
	m := NewRoomManager(nil)
	uid := int64(3)
	sender, peer := newFakeConn("sender"), newFakeConn("peer")
	_, err := m.Attach("mine", sender, domain.Identity{UserID: &uid, Username: "sam"}, nil)
	require.NoError(t, err)
	attach(t, m, "other", peer)

	res, err := m.PublishSync("sender", "other", domain.LastSync{SyncID: 7}, core.Frame("f"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []core.Frame{core.Frame("f")}, peer.received())
	assert.Empty(t, sender.received())

	s, ok := m.GetLastSync("other")
	require.True(t, ok)
	assert.Equal(t, int64(7), s.SyncID)
	require.NotNil(t, s.SenderUserID)
	assert.Equal(t, uid, *s.SenderUserID)
	assert.Equal(t, "sam", s.SenderUsername)
	_, ok = m.GetLastSync("mine")
	assert.False(t, ok)
}

func TestSetPasswordReportsResultUnderConcurrency(t *testing.T) {
	m := NewRoomManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		pw := ""
		if i%2 == 0 {
			pw = fmt.Sprintf("pw-%d", i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			has, err := m.SetPassword("jam", pw)
			assert.NoError(t, err)
			assert.Equal(t, pw != "", has)
		}()
	}
	wg.Wait()
}

func TestBroadcastContinuesPastFullQueue(t *testing.T) {
	m := NewRoomManager(nil)
	a, slow, c := newFakeConn("a"), newFakeConn("slow"), newFakeConn("c")
	slow.full = true
	attach(t, m, "jam", a)
	attach(t, m, "jam", slow)
	attach(t, m, "jam", c)

	res := m.Broadcast("jam", core.Frame("x"))
	assert.Equal(t, 2, res.SendTo)
	assert.Equal(t, []core.SignalConnection{slow}, res.Dropped)
	assert.Len(t, a.received(), 1)
	assert.Len(t, c.received(), 1)
}

func TestDeleteRoomCascades(t *testing.T) {
	st := &memStore{}
	m := NewRoomManager(st)
	x, y := newFakeConn("x"), newFakeConn("y")
	setPassword(t, m, "jam", "1234")
	attach(t, m, "jam", x)
	attach(t, m, "jam", y)
	m.SetLastSync("jam", domain.LastSync{SyncID: 1})

	require.NoError(t, m.DeleteRoom("jam"))

	for _, c := range []*fakeConn{x, y} {
		assert.True(t, c.closed)
		assert.Equal(t, core.CloseNormal, c.closeCode)
		assert.Equal(t, core.ReasonRoomDeleted, c.closeReason)
		_, _, ok := m.Lookup(c.ID())
		assert.False(t, ok)
	}
	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 0, m.MemberCount("jam"))
	_, ok := m.GetLastSync("jam")
	assert.False(t, ok)
	assert.NotContains(t, st.rooms, domain.RoomName("jam"))
	assert.True(t, m.VerifyPassword("jam", ""))

	assert.NoError(t, m.DeleteRoom("jam"))
}

func TestRoomsOverviewIsSortedByName(t *testing.T) {
	m := NewRoomManager(nil)
	require.NoError(t, m.EnsureRoom("zeta"))
	setPassword(t, m, "alpha", "pw")
	first, second := newFakeConn("1"), newFakeConn("2")
	attach(t, m, "mid", first)
	attach(t, m, "mid", second)
	m.SetLastSync("mid", domain.LastSync{SyncID: 9})

	ov := m.RoomsOverview()
	require.Len(t, ov, 3)
	assert.Equal(t, []domain.RoomName{"alpha", "mid", "zeta"}, []domain.RoomName{ov[0].Name, ov[1].Name, ov[2].Name})
	assert.True(t, ov[0].HasPassword)
	assert.Nil(t, ov[0].LastSync)
	assert.Equal(t, 2, ov[1].MemberCount)
	assert.Equal(t, "dev-1", ov[1].Members[0].DeviceID)
	assert.Equal(t, "dev-2", ov[1].Members[1].DeviceID)
	require.NotNil(t, ov[1].LastSync)
	assert.Equal(t, int64(9), ov[1].LastSync.SyncID)
}

func TestRegistrySurvivesRestart(t *testing.T) {
	st := &memStore{}
	m := NewRoomManager(st)
	setPassword(t, m, "locked", "pw")
	require.NoError(t, m.EnsureRoom("open"))
	attach(t, m, "implicit", newFakeConn("x"))
	m.SetLastSync("open", domain.LastSync{SyncID: 3})

	restarted := NewRoomManager(st)
	assert.Equal(t, 3, restarted.RoomCount())
	assert.True(t, restarted.HasPassword("locked"))
	assert.True(t, restarted.VerifyPassword("locked", "pw"))
	assert.False(t, restarted.VerifyPassword("locked", "nope"))
	assert.Equal(t, 0, restarted.TotalConnections())
	_, ok := restarted.GetLastSync("open")
	assert.False(t, ok)
}

func TestEnsureRoomPersistsOnlyOnCreation(t *testing.T) {
	st := &memStore{}
	m := NewRoomManager(st)
	require.NoError(t, m.EnsureRoom("jam"))
	require.NoError(t, m.EnsureRoom("jam"))
	assert.Equal(t, 1, st.saves)
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	m := NewRoomManager(&memStore{loadErr: errors.New("corrupt")})
	assert.Equal(t, 0, m.RoomCount())
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	st := &memStore{saveErr: errors.New("disk full")}
	m := NewRoomManager(st)

	has, err := m.SetPassword("jam", "pw")
	assert.ErrorIs(t, err, ErrPersist)
	assert.True(t, has)
	assert.True(t, m.HasPassword("jam"))
	assert.False(t, m.VerifyPassword("jam", "bad"))

	_, err = m.Attach("other", newFakeConn("x"), domain.Identity{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, m.MemberCount("other"))
}
