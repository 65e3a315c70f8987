package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomRequired = errors.New("room name required")
	ErrNotMember    = errors.New("connection has not joined a room")
	ErrPersist      = errors.New("persist room registry")
)

// AttachResult describes a connection's membership right after Attach.
type AttachResult struct {
	Room    domain.RoomName
	Count   int
	Members []core.SignalConnection

	// Previous is set when the connection was moved out of another room.
	Previous        domain.RoomName
	PreviousCount   int
	PreviousMembers []core.SignalConnection

	LastSync *domain.LastSync
}

// DetachResult describes what a room looks like after a connection left it.
type DetachResult struct {
	Detached bool
	Room     domain.RoomName
	Count    int
	Members  []core.SignalConnection
}

// RoomManager owns the room registry, the membership table and the
// last-sync cache. One mutex serialises every operation.
//
// Callbacks passed to Attach and Detach run while the lock is held: they
// must only do non-blocking sends and must not call back into the manager.
type RoomManager struct {
	mu       sync.Mutex
	registry *Registry
	members  *Membership
	lastSync *LastSyncCache
	store    core.RegistryStore
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRoomManager loads the registry from store. A missing or unreadable
// registry starts the manager empty. store may be nil for a memory-only manager.
func NewRoomManager(store core.RegistryStore) *RoomManager {
	m := &RoomManager{
		registry: NewRegistry(),
		members:  NewMembership(),
		lastSync: NewLastSyncCache(),
		store:    store,
		now:      time.Now,
		logger:   log.With().Str("module", "app.rooms").Logger(),
	}
	if store == nil {
		return m
	}
	rooms, err := store.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("registry load failed, starting empty")
		return m
	}
	m.registry.Restore(rooms)
	for _, name := range m.registry.Names() {
		m.members.EnsureRoom(name)
	}
	m.logger.Info().Int("rooms", m.registry.Len()).Msg("registry loaded")
	return m
}

// WithClock replaces the time source used for default sync ids.
func (m *RoomManager) WithClock(now func() time.Time) *RoomManager {
	m.now = now
	return m
}

// Now returns the manager's clock reading.
func (m *RoomManager) Now() time.Time { return m.now() }

func (m *RoomManager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.registry.Snapshot()); err != nil {
		m.logger.Error().Err(err).Msg("registry save failed, keeping in-memory state")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (m *RoomManager) ensureLocked(name domain.RoomName) (created bool) {
	m.members.EnsureRoom(name)
	if !m.registry.Ensure(name) {
		return false
	}
	m.logger.Info().Str("room", string(name)).Msg("room created")
	return true
}

// EnsureRoom creates the room if it does not exist yet.
func (m *RoomManager) EnsureRoom(name domain.RoomName) error {
	if name == "" {
		return ErrRoomRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensureLocked(name) {
		return m.persistLocked()
	}
	return nil
}

// SetPassword sets or, with an empty password, clears the room password and
// reports whether the room is protected afterwards. The room is created when
// missing. A persistence failure still leaves the new password in effect.
func (m *RoomManager) SetPassword(name domain.RoomName, password string) (bool, error) {
	if name == "" {
		return false, ErrRoomRequired
	}
	var salt, hash []byte
	if password != "" {
		var err error
		if salt, err = newSalt(); err != nil {
			return false, err
		}
		if hash, err = hashPassword(password, salt); err != nil {
			return false, fmt.Errorf("hash password: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(name)
	if password == "" {
		m.registry.ClearPassword(name)
	} else {
		m.registry.SetPassword(name, salt, hash)
	}
	room, _ := m.registry.Get(name)
	m.logger.Info().Str("room", string(name)).Bool("has_password", room.HasPassword).Msg("password updated")
	return room.HasPassword, m.persistLocked()
}

// HasPassword reports whether the room is password protected.
func (m *RoomManager) HasPassword(name domain.RoomName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.registry.Get(name)
	return ok && room.HasPassword
}

// VerifyPassword is true for rooms without a password, unknown rooms included.
func (m *RoomManager) VerifyPassword(name domain.RoomName, supplied string) bool {
	m.mu.Lock()
	room, ok := m.registry.Get(name)
	m.mu.Unlock()
	if !ok || !room.HasPassword {
		return true
	}
	return checkPassword(supplied, room.Salt, room.PasswordHash)
}

// DeleteRoom removes every trace of the room and closes its members with a
// normal closure. Unknown rooms are a no-op.
func (m *RoomManager) DeleteRoom(name domain.RoomName) error {
	m.mu.Lock()
	removed := m.registry.Remove(name)
	conns := m.members.DropRoom(name)
	m.lastSync.Delete(name)
	var err error
	if removed {
		err = m.persistLocked()
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close(core.CloseNormal, core.ReasonRoomDeleted)
	}
	if removed || len(conns) > 0 {
		m.logger.Info().Str("room", string(name)).Int("closed", len(conns)).Msg("room deleted")
	}
	return err
}

// Attach moves conn into room name, creating the room when needed.
func (m *RoomManager) Attach(
	name domain.RoomName,
	conn core.SignalConnection,
	identity domain.Identity,
	then func(AttachResult),
) (AttachResult, error) {
	if name == "" {
		return AttachResult{}, ErrRoomRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ensureLocked(name) {
		// Already logged; a failed save must not refuse the join.
		_ = m.persistLocked()
	}

	res := AttachResult{Room: name}
	if prev, left, ok := m.members.Remove(conn.ID()); ok && prev != name {
		res.Previous = prev
		res.PreviousCount = left
		res.PreviousMembers = m.members.Conns(prev)
	}
	res.Count = m.members.Add(name, conn, identity)
	res.Members = m.members.Conns(name)
	if s, ok := m.lastSync.Get(name); ok {
		res.LastSync = &s
	}
	m.logger.Info().Str("sid", string(conn.ID())).Str("room", string(name)).Int("count", res.Count).Msg("member attached")

	if then != nil {
		then(res)
	}
	return res, nil
}

// Detach removes sid from its room. The room itself is kept even when empty.
func (m *RoomManager) Detach(sid core.SessionID, then func(DetachResult)) DetachResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, count, ok := m.members.Remove(sid)
	if !ok {
		return DetachResult{}
	}
	res := DetachResult{
		Detached: true,
		Room:     room,
		Count:    count,
		Members:  m.members.Conns(room),
	}
	m.logger.Info().Str("sid", string(sid)).Str("room", string(room)).Int("count", count).Msg("member detached")
	if then != nil {
		then(res)
	}
	return res
}

// Lookup returns the room and identity recorded for sid.
func (m *RoomManager) Lookup(sid core.SessionID) (domain.RoomName, domain.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.members.Lookup(sid)
	if !ok {
		return "", domain.Identity{}, false
	}
	return e.room, e.identity, true
}

func (m *RoomManager) SetLastSync(name domain.RoomName, s domain.LastSync) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync.Set(name, s)
}

func (m *RoomManager) GetLastSync(name domain.RoomName) (domain.LastSync, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync.Get(name)
}

// PublishSync stores s as the last sync of room name and fans frame out to
// every member, sender included. sid must have joined a room, not necessarily
// name; the sender identity is taken from its membership record. Last write wins.
func (m *RoomManager) PublishSync(
	sid core.SessionID,
	name domain.RoomName,
	s domain.LastSync,
	frame core.Frame,
) (core.PublishResult, error) {
	if name == "" {
		return core.PublishResult{}, ErrRoomRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.members.Lookup(sid)
	if !ok {
		return core.PublishResult{}, ErrNotMember
	}
	s.SenderUserID = e.identity.UserID
	s.SenderUsername = e.identity.Username
	m.lastSync.Set(name, s)
	return Fanout(m.members.Conns(name), frame), nil
}

// Broadcast fans frame out to every current member of the room.
func (m *RoomManager) Broadcast(name domain.RoomName, frame core.Frame) core.PublishResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Fanout(m.members.Conns(name), frame)
}

func (m *RoomManager) MemberCount(name domain.RoomName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members.Count(name)
}

func (m *RoomManager) TotalConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members.Total()
}

func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Len()
}

// RoomsOverview is a read-only presence snapshot sorted by room name.
func (m *RoomManager) RoomsOverview() []core.RoomOverview {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.registry.Names()
	out := make([]core.RoomOverview, 0, len(names))
	for _, name := range names {
		room, _ := m.registry.Get(name)
		entries := m.members.Members(name)
		members := make([]core.MemberDTO, 0, len(entries))
		for _, e := range entries {
			members = append(members, core.MemberDTO{
				DeviceID: e.identity.DeviceID,
				UserID:   e.identity.UserID,
				Username: e.identity.Username,
			})
		}
		ov := core.RoomOverview{
			Name:        name,
			MemberCount: len(entries),
			HasPassword: room.HasPassword,
			Members:     members,
		}
		if s, ok := m.lastSync.Get(name); ok {
			ov.LastSync = &s
		}
		out = append(out, ov)
	}
	return out
}
