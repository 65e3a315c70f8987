package app

import (
	"slices"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
)

type memberEntry struct {
	conn     core.SignalConnection
	room     domain.RoomName
	identity domain.Identity
	seq      uint64
}

// Membership tracks which connection sits in which room.
// A connection is listed under a room iff its entry names that room.
// It is not safe for concurrent use; RoomManager guards it.
type Membership struct {
	byRoom  map[domain.RoomName]map[core.SessionID]*memberEntry
	bySID   map[core.SessionID]*memberEntry
	nextSeq uint64
}

func NewMembership() *Membership {
	return &Membership{
		byRoom: make(map[domain.RoomName]map[core.SessionID]*memberEntry),
		bySID:  make(map[core.SessionID]*memberEntry),
	}
}

func (m *Membership) EnsureRoom(name domain.RoomName) {
	if _, ok := m.byRoom[name]; !ok {
		m.byRoom[name] = make(map[core.SessionID]*memberEntry)
	}
}

// Add places conn in room name. The caller must have removed any previous
// membership of conn first.
func (m *Membership) Add(name domain.RoomName, conn core.SignalConnection, identity domain.Identity) int {
	m.EnsureRoom(name)
	m.nextSeq++
	e := &memberEntry{conn: conn, room: name, identity: identity, seq: m.nextSeq}
	m.byRoom[name][conn.ID()] = e
	m.bySID[conn.ID()] = e
	return len(m.byRoom[name])
}

// Remove drops sid from its room and returns the room and what is left in it.
func (m *Membership) Remove(sid core.SessionID) (domain.RoomName, int, bool) {
	e, ok := m.bySID[sid]
	if !ok {
		return "", 0, false
	}
	delete(m.bySID, sid)
	set := m.byRoom[e.room]
	delete(set, sid)
	return e.room, len(set), true
}

func (m *Membership) Lookup(sid core.SessionID) (*memberEntry, bool) {
	e, ok := m.bySID[sid]
	return e, ok
}

func (m *Membership) Count(name domain.RoomName) int { return len(m.byRoom[name]) }

func (m *Membership) Total() int { return len(m.bySID) }

// Members returns the entries of a room in join order.
func (m *Membership) Members(name domain.RoomName) []*memberEntry {
	set := m.byRoom[name]
	out := make([]*memberEntry, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *memberEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

func (m *Membership) Conns(name domain.RoomName) []core.SignalConnection {
	members := m.Members(name)
	out := make([]core.SignalConnection, 0, len(members))
	for _, e := range members {
		out = append(out, e.conn)
	}
	return out
}

// DropRoom forgets the room and every membership in it, returning the
// connections that were attached.
func (m *Membership) DropRoom(name domain.RoomName) []core.SignalConnection {
	conns := m.Conns(name)
	for _, c := range conns {
		delete(m.bySID, c.ID())
	}
	delete(m.byRoom, name)
	return conns
}
