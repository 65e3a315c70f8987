package app

import (
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomName, member core.SignalConnection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, core.SignalConnection) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame for the slow member and keeps it connected.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.RoomName, core.SignalConnection) BackpressureAction {
	return NoAction
}

// Fanout sends f to every connection. A failed send is recorded and never
// stops delivery to the rest.
func Fanout(conns []core.SignalConnection, f core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for _, c := range conns {
		if err := c.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.SendTo++
	}
	return res
}
