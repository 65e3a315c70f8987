package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// DeviceIDKey is the gin context key holding the session device id.
const DeviceIDKey = "device_id"

type Options struct {
	SendBuffer   int
	ReadLimit    int64
	WriteWait    time.Duration
	JoinAttempts int
	JoinInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		ReadLimit:    32768,
		WriteWait:    5 * time.Second,
		JoinAttempts: 20,
		JoinInterval: time.Minute,
	}
}

type SignalWSController struct {
	Rooms   *app.RoomManager
	Policy  app.Policy
	Metrics *metrics.Metrics

	opts  Options
	joins *RoomRateLimiter
	conns *ConnSet
}

func NewSignalWSController(rooms *app.RoomManager, policy app.Policy, m *metrics.Metrics, opts Options) *SignalWSController {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &SignalWSController{
		Rooms:   rooms,
		Policy:  policy,
		Metrics: m,
		opts:    opts,
		joins:   NewRoomRateLimiter(opts.JoinAttempts, opts.JoinInterval),
		conns:   NewConnSet(),
	}
}

// Conns is the set of open transport connections, joined or not.
func (ctl *SignalWSController) Conns() *ConnSet { return ctl.conns }

type WsSignalConn struct {
	id        core.SessionID
	device    string
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
	alive  atomic.Bool
}

func (c *WsSignalConn) ID() core.SessionID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	if f == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Close sends a close frame with code and reason, then drops the socket.
func (c *WsSignalConn) Close(code int, reason string) {
	if !c.markClosed() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	_ = c.conn.Close()
}

// Terminate drops the socket without a close handshake.
func (c *WsSignalConn) Terminate() {
	c.markClosed()
	_ = c.conn.Close()
}

// MarkAwaiting reports whether the previous ping was acknowledged and
// flags the connection as waiting for the next one.
func (c *WsSignalConn) MarkAwaiting() bool { return c.alive.Swap(false) }

func (c *WsSignalConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// ConnSet tracks open connections for the liveness sweep.
type ConnSet struct {
	mu    sync.RWMutex
	conns map[core.SessionID]*WsSignalConn
}

func NewConnSet() *ConnSet {
	return &ConnSet{conns: make(map[core.SessionID]*WsSignalConn)}
}

func (s *ConnSet) Add(c *WsSignalConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *ConnSet) Remove(sid core.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sid)
}

func (s *ConnSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Pingers snapshots the open connections.
func (s *ConnSet) Pingers() []Pinger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pinger, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until it closes
// or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	// The upgrade bypasses c.Writer's headers, so carry the session cookie over.
	var header http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:        core.NewSessionID(),
		device:    c.GetString(DeviceIDKey),
		conn:      ws,
		send:      make(chan core.Frame, ctl.opts.SendBuffer),
		writeWait: ctl.opts.WriteWait,
	}
	conn.alive.Store(true)
	ctl.conns.Add(conn)
	ctl.Metrics.ConnOpened()
	log.Info().Str("module", "signal").Str("sid", string(conn.id)).Msg("new WS connection")

	ctl.sendJSON(conn, welcomeMsg{Type: TypeWelcome})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(conn)
}
