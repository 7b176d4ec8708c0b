// Package reactor implements a single-threaded event-loop core multiplexing
// many TCP links, each carrying a pluggable protocol pipeline. Kernel events
// arrive from netpoll pollers, which only copy bytes and enqueue; every
// link, pipeline and timer mutation happens on the goroutine driving Update.
package reactor

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/netpoll"
	"github.com/libp2p/go-reuseport"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

type reactorState int32

const (
	reactorInvalid reactorState = iota
	reactorValid
	reactorClosing
)

// ConnectCallback fires exactly once, on the reactor goroutine.
type ConnectCallback func(err error, groupID netmsg.GroupID, linkID netmsg.LinkID)

// GetHostIPCallback fires once on the reactor goroutine with the resolved
// address.
type GetHostIPCallback func(err error, ip string)

type ioKind uint8

const (
	ioAccept ioKind = iota + 1
	ioRead
	ioClosed
	ioConnected
	ioResolved
)

// ioEvent is the only thing crossing from poller threads into the reactor.
type ioEvent struct {
	kind     ioKind
	conn     netpoll.Connection
	data     []byte
	err      error
	ip       string
	linkType LinkType
	groupID  netmsg.GroupID
	connect  *connectReq
	resolve  *resolveReq
}

type connectReq struct {
	linkType LinkType
	groupID  netmsg.GroupID
	cb       ConnectCallback
}

type resolveReq struct {
	cb GetHostIPCallback
}

type tcpListener struct {
	groupID  netmsg.GroupID
	linkType LinkType
	ln       net.Listener
	loop     netpoll.EventLoop
}

// Reactor owns the I/O edge, the link registry, the timer wheel and the
// per-type object pools. It publishes the five link lifecycle events.
type Reactor struct {
	state reactorState
	cfg   Config
	links LinkMgr
	timer timerWheel
	rnd   *rand.Rand

	EventLinkOpen  Event[*Link]
	EventLinkStart Event[*Link]
	EventLinkMsg   Event[*Link]
	EventLinkEnd   Event[*Link]
	EventLinkClose Event[*Link]

	// Deferred closures: scheduled during frame N, run at the end of
	// frame N+1. This is the only place links are freed, so no upcall can
	// hold a dangling reference.
	readyFrame []func()
	workFrame  []func()

	mu      sync.Mutex
	pending []ioEvent
	spare   []ioEvent

	conns     map[netpoll.Connection]*Link
	listeners []*tcpListener

	bufPool     *buf.FreeList
	writeReqs   []*writeReq
	connectReqs []*connectReq
	resolveReqs []*resolveReq
}

func (r *Reactor) SetConfig(cfg Config) { r.cfg = cfg }

func (r *Reactor) Config() *Config { return &r.cfg }

func (r *Reactor) LinkMgr() *LinkMgr { return &r.links }

// Rand is the reactor-local generator (mask keys, handshake nonces).
func (r *Reactor) Rand() *rand.Rand { return r.rnd }

func (r *Reactor) Init() error {
	if r.state != reactorInvalid {
		return neterr.StateError
	}
	r.cfg.normalize()
	r.links.init()
	r.timer.init()
	r.conns = make(map[netpoll.Connection]*Link)
	r.bufPool = buf.NewFreeList(256, r.cfg.TCPBufferSize)
	r.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))
	r.state = reactorValid
	return nil
}

// Release tears the reactor down: listeners stop, every link closes, and the
// loop is pumped until all close completions have run.
func (r *Reactor) Release() {
	if r.state != reactorValid {
		return
	}
	r.state = reactorClosing

	for _, lst := range r.listeners {
		lst.ln.Close()
	}
	r.listeners = nil

	r.links.closeAllLinks(nil)
	deadline := time.Now().Add(time.Second)
	for r.links.Count() > 0 || len(r.readyFrame) > 0 || len(r.workFrame) > 0 {
		r.Update(1)
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	for _, l := range r.links.links {
		r.finishClose(l)
	}
	r.Update(1)
	r.Update(1)

	r.timer.release()
	r.EventLinkOpen.Clear()
	r.EventLinkStart.Clear()
	r.EventLinkMsg.Clear()
	r.EventLinkEnd.Clear()
	r.EventLinkClose.Clear()
	r.links.release()
	r.conns = nil
	r.state = reactorInvalid
}

// Update advances the timer wheel, flushes pending writes, drains the I/O
// edge once without blocking, then runs the deferred work scheduled on the
// previous frame.
func (r *Reactor) Update(delta int64) {
	if r.state == reactorInvalid {
		return
	}
	r.timer.Update(delta)
	r.links.flushLinks()
	r.pump()
	for _, fn := range r.workFrame {
		fn()
	}
	r.workFrame = r.workFrame[:0]
	r.readyFrame, r.workFrame = r.workFrame, r.readyFrame
}

func (r *Reactor) addNextFrame(fn func()) {
	if r.state == reactorInvalid {
		return
	}
	r.readyFrame = append(r.readyFrame, fn)
}

// ListenTCP binds a listening socket; accepted connections become links of
// the given variant under groupID.
func (r *Reactor) ListenTCP(linkType LinkType, groupID netmsg.GroupID, ip string, port int) error {
	if r.state != reactorValid {
		return neterr.StateError
	}
	if net.ParseIP(ip) == nil {
		return neterr.SockAddrInvalid
	}
	ln, err := reuseport.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return &neterr.Transport{Err: err}
	}
	npLn, err := netpoll.ConvertListener(ln)
	if err != nil {
		ln.Close()
		return &neterr.Transport{Err: err}
	}
	lst := &tcpListener{groupID: groupID, linkType: linkType, ln: ln}
	loop, err := netpoll.NewEventLoop(r.onConnRequest,
		netpoll.WithOnPrepare(func(conn netpoll.Connection) context.Context {
			r.enqueue(ioEvent{kind: ioAccept, conn: conn, linkType: linkType, groupID: groupID})
			return context.Background()
		}),
		netpoll.WithOnDisconnect(func(_ context.Context, conn netpoll.Connection) {
			r.enqueue(ioEvent{kind: ioClosed, conn: conn})
		}))
	if err != nil {
		ln.Close()
		return &neterr.Transport{Err: err}
	}
	lst.loop = loop
	r.listeners = append(r.listeners, lst)
	go func() {
		if err := loop.Serve(npLn); err != nil && r.state == reactorValid {
			log.Printf("listen group %d serve exit: %v", groupID, err)
		}
	}()
	return nil
}

// StopListenTCP stops accepting on every listener tagged groupID; existing
// links stay up.
func (r *Reactor) StopListenTCP(groupID netmsg.GroupID) {
	if r.state != reactorValid {
		return
	}
	kept := r.listeners[:0]
	for _, lst := range r.listeners {
		if lst.groupID == groupID {
			lst.ln.Close()
			continue
		}
		kept = append(kept, lst)
	}
	r.listeners = kept
}

// ConnectTCP resolves host, dials, registers a link of the given variant and
// invokes cb exactly once from the reactor goroutine.
func (r *Reactor) ConnectTCP(linkType LinkType, groupID netmsg.GroupID, host string, port int, cb ConnectCallback) {
	if cb == nil {
		log.Printf("tcp connect cb is nil")
		return
	}
	if host == "" || port == 0 {
		cb(neterr.InvalidArg, 0, 0)
		return
	}
	if r.state != reactorValid {
		cb(neterr.StateError, 0, 0)
		return
	}
	req := r.getConnectReq()
	req.linkType = linkType
	req.groupID = groupID
	req.cb = cb
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go func() {
		conn, err := netpoll.NewDialer().DialConnection("tcp", addr, 10*time.Second)
		r.enqueue(ioEvent{kind: ioConnected, conn: conn, err: err, connect: req})
	}()
}

// CloseLink is fire-and-forget; a second close or a send on the same id
// no-ops.
func (r *Reactor) CloseLink(linkID netmsg.LinkID, reason error) {
	if r.state != reactorValid {
		return
	}
	r.links.CloseLinkID(linkID, reason)
}

// GetHostIP resolves host off-thread and delivers the first address on the
// reactor goroutine.
func (r *Reactor) GetHostIP(host string, cb GetHostIPCallback) {
	if cb == nil {
		log.Printf("get host ip cb is nil")
		return
	}
	if host == "" {
		cb(neterr.InvalidArg, "")
		return
	}
	if r.state != reactorValid {
		cb(neterr.StateError, "")
		return
	}
	req := r.getResolveReq()
	req.cb = cb
	go func() {
		addrs, err := net.DefaultResolver.LookupHost(context.Background(), host)
		ev := ioEvent{kind: ioResolved, resolve: req}
		switch {
		case err != nil:
			ev.err = &neterr.Transport{Err: err}
		case len(addrs) == 0:
			ev.err = neterr.NullPointer
		default:
			ev.ip = addrs[0]
		}
		r.enqueue(ev)
	}()
}

// Poller-side callbacks: copy and enqueue only.

func (r *Reactor) onConnRequest(_ context.Context, conn netpoll.Connection) error {
	reader := conn.Reader()
	n := reader.Len()
	if n == 0 {
		return nil
	}
	data, err := reader.Next(n)
	if err != nil {
		return err
	}
	cp := buf.GetBytes(n)
	copy(cp, data)
	reader.Release()
	r.enqueue(ioEvent{kind: ioRead, conn: conn, data: cp})
	return nil
}

func (r *Reactor) onConnClosed(conn netpoll.Connection) error {
	r.enqueue(ioEvent{kind: ioClosed, conn: conn})
	return nil
}

func (r *Reactor) enqueue(ev ioEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
}

func (r *Reactor) pump() {
	r.mu.Lock()
	evs := r.pending
	r.pending = r.spare[:0]
	r.mu.Unlock()
	for i := range evs {
		r.handleIOEvent(&evs[i])
		evs[i] = ioEvent{}
	}
	r.spare = evs[:0]
}

func (r *Reactor) handleIOEvent(ev *ioEvent) {
	switch ev.kind {
	case ioAccept:
		r.handleAccept(ev)
	case ioRead:
		r.handleRead(ev)
	case ioClosed:
		r.handleClosed(ev)
	case ioConnected:
		r.handleConnected(ev)
	case ioResolved:
		cb := ev.resolve.cb
		r.freeResolveReq(ev.resolve)
		cb(ev.err, ev.ip)
	}
}

func (r *Reactor) handleAccept(ev *ioEvent) {
	if r.state != reactorValid {
		ev.conn.Close()
		return
	}
	l := allocLink(ev.linkType)
	if l == nil {
		log.Printf("accept failed, unknown link type %d", ev.linkType)
		ev.conn.Close()
		return
	}
	if err := l.init(r); err != nil {
		log.Printf("accept failed, link init error `%v`", err)
		l.free()
		ev.conn.Close()
		return
	}
	l.bindConn(npConn{ev.conn})
	r.conns[ev.conn] = l
	if err := r.links.addLink(l, ev.groupID, true); err != nil {
		r.links.CloseLink(l, err)
		return
	}
	l.onOpen()
}

func (r *Reactor) handleRead(ev *ioEvent) {
	defer buf.PutBytes(ev.data)
	l := r.conns[ev.conn]
	if l == nil || !l.Valid() {
		return
	}
	data := ev.data
	for len(data) > 0 && l.Valid() {
		n := len(data)
		if free := l.reader.Free(); n > free {
			n = free
		}
		copy(l.reader.FreeSpace(), data[:n])
		l.reader.Advance(n)
		data = data[n:]
		if err := l.read(); err != nil {
			log.Printf("link(%d:%d) read failed, error `%v`", l.GroupID(), l.ID(), err)
			r.links.CloseLink(l, err)
			return
		}
		l.reader.Clear()
	}
}

func (r *Reactor) handleClosed(ev *ioEvent) {
	l := r.conns[ev.conn]
	if l == nil {
		return
	}
	delete(r.conns, ev.conn)
	if l.Valid() {
		l.Close(&neterr.Transport{Err: io.EOF})
	}
	r.finishClose(l)
}

func (r *Reactor) handleConnected(ev *ioEvent) {
	req := ev.connect
	cb := req.cb
	defer r.freeConnectReq(req)
	if ev.err != nil {
		cb(&neterr.Transport{Err: ev.err}, req.groupID, 0)
		return
	}
	conn := ev.conn
	if r.state != reactorValid {
		conn.Close()
		cb(neterr.StateError, req.groupID, 0)
		return
	}
	l := allocLink(req.linkType)
	if l == nil {
		conn.Close()
		cb(neterr.MemoryNotEnough, req.groupID, 0)
		return
	}
	if err := l.init(r); err != nil {
		l.free()
		conn.Close()
		cb(err, req.groupID, 0)
		return
	}
	l.bindConn(npConn{conn})
	r.conns[conn] = l
	if err := r.links.addLink(l, req.groupID, false); err != nil {
		r.links.CloseLink(l, err)
		cb(err, req.groupID, 0)
		return
	}
	conn.SetOnRequest(r.onConnRequest)
	conn.AddCloseCallback(r.onConnClosed)
	l.onOpen()
	cb(nil, req.groupID, l.ID())
}

// closeTCP closes the kernel side of the link and finishes the lifecycle
// locally, without waiting for a poller close callback.
func (r *Reactor) closeTCP(l *Link) {
	if l.conn == nil {
		r.finishClose(l)
		return
	}
	if l.conn.isActive() {
		// Last staged bytes (e.g. a WebSocket Close frame written during
		// teardown) still get their chance at the wire.
		if l.writer != nil && l.writer.Len() > 0 {
			data := l.writer.Data()
			l.writer.Skip(len(data))
			l.conn.write(data)
		}
		l.conn.closeConn()
	}
	// The kernel side is done with us; finish locally instead of waiting on
	// the poller, and unmap the connection so a late disconnect callback
	// cannot touch a recycled link.
	if nc, ok := l.conn.(npConn); ok {
		delete(r.conns, nc.c)
	}
	r.finishClose(l)
}

func (r *Reactor) finishClose(l *Link) {
	if l.state == LinkClose {
		return
	}
	l.onClose()
	r.addNextFrame(func() {
		r.links.removeLink(l.ID())
		l.free()
	})
}

// Lifecycle event fan-out.

func (r *Reactor) handleLinkOpen(l *Link) {
	r.EventLinkOpen.Notify(l)
	ka := r.cfg.KeepAlive.Milliseconds()
	if ka <= 0 {
		return
	}
	timerID := r.timer.AddTimer(ka, ka, -1, func(int64) bool {
		if !l.Alive() {
			l.setAliveTimer(0)
			r.links.CloseLink(l, neterr.KeepAliveTimeout)
			return false
		}
		return true
	})
	if timerID <= 0 {
		log.Printf("link(%d:%d) add keep alive timer failed", l.GroupID(), l.ID())
		r.links.CloseLink(l, neterr.KeepAliveFailed)
		return
	}
	l.setAliveTimer(timerID)
}

func (r *Reactor) handleLinkStart(l *Link) { r.EventLinkStart.Notify(l) }

func (r *Reactor) handleLinkMsg(l *Link) { r.EventLinkMsg.Notify(l) }

func (r *Reactor) handleLinkEnd(l *Link) { r.EventLinkEnd.Notify(l) }

func (r *Reactor) handleLinkClose(l *Link) {
	r.EventLinkClose.Notify(l)
	if l.aliveTimerID() > 0 {
		r.timer.RemoveTimer(l.aliveTimerID())
		l.setAliveTimer(0)
	}
}

// Reactor-local object pools.

func (r *Reactor) getTCPBuffer() *buf.Fixed { return r.bufPool.Get() }

func (r *Reactor) freeTCPBuffer(b *buf.Fixed) {
	if b != nil {
		r.bufPool.Put(b)
	}
}

const reqPoolCap = 256

func (r *Reactor) getWriteReq() *writeReq {
	if n := len(r.writeReqs); n > 0 {
		req := r.writeReqs[n-1]
		r.writeReqs = r.writeReqs[:n-1]
		return req
	}
	return &writeReq{}
}

func (r *Reactor) freeWriteReq(req *writeReq) {
	req.clear()
	if len(r.writeReqs) < reqPoolCap {
		r.writeReqs = append(r.writeReqs, req)
	}
}

func (r *Reactor) getConnectReq() *connectReq {
	if n := len(r.connectReqs); n > 0 {
		req := r.connectReqs[n-1]
		r.connectReqs = r.connectReqs[:n-1]
		return req
	}
	return &connectReq{}
}

func (r *Reactor) freeConnectReq(req *connectReq) {
	*req = connectReq{}
	if len(r.connectReqs) < reqPoolCap {
		r.connectReqs = append(r.connectReqs, req)
	}
}

func (r *Reactor) getResolveReq() *resolveReq {
	if n := len(r.resolveReqs); n > 0 {
		req := r.resolveReqs[n-1]
		r.resolveReqs = r.resolveReqs[:n-1]
		return req
	}
	return &resolveReq{}
}

func (r *Reactor) freeResolveReq(req *resolveReq) {
	*req = resolveReq{}
	if len(r.resolveReqs) < reqPoolCap {
		r.resolveReqs = append(r.resolveReqs, req)
	}
}
