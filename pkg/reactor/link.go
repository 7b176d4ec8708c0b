package reactor

import (
	"log"
	"time"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

// LinkState is the lifecycle of one link. Transitions are monotonic:
// Invalid -> Opening -> Open -> Start -> End -> Close. Start is skipped on
// failure paths; End and Close always happen in that order once teardown
// begins.
type LinkState uint8

const (
	LinkInvalid LinkState = iota
	LinkOpening
	LinkOpen
	LinkStart
	LinkEnd
	LinkClose
)

var startTime = time.Now()

func steadyMillis() int64 { return int64(time.Since(startTime) / time.Millisecond) }

// Link is one transport endpoint. It owns its pipeline and its two staging
// buffers, and is mutated only on the reactor goroutine. The reactor owns it
// from registration until its close completion hands it back to the factory
// pool through the stamped deallocator.
type Link struct {
	reactor  *Reactor
	linkID   netmsg.LinkID
	groupID  netmsg.GroupID
	isServer bool
	state    LinkState

	closeReason error
	writingSize int64
	lastAlive   int64
	aliveTimer  int64

	reader *buf.Fixed
	writer *buf.Fixed

	stack   *ProtocolStack
	readMsg *netmsg.NetMsg

	conn        tcpConn
	deallocator func(*Link)
}

// NewLink builds a link around its pipeline. Most callers go through the
// factory instead.
func NewLink(stack *ProtocolStack) *Link {
	return &Link{stack: stack}
}

func (l *Link) init(r *Reactor) error {
	l.reactor = r
	l.closeReason = nil
	if l.reader == nil {
		l.reader = r.getTCPBuffer()
	} else {
		l.reader.Clear()
	}
	if l.writer == nil {
		l.writer = r.getTCPBuffer()
	} else {
		l.writer.Clear()
	}
	if l.reader == nil || l.writer == nil {
		return neterr.MemoryNotEnough
	}
	return nil
}

func (l *Link) clear() {
	if l.reactor != nil {
		l.reactor.freeTCPBuffer(l.reader)
		l.reactor.freeTCPBuffer(l.writer)
	}
	l.reactor = nil
	l.linkID = 0
	l.groupID = 0
	l.isServer = false
	l.state = LinkInvalid
	l.closeReason = nil
	l.writingSize = 0
	l.lastAlive = 0
	l.aliveTimer = 0
	l.reader = nil
	l.writer = nil
	l.conn = nil
	l.freeReadMsg()
}

// free hands the link back to its originating pool via the deallocator the
// factory stamped at allocation time.
func (l *Link) free() {
	if l.deallocator == nil {
		log.Printf("not found link(%d:%d) deallocator, maybe leak memory", l.groupID, l.linkID)
		return
	}
	gc := l.deallocator
	l.deallocator = nil
	gc(l)
}

func (l *Link) resetID(groupID netmsg.GroupID, linkID netmsg.LinkID, isServer bool) {
	l.groupID = groupID
	l.linkID = linkID
	l.isServer = isServer
	l.state = LinkOpening
}

func (l *Link) ID() netmsg.LinkID         { return l.linkID }
func (l *Link) GroupID() netmsg.GroupID   { return l.groupID }
func (l *Link) IsServer() bool            { return l.isServer }
func (l *Link) State() LinkState          { return l.state }
func (l *Link) CloseReason() error        { return l.closeReason }
func (l *Link) Reactor() *Reactor         { return l.reactor }
func (l *Link) LinkMgr() *LinkMgr         { return &l.reactor.links }
func (l *Link) Config() *Config           { return &l.reactor.cfg }
func (l *Link) aliveTimerID() int64       { return l.aliveTimer }
func (l *Link) setAliveTimer(id int64)    { l.aliveTimer = id }

// Valid reports whether the link is still on its way up or up.
func (l *Link) Valid() bool {
	return l.state == LinkOpening || l.state == LinkOpen || l.state == LinkStart
}

// Alive reports whether the link is up and has seen traffic within the
// keepalive window.
func (l *Link) Alive() bool {
	if l.state != LinkOpen && l.state != LinkStart {
		return false
	}
	ka := l.reactor.cfg.KeepAlive
	if ka <= 0 {
		return true
	}
	return steadyMillis()-l.lastAlive < ka.Milliseconds()
}

// Close begins teardown, recording the reason. Valid only from
// Opening/Open/Start.
func (l *Link) Close(reason error) error {
	if l.state == LinkInvalid || l.state == LinkClose || l.state == LinkEnd || l.reactor == nil {
		return neterr.StateError
	}
	l.closeReason = reason
	l.stack.OnEnd(l)
	l.reactor.closeTCP(l)
	return nil
}

// SendMsg pushes a message into the pipeline. Valid only in Start.
func (l *Link) SendMsg(m *netmsg.NetMsg) error {
	if l.state != LinkStart {
		return neterr.StateError
	}
	return l.stack.OnWrite(l, m)
}

// onOpen runs when the transport becomes readable.
func (l *Link) onOpen() {
	l.state = LinkOpen
	l.lastAlive = steadyMillis()
	if l.reactor != nil {
		l.reactor.handleLinkOpen(l)
	}
	if err := l.stack.OnStart(l); err != nil {
		l.LinkMgr().CloseLink(l, err)
	}
}

// onClose runs after the kernel-side close completes.
func (l *Link) onClose() {
	if l.reactor != nil {
		l.reactor.handleLinkClose(l)
	}
	l.state = LinkClose
}

// read runs when bytes were just appended to the read staging buffer.
func (l *Link) read() error {
	if !l.Valid() || l.reader == nil {
		return neterr.StateError
	}
	l.lastAlive = steadyMillis()
	return l.stack.OnRead(l, l.reader)
}

func (l *Link) onStart() error {
	if l.state != LinkOpen || l.reactor == nil {
		return neterr.StateError
	}
	l.state = LinkStart
	l.reactor.handleLinkStart(l)
	return nil
}

func (l *Link) onRead(m *netmsg.NetMsg) error {
	if !l.Valid() || l.reactor == nil {
		if m != nil {
			m.Free()
		}
		return neterr.StateError
	}
	l.pushReadMsg(m)
	l.reactor.handleLinkMsg(l)
	return nil
}

func (l *Link) onWrite(b buf.Reader, leftSize int64) error {
	if !l.Valid() || l.reactor == nil {
		return neterr.StateError
	}
	if err := l.pushData(b, leftSize <= 0); err != nil {
		return err
	}
	l.LinkMgr().needFlush(l)
	return nil
}

func (l *Link) onEnd() error {
	if (l.state != LinkOpen && l.state != LinkStart) || l.reactor == nil {
		return neterr.StateError
	}
	prev := l.state
	l.state = LinkEnd
	if prev == LinkStart {
		l.reactor.handleLinkEnd(l)
	}
	return nil
}

func (l *Link) pushReadMsg(m *netmsg.NetMsg) {
	l.freeReadMsg()
	l.readMsg = m
}

// popReadMsg transfers ownership of the delivered message to the caller.
func (l *Link) popReadMsg() *netmsg.NetMsg {
	m := l.readMsg
	l.readMsg = nil
	return m
}

func (l *Link) freeReadMsg() {
	if l.readMsg != nil {
		l.readMsg.Free()
		l.readMsg = nil
	}
}

// WritingFlag reports the flag of the message currently in the write path.
func (l *Link) WritingFlag() netmsg.Flag { return l.stack.WritingFlag() }

func (l *Link) swapWriter(b *buf.Fixed) *buf.Fixed {
	if b == nil {
		return nil
	}
	old := l.writer
	l.writer = b
	return old
}

func (l *Link) writingBytes() int64 { return l.writingSize }

func (l *Link) addWritingSize(n int) {
	l.writingSize += int64(n)
}

func (l *Link) finishWritingSize(n int) {
	l.writingSize -= int64(n)
	if l.writingSize < 0 {
		l.writingSize = 0
	}
}
