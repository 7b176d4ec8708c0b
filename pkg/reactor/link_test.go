package reactor

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

type fakeConn struct {
	active   bool
	closed   bool
	writeErr error
	written  bytes.Buffer
}

func (f *fakeConn) isActive() bool { return f.active }

func (f *fakeConn) closeConn() error {
	f.active = false
	f.closed = true
	return nil
}

func (f *fakeConn) remoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
}

func (f *fakeConn) localAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4001}
}

func (f *fakeConn) write(p []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written.Write(p)
	return nil
}

// rawProto is a passthrough layer: inbound bytes are collected, outbound
// messages go straight to the byte level.
type rawProto struct {
	Base
	read bytes.Buffer
}

func (p *rawProto) Start(l *Link) error {
	if p.Next() == nil {
		return nil
	}
	return p.Next().Start(l)
}

func (p *rawProto) Read(l *Link, b buf.Reader) error {
	p.read.Write(b.Data())
	b.Skip(b.Len())
	return nil
}

func (p *rawProto) WriteMsg(l *Link, m *netmsg.NetMsg) error {
	return p.Pre().Write(l, m, 0, int64(m.Len()))
}

func (p *rawProto) End(l *Link) error {
	if p.Pre() == nil {
		return nil
	}
	return p.Pre().End(l)
}

func newTestReactor(t *testing.T, bufSize int) *Reactor {
	t.Helper()
	r := &Reactor{}
	r.SetConfig(Config{TCPBufferSize: bufSize})
	if err := r.Init(); err != nil {
		t.Fatalf("reactor init: %v", err)
	}
	return r
}

func newTestLink(t *testing.T, r *Reactor, fc *fakeConn, protos ...Protocol) *Link {
	t.Helper()
	stack, err := NewProtocolStack(protos...)
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	l := NewLink(stack)
	if err := l.init(r); err != nil {
		t.Fatalf("link init: %v", err)
	}
	l.bindConn(fc)
	if err := r.links.addLink(l, 1, true); err != nil {
		t.Fatalf("add link: %v", err)
	}
	l.deallocator = func(fl *Link) { fl.clear() }
	l.onOpen()
	return l
}

func sendBytes(t *testing.T, l *Link, payload []byte) {
	t.Helper()
	m := netmsg.Get()
	defer m.Free()
	m.SetBodyFlag(netmsg.BodyMsg)
	m.Write(payload)
	if err := l.SendMsg(m); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestLinkLifecycleEvents(t *testing.T) {
	r := newTestReactor(t, 64)
	var seq []string
	r.EventLinkOpen.Bind(func(*Link) bool { seq = append(seq, "open"); return true })
	r.EventLinkStart.Bind(func(*Link) bool { seq = append(seq, "start"); return true })
	r.EventLinkEnd.Bind(func(*Link) bool { seq = append(seq, "end"); return true })
	r.EventLinkClose.Bind(func(*Link) bool { seq = append(seq, "close"); return true })

	fc := &fakeConn{active: true}
	l := newTestLink(t, r, fc, &rawProto{})
	if l.State() != LinkStart {
		t.Fatalf("state = %v", l.State())
	}

	r.links.CloseLink(l, neterr.KeepAliveTimeout)
	if !fc.closed {
		t.Fatal("kernel close not issued")
	}
	if !errors.Is(l.CloseReason(), neterr.KeepAliveTimeout) {
		t.Fatalf("reason = %v", l.CloseReason())
	}
	// the close already completed locally; a late completion is a no-op
	r.finishClose(l)
	r.Update(1)
	r.Update(1)

	want := []string{"open", "start", "end", "close"}
	if len(seq) != len(want) {
		t.Fatalf("seq = %v", seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("seq = %v, want %v", seq, want)
		}
	}
	if r.links.Count() != 0 {
		t.Fatalf("links left = %d", r.links.Count())
	}
}

func TestLinkSendBeforeStartRejected(t *testing.T) {
	r := newTestReactor(t, 64)
	stack, _ := NewProtocolStack(&rawProto{})
	l := NewLink(stack)
	if err := l.init(r); err != nil {
		t.Fatal(err)
	}
	m := netmsg.Get()
	defer m.Free()
	if err := l.SendMsg(m); !errors.Is(err, neterr.StateError) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestWriteStagingFillsAndRotates(t *testing.T) {
	r := newTestReactor(t, 8)
	fc := &fakeConn{active: true}
	l := newTestLink(t, r, fc, &rawProto{})

	payload := []byte("01234567890123456789") // 20 bytes across an 8-byte buffer
	sendBytes(t, l, payload)

	// two full buffers flushed synchronously, tail still staged
	if got := fc.written.Bytes(); !bytes.Equal(got, payload[:16]) {
		t.Fatalf("written = %q", got)
	}
	r.Update(1) // flush pass drains the tail
	r.Update(1) // completions run
	if got := fc.written.Bytes(); !bytes.Equal(got, payload) {
		t.Fatalf("written = %q, want %q", got, payload)
	}
	if l.writingBytes() != 0 {
		t.Fatalf("writing size = %d", l.writingBytes())
	}
	if l.writer.Len() != 0 {
		t.Fatalf("stale staged bytes: %d", l.writer.Len())
	}
}

func TestWriteExactlyFullThenAppend(t *testing.T) {
	r := newTestReactor(t, 8)
	fc := &fakeConn{active: true}
	l := newTestLink(t, r, fc, &rawProto{})

	sendBytes(t, l, []byte("abcdefgh")) // exactly fills the staging buffer
	if fc.written.Len() != 0 {
		t.Fatal("flushed before overflow")
	}
	sendBytes(t, l, []byte("i")) // append triggers flush-then-append
	if got := fc.written.String(); got != "abcdefgh" {
		t.Fatalf("written = %q", got)
	}
	r.Update(1)
	r.Update(1)
	if got := fc.written.String(); got != "abcdefghi" {
		t.Fatalf("written = %q, want abcdefghi", got)
	}
}

func TestWriteErrorClosesLink(t *testing.T) {
	r := newTestReactor(t, 8)
	fc := &fakeConn{active: true, writeErr: errors.New("boom")}
	l := newTestLink(t, r, fc, &rawProto{})

	sendBytes(t, l, []byte("0123456789")) // forces a synchronous flush
	r.Update(1)
	r.Update(1)
	if l.State() != LinkClose {
		t.Fatalf("state = %v, want LinkClose", l.State())
	}
	var tr *neterr.Transport
	if !errors.As(l.CloseReason(), &tr) {
		t.Fatalf("reason = %v, want transport error", l.CloseReason())
	}
}

func TestInboundBytesReachPipeline(t *testing.T) {
	r := newTestReactor(t, 16)
	fc := &fakeConn{active: true}
	proto := &rawProto{}
	l := newTestLink(t, r, fc, proto)

	for _, chunk := range []string{"he", "llo ", "world"} {
		copy(l.reader.FreeSpace(), chunk)
		l.reader.Advance(len(chunk))
		if err := l.read(); err != nil {
			t.Fatalf("read: %v", err)
		}
		l.reader.Clear()
	}
	if got := proto.read.String(); got != "hello world" {
		t.Fatalf("pipeline saw %q", got)
	}
}

func TestLinkMgrIDsNeverReused(t *testing.T) {
	r := newTestReactor(t, 16)
	seen := map[netmsg.LinkID]bool{}
	for i := 0; i < 10; i++ {
		fc := &fakeConn{active: true}
		l := newTestLink(t, r, fc, &rawProto{})
		if seen[l.ID()] {
			t.Fatalf("link id %d reused", l.ID())
		}
		seen[l.ID()] = true
		r.links.CloseLink(l, nil)
		r.finishClose(l)
		r.Update(1)
		r.Update(1)
	}
	if r.links.Count() != 0 {
		t.Fatalf("links left = %d", r.links.Count())
	}
}

func TestLinkMgrSendUnknownLink(t *testing.T) {
	r := newTestReactor(t, 16)
	m := netmsg.Get()
	defer m.Free()
	m.SetLinkID(12345)
	m.SetSendFlag(netmsg.SendSingle)
	if err := r.LinkMgr().SendMsg(m); !errors.Is(err, neterr.NotFoundLink) {
		t.Fatalf("err = %v, want NotFoundLink", err)
	}
	if err := r.LinkMgr().AutoSendMsg(m); !errors.Is(err, neterr.NotFoundLink) {
		t.Fatalf("auto err = %v, want NotFoundLink", err)
	}
}

func TestDoubleCloseTolerated(t *testing.T) {
	r := newTestReactor(t, 16)
	fc := &fakeConn{active: true}
	l := newTestLink(t, r, fc, &rawProto{})
	r.links.CloseLink(l, nil)
	// second close is a logged no-op
	r.links.CloseLink(l, nil)
	if err := l.Close(nil); !errors.Is(err, neterr.StateError) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestBroadcastStagesPerPair(t *testing.T) {
	r := newTestReactor(t, 256)
	fc1 := &fakeConn{active: true}
	fc2 := &fakeConn{active: true}
	l1 := newTestLink(t, r, fc1, &rawProto{})
	l2 := newTestLink(t, r, fc2, &rawProto{})

	m := netmsg.Get()
	m.SetBodyFlag(netmsg.BodyMsg)
	m.Write([]byte("x"))
	dest := netmsg.BroadcastDest{
		l1.ID(): {7, 9},
		l2.ID(): {11},
	}
	if err := r.LinkMgr().BroadcastMsg(dest, m); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	m.Free()
	r.Update(1)
	r.Update(1)
	if got := fc1.written.String(); got != "xx" {
		t.Fatalf("link1 written %q, want two copies", got)
	}
	if got := fc2.written.String(); got != "x" {
		t.Fatalf("link2 written %q, want one copy", got)
	}
}
