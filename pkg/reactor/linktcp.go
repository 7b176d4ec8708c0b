package reactor

import (
	"net"
	"strconv"

	"github.com/cloudwego/netpoll"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
)

// tcpConn is the slice of the kernel connection the link needs. netpoll
// connections are wrapped in npConn; tests substitute an in-memory fake.
type tcpConn interface {
	isActive() bool
	closeConn() error
	remoteAddr() net.Addr
	localAddr() net.Addr
	// write stages p into the kernel send path; p is safe for reuse on
	// return.
	write(p []byte) error
}

type npConn struct {
	c netpoll.Connection
}

func (n npConn) isActive() bool       { return n.c.IsActive() }
func (n npConn) closeConn() error     { return n.c.Close() }
func (n npConn) remoteAddr() net.Addr { return n.c.RemoteAddr() }
func (n npConn) localAddr() net.Addr  { return n.c.LocalAddr() }

func (n npConn) write(p []byte) error {
	w := n.c.Writer()
	dst, err := w.Malloc(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return w.Flush()
}

func (l *Link) bindConn(c tcpConn) { l.conn = c }

// RemoteAddr reports the peer address, once the kernel handle exists.
func (l *Link) RemoteAddr() (ip string, port int, err error) {
	if l.conn == nil {
		return "", 0, neterr.StateError
	}
	return splitAddr(l.conn.remoteAddr())
}

// LocalAddr reports the local address.
func (l *Link) LocalAddr() (ip string, port int, err error) {
	if l.conn == nil {
		return "", 0, neterr.StateError
	}
	return splitAddr(l.conn.localAddr())
}

func splitAddr(a net.Addr) (string, int, error) {
	if a == nil {
		return "", 0, neterr.SockAddrInvalid
	}
	if t, ok := a.(*net.TCPAddr); ok {
		return t.IP.String(), t.Port, nil
	}
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return "", 0, neterr.SockAddrInvalid
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, neterr.SockAddrInvalid
	}
	return host, port, nil
}

// writeReq tracks one in-flight kernel write: the bytes being sent and, when
// the staging buffer was rotated, the swapped-out buffer it now owns until
// completion.
type writeReq struct {
	link    *Link
	data    []byte
	lastBuf *buf.Fixed
	err     error
}

func (r *writeReq) init(l *Link, data []byte, lastBuf *buf.Fixed) {
	r.link = l
	r.data = data
	r.lastBuf = lastBuf
	r.err = nil
}

func (r *writeReq) clear() {
	r.link = nil
	r.data = nil
	r.lastBuf = nil
	r.err = nil
}

// flushData submits the accumulated staging bytes as one kernel write. If
// the buffer filled up it is rotated out and the in-flight request takes
// ownership of it; otherwise it is reused in place. The completion
// accounting runs on the next reactor frame.
func (l *Link) flushData() error {
	if !l.Valid() || l.writer == nil {
		return neterr.StateError
	}
	data := l.writer.Data()
	if len(data) == 0 {
		return nil
	}
	req := l.reactor.getWriteReq()
	if req == nil {
		return neterr.MemoryNotEnough
	}

	l.writer.Skip(len(data))
	if l.writer.Free() == 0 {
		req.init(l, data, l.swapWriter(l.reactor.getTCPBuffer()))
	} else {
		req.init(l, data, nil)
	}
	l.addWritingSize(len(data))

	if l.conn != nil {
		req.err = l.conn.write(data)
	} else {
		req.err = neterr.StateError
	}
	l.reactor.addNextFrame(func() { l.finishWrite(req) })
	return nil
}

func (l *Link) finishWrite(req *writeReq) {
	if req.lastBuf != nil {
		l.reactor.freeTCPBuffer(req.lastBuf)
	}
	l.finishWritingSize(len(req.data))
	if l.writingSize == 0 && l.writer != nil && l.writer.Len() == 0 {
		l.writer.Clear()
	}
	if req.err != nil {
		l.Close(&neterr.Transport{Err: req.err})
	}
	l.reactor.freeWriteReq(req)
}

// pushData appends outbound bytes to the write staging buffer, flushing
// synchronously whenever it fills so a single oversized write never queues
// unbounded bytes in user space. The source reader is left unconsumed so a
// broadcast can stage the same message once per destination.
func (l *Link) pushData(b buf.Reader, _ bool) error {
	if !l.Valid() || l.writer == nil {
		return neterr.StateError
	}
	data := b.Data()
	for {
		free := l.writer.Free()
		if len(data) <= free {
			if err := l.writer.Write(data); err != nil {
				return neterr.LinkWriteDataFailed
			}
			return nil
		}
		if err := l.writer.Write(data[:free]); err != nil {
			return neterr.LinkWriteDataFailed
		}
		data = data[free:]
		if err := l.flushData(); err != nil {
			return neterr.LinkWriteDataFailed
		}
	}
}
