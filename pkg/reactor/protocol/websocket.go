package protocol

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/ws"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/reactor"
)

const (
	wsURL             = "/chat"
	headerUpgrade     = "Upgrade"
	headerConnection  = "Connection"
	headerOrigin      = "Origin"
	headerSecProtocol = "Sec-Websocket-Protocol"
	headerSecVersion  = "Sec-Websocket-Version"
	headerSecKey      = "Sec-Websocket-Key"
	headerSecAccept   = "Sec-Websocket-Accept"

	valWebsocket = "websocket"
	valUpgrade   = "Upgrade"
	valOrigin    = "null"
	valProtocol  = "chat"
	valVersion13 = "13"
)

var wsGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

const maxFrameHeader = 14

type wsState uint8

const (
	wsInvalid wsState = iota
	wsConnected
	wsUpgrade
	wsHandshakeOK
)

// WebSocket is the RFC 6455 pipeline layer. It runs a two-phase state
// machine: an HTTP upgrade exchange, then binary frames with client-side
// masking. The frame header is assembled incrementally so arbitrary TCP
// fragmentation is tolerated, and the mask cursor survives split payloads.
type WebSocket struct {
	reactor.Base

	link  *reactor.Link
	http  *handshakeHTTP
	state wsState

	headBuf     [maxFrameHeader]byte
	headLen     int
	needHead    int
	headDone    bool
	discard     bool
	frame       ws.Header
	payloadDone int64

	writeLeft    int64
	writeDone    int64
	writeMask    [4]byte
	writeMasked  bool

	view         buf.Bytes
	writeHeadBuf [maxFrameHeader]byte
}

func NewWebSocket() *WebSocket { return &WebSocket{} }

func (p *WebSocket) HandshakeOK() bool { return p.state == wsHandshakeOK }

func (p *WebSocket) Start(l *reactor.Link) error {
	p.link = l
	p.state = wsConnected
	p.http = getHandshakeHTTP()
	p.resetFrame()
	p.resetWrite()
	return p.handshake()
}

func (p *WebSocket) resetWrite() {
	p.writeLeft = 0
	p.writeDone = 0
	p.writeMasked = false
}

func (p *WebSocket) Read(l *reactor.Link, b buf.Reader) error {
	if p.Next() == nil {
		return neterr.NullPointer
	}
	if p.state != wsHandshakeOK {
		if p.http == nil {
			return neterr.WSNotHandshake
		}
		complete, err := p.http.read(b)
		if err != nil {
			return err
		}
		if !complete {
			return nil
		}
		if err := p.handshake(); err != nil {
			return err
		}
		if p.state != wsHandshakeOK || b.Len() == 0 {
			return nil
		}
	}
	return p.readFrames(l, b)
}

func (p *WebSocket) readFrames(l *reactor.Link, b buf.Reader) error {
	for b.Len() > 0 {
		if !p.headDone {
			if err := p.readFrameHead(b); err != nil {
				return err
			}
			if !p.headDone {
				return nil
			}
			switch p.frame.OpCode {
			case ws.OpClose:
				l.LinkMgr().CloseLink(l, nil)
				return nil
			case ws.OpContinuation, ws.OpPing, ws.OpPong:
				p.discard = true
			case ws.OpText, ws.OpBinary:
				if l.IsServer() != p.frame.Masked {
					// servers must receive masked data, clients unmasked
					return neterr.ProtocolDataInvalid
				}
			default:
				return neterr.ProtocolDataInvalid
			}
		}
		chunk := p.frame.Length - p.payloadDone
		if n := int64(b.Len()); n < chunk {
			chunk = n
		}
		if chunk > 0 {
			data := b.Data()[:chunk]
			if !p.discard {
				if p.frame.Masked {
					ws.Cipher(data, p.frame.Mask, int(p.payloadDone))
				}
				p.view.Reset(data)
				if err := p.Next().Read(l, &p.view); err != nil {
					return err
				}
			}
			p.payloadDone += chunk
			b.Skip(int(chunk))
		}
		if p.payloadDone < p.frame.Length {
			return nil
		}
		p.resetFrame()
	}
	return nil
}

// readFrameHead accumulates the 2-byte base header, the extended length and
// the mask key across however many reads it takes.
func (p *WebSocket) readFrameHead(b buf.Reader) error {
	if p.headLen < 2 {
		n := 2 - p.headLen
		if avail := b.Len(); avail < n {
			n = avail
		}
		copy(p.headBuf[p.headLen:], b.Data()[:n])
		p.headLen += n
		b.Skip(n)
		if p.headLen < 2 {
			return nil
		}
		p.needHead = 2
		switch p.headBuf[1] & 0x7f {
		case 126:
			p.needHead += 2
		case 127:
			p.needHead += 8
		}
		if p.headBuf[1]&0x80 != 0 {
			p.needHead += 4
		}
	}
	if p.headLen < p.needHead {
		n := p.needHead - p.headLen
		if avail := b.Len(); avail < n {
			n = avail
		}
		copy(p.headBuf[p.headLen:], b.Data()[:n])
		p.headLen += n
		b.Skip(n)
		if p.headLen < p.needHead {
			return nil
		}
	}

	p.frame.Fin = p.headBuf[0]&0x80 != 0
	p.frame.Rsv = (p.headBuf[0] & 0x70) >> 4
	p.frame.OpCode = ws.OpCode(p.headBuf[0] & 0x0f)
	p.frame.Masked = p.headBuf[1]&0x80 != 0
	switch lenBits := p.headBuf[1] & 0x7f; lenBits {
	case 126:
		p.frame.Length = int64(binary.BigEndian.Uint16(p.headBuf[2:4]))
	case 127:
		p.frame.Length = int64(binary.BigEndian.Uint64(p.headBuf[2:10]))
	default:
		p.frame.Length = int64(lenBits)
	}
	if p.frame.OpCode.IsControl() && p.frame.Length > 125 {
		return neterr.ProtocolDataInvalid
	}
	if p.frame.Masked {
		copy(p.frame.Mask[:], p.headBuf[p.needHead-4:p.needHead])
	}
	p.payloadDone = 0
	p.headDone = true
	return nil
}

// Write frames outbound bytes as one fin=1 binary frame per message. A
// message may reach this layer in several calls (leftSize counts the bytes
// still to come); the frame header covers the whole message and the mask
// cursor carries across the calls. Client links mask with a fresh per-frame
// key from the reactor RNG.
func (p *WebSocket) Write(l *reactor.Link, b buf.Reader, leftSize, totalSize int64) error {
	if p.Pre() == nil {
		return neterr.NullPointer
	}
	if p.state != wsHandshakeOK {
		return neterr.WSNotHandshake
	}
	data := b.Data()
	if p.writeLeft <= 0 {
		msgSize := int64(len(data)) + leftSize
		var mask *[4]byte
		p.writeMasked = !l.IsServer()
		if p.writeMasked {
			binary.LittleEndian.PutUint32(p.writeMask[:], l.Reactor().Rand().Uint32())
			mask = &p.writeMask
		}
		head, err := p.packFrameHead(ws.OpBinary, mask, int(msgSize))
		if err != nil {
			return err
		}
		p.view.Reset(head)
		if err := p.Pre().Write(l, &p.view, msgSize, totalSize+int64(len(head))); err != nil {
			return err
		}
		p.writeLeft = msgSize
		p.writeDone = 0
	}
	if p.writeMasked {
		ws.Cipher(data, p.writeMask, int(p.writeDone))
	}
	err := p.Pre().Write(l, b, leftSize, totalSize)
	p.writeDone += int64(len(data))
	p.writeLeft -= int64(len(data))
	return err
}

func (p *WebSocket) End(l *reactor.Link) error {
	if p.http != nil {
		putHandshakeHTTP(p.http)
		p.http = nil
	}
	if p.Pre() != nil && p.state == wsHandshakeOK {
		if head, err := p.packFrameHead(ws.OpClose, nil, 0); err == nil {
			p.view.Reset(head)
			p.Pre().Write(l, &p.view, 0, int64(len(head)))
		}
	}
	p.link = nil
	p.state = wsInvalid
	p.resetFrame()
	p.resetWrite()
	if p.Pre() == nil {
		return nil
	}
	return p.Pre().End(l)
}

func (p *WebSocket) resetFrame() {
	p.headLen = 0
	p.needHead = 0
	p.headDone = false
	p.discard = false
	p.payloadDone = 0
	p.frame = ws.Header{}
}

func (p *WebSocket) packFrameHead(op ws.OpCode, mask *[4]byte, size int) ([]byte, error) {
	h := ws.Header{Fin: true, OpCode: op, Length: int64(size)}
	if mask != nil {
		h.Masked = true
		h.Mask = *mask
	}
	sw := sliceWriter{buf: p.writeHeadBuf[:0]}
	if err := ws.WriteHeader(&sw, h); err != nil {
		return nil, neterr.ProtocolDataInvalid
	}
	return sw.buf, nil
}

func (p *WebSocket) handshake() error {
	if p.Pre() == nil {
		return neterr.NullPointer
	}
	if p.link == nil || p.http == nil {
		return neterr.WSHandshakeFailed
	}
	switch p.state {
	case wsConnected:
		if !p.link.IsServer() {
			seed := fmt.Sprintf("%d|%d|%d", p.link.Reactor().Rand().Uint64(), os.Getpid(), time.Now().UnixMilli())
			sum := md5.Sum([]byte(seed))
			p.http.clientKey = base64.StdEncoding.EncodeToString(sum[:])
			req := buildHandshakeRequest(p.http.clientKey)
			p.view.Reset(req)
			if err := p.Pre().Write(p.link, &p.view, 0, int64(len(req))); err != nil {
				return err
			}
		}
		p.state = wsUpgrade
		return nil
	case wsUpgrade:
		if !p.http.checkHead(headerUpgrade, valWebsocket) ||
			!p.http.checkHead(headerConnection, valUpgrade) ||
			!p.http.checkHead(headerSecVersion, valVersion13) {
			return neterr.WSHandshakeFailed
		}
		if p.link.IsServer() {
			key := p.http.head(headerSecKey)
			if key == "" {
				return neterr.WSHandshakeFailed
			}
			resp := buildHandshakeResponse(computeAcceptKey(key), p.http.checkHead(headerSecProtocol, valProtocol))
			p.view.Reset(resp)
			if err := p.Pre().Write(p.link, &p.view, 0, int64(len(resp))); err != nil {
				return err
			}
			return p.finishHandshake()
		}
		if p.http.statusCode != 101 {
			return neterr.WSHandshakeFailed
		}
		accept := p.http.head(headerSecAccept)
		if accept == "" || p.http.clientKey == "" {
			return neterr.WSHandshakeFailed
		}
		if accept != computeAcceptKey(p.http.clientKey) {
			return neterr.WSHandshakeFailed
		}
		return p.finishHandshake()
	}
	return neterr.WSHandshakeFailed
}

func (p *WebSocket) finishHandshake() error {
	if p.link == nil {
		return neterr.NullPointer
	}
	p.state = wsHandshakeOK
	putHandshakeHTTP(p.http)
	p.http = nil
	if p.Next() == nil {
		return nil
	}
	return p.Next().Start(p.link)
}

func computeAcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write(wsGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func buildHandshakeRequest(clientKey string) []byte {
	b := make([]byte, 0, 256)
	b = append(b, "GET "+wsURL+" HTTP/1.1\r\n"...)
	b = append(b, headerUpgrade+": "+valWebsocket+"\r\n"...)
	b = append(b, headerConnection+": "+valUpgrade+"\r\n"...)
	b = append(b, headerOrigin+": "+valOrigin+"\r\n"...)
	b = append(b, headerSecProtocol+": "+valProtocol+"\r\n"...)
	b = append(b, headerSecVersion+": "+valVersion13+"\r\n"...)
	b = append(b, headerSecKey+": "+clientKey+"\r\n"...)
	b = append(b, "\r\n"...)
	return b
}

func buildHandshakeResponse(acceptKey string, echoProtocol bool) []byte {
	b := make([]byte, 0, 256)
	b = append(b, "HTTP/1.1 101 SWITCHING_PROTOCOLS\r\n"...)
	b = append(b, headerUpgrade+": "+valWebsocket+"\r\n"...)
	b = append(b, headerConnection+": "+valUpgrade+"\r\n"...)
	if echoProtocol {
		b = append(b, headerSecProtocol+": "+valProtocol+"\r\n"...)
	}
	b = append(b, headerSecVersion+": "+valVersion13+"\r\n"...)
	b = append(b, headerSecAccept+": "+acceptKey+"\r\n"...)
	b = append(b, "\r\n"...)
	return b
}

type sliceWriter struct {
	buf []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
