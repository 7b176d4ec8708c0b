// Package protocol holds the built-in pipeline layers: length-prefixed
// message framing, delimiter-framed text, and WebSocket.
package protocol

import (
	"errors"

	"github.com/tinylib/msgp/msgp"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
	"github.com/DevNewbie1826/loom/pkg/reactor"
)

// MaxMsgBodySize caps a single framed payload.
const MaxMsgBodySize = 64 * 1024 * 1024

// Msg frames messages with a self-describing unsigned-int length prefix
// (1 to 5 bytes) followed by exactly that many payload bytes.
type Msg struct {
	reactor.Base

	reading  *netmsg.NetMsg
	needSize int64 // -1 while the length prefix is still incomplete
	prefix   [5]byte
	prefixN  int
	wprefix  [5]byte
	view     buf.Bytes
}

func NewMsg() *Msg { return &Msg{needSize: -1} }

func (p *Msg) Start(l *reactor.Link) error {
	p.reset()
	if p.Next() == nil {
		return nil
	}
	return p.Next().Start(l)
}

func (p *Msg) Read(l *reactor.Link, b buf.Reader) error {
	err := p.readToMsg(l, b)
	if err != nil {
		p.reset()
	}
	return err
}

// WriteMsg emits the length prefix, then the payload, as byte writes to the
// previous layer.
func (p *Msg) WriteMsg(l *reactor.Link, m *netmsg.NetMsg) error {
	if p.Pre() == nil {
		return neterr.NullPointer
	}
	if m.BodyFlag() != netmsg.BodyMsg {
		return neterr.ProtocolDataInvalid
	}
	total := int64(m.Len())
	prefix := msgp.AppendUint32(p.wprefix[:0], uint32(m.Len()))
	p.view.Reset(prefix)
	if err := p.Pre().Write(l, &p.view, total, total+int64(len(prefix))); err != nil {
		return err
	}
	return p.Pre().Write(l, m, 0, total+int64(len(prefix)))
}

func (p *Msg) End(l *reactor.Link) error {
	p.reset()
	if p.Pre() == nil {
		return nil
	}
	return p.Pre().End(l)
}

func (p *Msg) reset() {
	if p.reading != nil {
		p.reading.Free()
		p.reading = nil
	}
	p.needSize = -1
	p.prefixN = 0
}

func (p *Msg) readToMsg(l *reactor.Link, b buf.Reader) error {
	if p.Next() == nil {
		return neterr.NullPointer
	}
	for b.Len() > 0 {
		if p.reading == nil {
			p.reading = netmsg.Get()
			p.needSize = -1
			p.prefixN = 0
		}
		if p.needSize < 0 {
			if err := p.readPrefix(b); err != nil {
				return err
			}
			if p.needSize < 0 {
				return nil // prefix still incomplete
			}
			if p.needSize > MaxMsgBodySize {
				return neterr.MsgBodySizeMax
			}
		}
		// Accumulate exactly needSize payload bytes; excess stays in b
		// and frames the next message on the same pass.
		take := p.needSize - int64(p.reading.Len())
		if n := int64(b.Len()); n < take {
			take = n
		}
		if take > 0 {
			p.reading.Write(b.Data()[:take])
			b.Skip(int(take))
		}
		if int64(p.reading.Len()) < p.needSize {
			return nil
		}
		m := p.reading
		p.reading = nil
		p.needSize = -1
		m.SetBodyFlag(netmsg.BodyMsg)
		if err := p.Next().ReadMsg(l, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Msg) readPrefix(b buf.Reader) error {
	for b.Len() > 0 {
		if p.prefixN >= len(p.prefix) {
			return neterr.ProtocolDataInvalid
		}
		p.prefix[p.prefixN] = b.Data()[0]
		p.prefixN++
		b.Skip(1)
		size, _, err := msgp.ReadUint32Bytes(p.prefix[:p.prefixN])
		if err == nil {
			p.needSize = int64(size)
			return nil
		}
		if !errors.Is(err, msgp.ErrShortBytes) {
			return neterr.ProtocolDataInvalid
		}
	}
	return nil
}
