package protocol

import (
	"bytes"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
	"github.com/DevNewbie1826/loom/pkg/reactor"
)

// MaxTextLineSize caps one delimiter-framed line.
const MaxTextLineSize = 64 * 1024

var textDelim = []byte{'\n'}

// Text frames messages on newline boundaries; a trailing carriage return is
// stripped on ingress and the delimiter re-appended on egress.
type Text struct {
	reactor.Base

	reading *netmsg.NetMsg
	view    buf.Bytes
}

func NewText() *Text { return &Text{} }

func (p *Text) Start(l *reactor.Link) error {
	p.reset()
	if p.Next() == nil {
		return nil
	}
	return p.Next().Start(l)
}

func (p *Text) Read(l *reactor.Link, b buf.Reader) error {
	err := p.readToMsg(l, b)
	if err != nil {
		p.reset()
	}
	return err
}

func (p *Text) WriteMsg(l *reactor.Link, m *netmsg.NetMsg) error {
	if p.Pre() == nil {
		return neterr.NullPointer
	}
	if m.BodyFlag() != netmsg.BodyText {
		return neterr.ProtocolDataInvalid
	}
	total := int64(m.Len()) + 1
	if err := p.Pre().Write(l, m, 1, total); err != nil {
		return err
	}
	p.view.Reset(textDelim)
	return p.Pre().Write(l, &p.view, 0, total)
}

func (p *Text) End(l *reactor.Link) error {
	p.reset()
	if p.Pre() == nil {
		return nil
	}
	return p.Pre().End(l)
}

func (p *Text) reset() {
	if p.reading != nil {
		p.reading.Free()
		p.reading = nil
	}
}

func (p *Text) readToMsg(l *reactor.Link, b buf.Reader) error {
	if p.Next() == nil {
		return neterr.NullPointer
	}
	for b.Len() > 0 {
		if p.reading == nil {
			p.reading = netmsg.Get()
		}
		data := b.Data()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if p.reading.Len()+len(data) > MaxTextLineSize {
				return neterr.MsgBodySizeMax
			}
			p.reading.Write(data)
			b.Skip(len(data))
			return nil
		}
		line := data[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if p.reading.Len()+len(line) > MaxTextLineSize {
			return neterr.MsgBodySizeMax
		}
		p.reading.Write(line)
		b.Skip(idx + 1)

		m := p.reading
		p.reading = nil
		m.SetBodyFlag(netmsg.BodyText)
		m.SetBodySize(uint32(m.Len()))
		if err := p.Next().ReadMsg(l, m); err != nil {
			return err
		}
	}
	return nil
}
