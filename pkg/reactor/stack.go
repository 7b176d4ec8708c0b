package reactor

import (
	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

// MaxProtocolStackSize bounds the pipeline depth of one link.
const MaxProtocolStackSize = 6

// ProtocolStack is the ordered pipeline of a link. The stack itself is both
// sentinels of the chain: the head's Pre and the tail's Next point back at
// it, and its sentinel verbs re-enter the link, closing the round-trip.
type ProtocolStack struct {
	Base

	protos      []Protocol
	writingFlag netmsg.Flag
}

func NewProtocolStack(protos ...Protocol) (*ProtocolStack, error) {
	ps := &ProtocolStack{}
	for _, p := range protos {
		if err := ps.PushProtocol(p); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func (ps *ProtocolStack) PushProtocol(p Protocol) error {
	if len(ps.protos) >= MaxProtocolStackSize {
		return neterr.LinkProtocolFull
	}
	ps.protos = append(ps.protos, p)
	return nil
}

func (ps *ProtocolStack) ClearProtocol() {
	ps.protos = ps.protos[:0]
}

// OnStart rewires the chain and starts it from the head.
func (ps *ProtocolStack) OnStart(l *Link) error {
	if l == nil {
		return neterr.NullPointer
	}
	if len(ps.protos) == 0 {
		return neterr.LinkNoneProtocol
	}
	var pre Protocol = ps
	for _, curr := range ps.protos {
		curr.SetPre(pre)
		pre.SetNext(curr)
		pre = curr
	}
	ps.protos[len(ps.protos)-1].SetNext(ps)
	return ps.protos[0].Start(l)
}

// OnRead feeds freshly staged bytes to the head of the chain.
func (ps *ProtocolStack) OnRead(l *Link, b buf.Reader) error {
	if l == nil {
		return neterr.NullPointer
	}
	if len(ps.protos) == 0 {
		return neterr.LinkNoneProtocol
	}
	return ps.protos[0].Read(l, b)
}

// OnWrite feeds an outbound message to the tail of the chain.
func (ps *ProtocolStack) OnWrite(l *Link, m *netmsg.NetMsg) error {
	if l == nil {
		return neterr.NullPointer
	}
	if len(ps.protos) == 0 {
		return neterr.LinkNoneProtocol
	}
	ps.writingFlag = m.Flag()
	return ps.protos[len(ps.protos)-1].WriteMsg(l, m)
}

// OnEnd starts teardown from the tail of the chain.
func (ps *ProtocolStack) OnEnd(l *Link) {
	if l == nil || len(ps.protos) == 0 {
		return
	}
	ps.protos[len(ps.protos)-1].End(l)
}

// WritingFlag reports the flag of the message currently travelling down the
// write path, for byte-level layers that need it.
func (ps *ProtocolStack) WritingFlag() netmsg.Flag { return ps.writingFlag }

// Sentinel verbs: the chain ends re-enter the link.

func (ps *ProtocolStack) Start(l *Link) error { return l.onStart() }

func (ps *ProtocolStack) ReadMsg(l *Link, m *netmsg.NetMsg) error { return l.onRead(m) }

func (ps *ProtocolStack) Write(l *Link, b buf.Reader, leftSize, _ int64) error {
	return l.onWrite(b, leftSize)
}

func (ps *ProtocolStack) End(l *Link) error { return l.onEnd() }
