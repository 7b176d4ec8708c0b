package reactor

import (
	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

// Protocol is one node of a link's pipeline. Inbound traffic enters at the
// head and travels toward the tail via Read (bytes) and ReadMsg (messages);
// outbound traffic enters at the tail and travels toward the head via
// WriteMsg and Write. A node implements only the verbs it understands; the
// rest default to NotSupport.
type Protocol interface {
	Next() Protocol
	SetNext(Protocol)
	Pre() Protocol
	SetPre(Protocol)

	Start(l *Link) error
	Read(l *Link, b buf.Reader) error
	Write(l *Link, b buf.Reader, leftSize, totalSize int64) error
	ReadMsg(l *Link, m *netmsg.NetMsg) error
	WriteMsg(l *Link, m *netmsg.NetMsg) error
	End(l *Link) error
}

// Base carries the chain links and the default verb set. Embed it and
// override what the layer handles.
type Base struct {
	next Protocol
	pre  Protocol
}

func (b *Base) Next() Protocol     { return b.next }
func (b *Base) SetNext(p Protocol) { b.next = p }
func (b *Base) Pre() Protocol      { return b.pre }
func (b *Base) SetPre(p Protocol)  { b.pre = p }

func (b *Base) Start(l *Link) error                { return neterr.NotSupport }
func (b *Base) Read(l *Link, _ buf.Reader) error   { return neterr.NotSupport }
func (b *Base) Write(l *Link, _ buf.Reader, _, _ int64) error {
	return neterr.NotSupport
}
func (b *Base) ReadMsg(l *Link, _ *netmsg.NetMsg) error  { return neterr.NotSupport }
func (b *Base) WriteMsg(l *Link, _ *netmsg.NetMsg) error { return neterr.NotSupport }
func (b *Base) End(l *Link) error                        { return neterr.NotSupport }
