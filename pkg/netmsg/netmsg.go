// Package netmsg implements the wire message unit: an 8-byte flag/size
// header, an optional routing sub-record, and a growable body buffer.
// Messages are pooled; ownership transfers with the pointer and the final
// owner returns it with Free.
package netmsg

import (
	"sync"

	"github.com/DevNewbie1826/loom/pkg/buf"
)

// Flag is a 32-bit field: the upper 16 bits carry the check sentinel, the
// lower 16 bits hold four nibble-sized sub-flags.
type Flag = uint32

const (
	checkFlag     Flag = 0xcdcd0000
	checkFlagMask Flag = 0xffff0000

	RouteInvalid Flag = 0x0
	RoutePack    Flag = 0x1
	RouteNoPack  Flag = 0x2
	routeMask    Flag = 0xf

	BodyInvalid Flag = 0x0
	BodyMsg     Flag = 0x10
	BodyText    Flag = 0x20
	bodyMask    Flag = 0xf0

	SendInvalid Flag = 0x0
	SendSingle  Flag = 0x100
	SendMulti   Flag = 0x200
	sendMask    Flag = 0xf00

	ExtraInvalid Flag = 0x0
	extraMask    Flag = 0xf000
)

// HeadSize is the wire size of the message header.
const HeadSize = 8

type head struct {
	flag Flag
	size uint32
}

func (h *head) clear() {
	h.flag = checkFlag
	h.size = 0
}

// Route is the in-memory routing sub-record; it travels on the wire only
// when the route flag says so.
type Route struct {
	Src    RouteID
	Dst    RouteID
	User   UserID
	Opcode OpcodeID
}

func (r *Route) clear() {
	*r = Route{}
}

// NetMsg is the unit of application-level exchange. The embedded buffer
// holds the serialized payload; group and link attribution are transient and
// never hit the wire.
type NetMsg struct {
	buf.Dynamic

	groupID GroupID
	linkID  LinkID
	head    head
	route   Route
}

var msgPool = sync.Pool{New: func() any {
	m := &NetMsg{}
	m.head.clear()
	return m
}}

// Get fetches a cleared message from the shared pool.
func Get() *NetMsg {
	return msgPool.Get().(*NetMsg)
}

// Free clears the message and returns it to the pool. The caller must be
// its sole owner.
func (m *NetMsg) Free() {
	m.ClearMsg()
	msgPool.Put(m)
}

// Clone copies the readable payload, header and attribution into a fresh
// pooled message. Listeners that must outlive a loaned message use this.
func (m *NetMsg) Clone() *NetMsg {
	c := Get()
	c.Dynamic.Write(m.Data())
	c.groupID = m.groupID
	c.linkID = m.linkID
	c.head = m.head
	c.route = m.route
	return c
}

func (m *NetMsg) ClearMsg() {
	m.Dynamic.Clear()
	m.groupID = 0
	m.linkID = 0
	m.head.clear()
	m.route.clear()
}

func (m *NetMsg) Flag() Flag { return m.head.flag }

func CalcRouteFlag(f Flag) Flag { return f & routeMask }
func CalcBodyFlag(f Flag) Flag  { return f & bodyMask }
func CalcSendFlag(f Flag) Flag  { return f & sendMask }
func CalcExtraFlag(f Flag) Flag { return f & extraMask }

func (m *NetMsg) RouteFlag() Flag { return m.head.flag & routeMask }
func (m *NetMsg) BodyFlag() Flag  { return m.head.flag & bodyMask }
func (m *NetMsg) SendFlag() Flag  { return m.head.flag & sendMask }
func (m *NetMsg) ExtraFlag() Flag { return m.head.flag & extraMask }

// Sub-flag setters mask in place: only the corresponding nibble changes.
func (m *NetMsg) SetRouteFlag(f Flag) {
	m.head.flag = m.head.flag&^routeMask | f&routeMask
}

func (m *NetMsg) SetBodyFlag(f Flag) {
	m.head.flag = m.head.flag&^bodyMask | f&bodyMask
}

func (m *NetMsg) SetSendFlag(f Flag) {
	m.head.flag = m.head.flag&^sendMask | f&sendMask
}

func (m *NetMsg) SetExtraFlag(f Flag) {
	m.head.flag = m.head.flag&^extraMask | f&extraMask
}

// CheckFlag reports whether the sentinel half of the flag is intact.
func (m *NetMsg) CheckFlag() bool {
	return m.head.flag&checkFlagMask == checkFlag
}

func (m *NetMsg) BodySize() uint32 { return m.head.size }

func (m *NetMsg) SetBodySize(s uint32) { m.head.size = s }

func (m *NetMsg) AddBodySize(s uint32) { m.head.size += s }

func (m *NetMsg) SrcRoute() RouteID     { return m.route.Src }
func (m *NetMsg) SetSrcRoute(r RouteID) { m.route.Src = r }
func (m *NetMsg) DstRoute() RouteID     { return m.route.Dst }
func (m *NetMsg) SetDstRoute(r RouteID) { m.route.Dst = r }
func (m *NetMsg) UserID() UserID        { return m.route.User }
func (m *NetMsg) SetUserID(u UserID)    { m.route.User = u }
func (m *NetMsg) OpcodeID() OpcodeID    { return m.route.Opcode }
func (m *NetMsg) SetOpcodeID(o OpcodeID) { m.route.Opcode = o }

func (m *NetMsg) GroupID() GroupID       { return m.groupID }
func (m *NetMsg) SetGroupID(g GroupID)   { m.groupID = g }
func (m *NetMsg) LinkID() LinkID         { return m.linkID }
func (m *NetMsg) SetLinkID(id LinkID)    { m.linkID = id }
