package reactor

import (
	"log"

	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

// Facade-level event payloads. The message in LinkMsgInfo is loaned for the
// duration of the callback; listeners that need it longer must Clone it.
type (
	LinkOpenInfo struct {
		GroupID netmsg.GroupID
		LinkID  netmsg.LinkID
		IP      string
		Port    int
	}
	LinkStartInfo struct {
		GroupID netmsg.GroupID
		LinkID  netmsg.LinkID
	}
	LinkMsgInfo struct {
		GroupID netmsg.GroupID
		LinkID  netmsg.LinkID
		Msg     *netmsg.NetMsg
	}
	LinkEndInfo struct {
		GroupID netmsg.GroupID
		LinkID  netmsg.LinkID
		Reason  error
	}
	LinkCloseInfo struct {
		GroupID netmsg.GroupID
		LinkID  netmsg.LinkID
		Reason  error
	}
)

// Process adapts a Reactor to in-thread users: the caller's goroutine drives
// Update and receives every event on it. Not safe for concurrent use.
type Process struct {
	reactor Reactor

	EventLinkOpen  Event[LinkOpenInfo]
	EventLinkStart Event[LinkStartInfo]
	EventLinkMsg   Event[LinkMsgInfo]
	EventLinkEnd   Event[LinkEndInfo]
	EventLinkClose Event[LinkCloseInfo]
}

func NewProcess(opts ...Option) *Process {
	p := &Process{}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	p.reactor.SetConfig(cfg)
	return p
}

func (p *Process) Start() error {
	if err := p.reactor.Init(); err != nil {
		return err
	}
	p.reactor.EventLinkOpen.Bind(p.onLinkOpen)
	p.reactor.EventLinkStart.Bind(p.onLinkStart)
	p.reactor.EventLinkMsg.Bind(p.onLinkMsg)
	p.reactor.EventLinkEnd.Bind(p.onLinkEnd)
	p.reactor.EventLinkClose.Bind(p.onLinkClose)
	return nil
}

func (p *Process) Stop() {
	p.reactor.Release()
	p.EventLinkOpen.Clear()
	p.EventLinkStart.Clear()
	p.EventLinkMsg.Clear()
	p.EventLinkEnd.Clear()
	p.EventLinkClose.Clear()
}

func (p *Process) Update(delta int64) { p.reactor.Update(delta) }

func (p *Process) ListenTCP(linkType LinkType, groupID netmsg.GroupID, ip string, port int) error {
	return p.reactor.ListenTCP(linkType, groupID, ip, port)
}

func (p *Process) StopListenTCP(groupID netmsg.GroupID) {
	p.reactor.StopListenTCP(groupID)
}

func (p *Process) ConnectTCP(linkType LinkType, groupID netmsg.GroupID, host string, port int, cb ConnectCallback) {
	p.reactor.ConnectTCP(linkType, groupID, host, port, cb)
}

func (p *Process) GetHostIP(host string, cb GetHostIPCallback) {
	p.reactor.GetHostIP(host, cb)
}

func (p *Process) CloseLink(linkID netmsg.LinkID, reason error) {
	p.reactor.CloseLink(linkID, reason)
}

// SendMsg stages the message on its target link and consumes it.
func (p *Process) SendMsg(m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.InvalidArg
	}
	m.SetSendFlag(netmsg.SendSingle)
	err := p.reactor.LinkMgr().SendMsg(m)
	m.Free()
	return err
}

// BroadcastMsg attempts one delivery per (link, user) pair and consumes the
// message.
func (p *Process) BroadcastMsg(dest netmsg.BroadcastDest, m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.InvalidArg
	}
	m.SetSendFlag(netmsg.SendMulti)
	err := p.reactor.LinkMgr().BroadcastMsg(dest, m)
	m.Free()
	return err
}

func (p *Process) onLinkOpen(l *Link) bool {
	ip, port, err := l.RemoteAddr()
	if err != nil {
		log.Printf("link open remote addr error `%v`", err)
		return true
	}
	p.EventLinkOpen.Notify(LinkOpenInfo{GroupID: l.GroupID(), LinkID: l.ID(), IP: ip, Port: port})
	return true
}

func (p *Process) onLinkStart(l *Link) bool {
	p.EventLinkStart.Notify(LinkStartInfo{GroupID: l.GroupID(), LinkID: l.ID()})
	return true
}

func (p *Process) onLinkMsg(l *Link) bool {
	m := l.popReadMsg()
	if m == nil {
		return true
	}
	p.EventLinkMsg.Notify(LinkMsgInfo{GroupID: l.GroupID(), LinkID: l.ID(), Msg: m})
	m.Free()
	return true
}

func (p *Process) onLinkEnd(l *Link) bool {
	p.EventLinkEnd.Notify(LinkEndInfo{GroupID: l.GroupID(), LinkID: l.ID(), Reason: l.CloseReason()})
	return true
}

func (p *Process) onLinkClose(l *Link) bool {
	p.EventLinkClose.Notify(LinkCloseInfo{GroupID: l.GroupID(), LinkID: l.ID(), Reason: l.CloseReason()})
	return true
}
