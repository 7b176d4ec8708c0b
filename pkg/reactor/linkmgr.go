package reactor

import (
	"log"

	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

// LinkMgr is the per-reactor registry of live links. LinkIDs come from a
// monotonic counter and are never reused within one reactor.
type LinkMgr struct {
	nextID    netmsg.LinkID
	links     map[netmsg.LinkID]*Link
	flushSet  map[netmsg.LinkID]struct{}
}

func (lm *LinkMgr) init() {
	lm.links = make(map[netmsg.LinkID]*Link)
	lm.flushSet = make(map[netmsg.LinkID]struct{})
}

func (lm *LinkMgr) release() {
	for _, l := range lm.links {
		l.free()
	}
	lm.links = nil
	lm.flushSet = nil
}

func (lm *LinkMgr) FindLink(linkID netmsg.LinkID) *Link {
	return lm.links[linkID]
}

// Count reports the number of registered links.
func (lm *LinkMgr) Count() int { return len(lm.links) }

// CloseLink is best-effort; closing an already-closing link just logs.
func (lm *LinkMgr) CloseLink(l *Link, reason error) {
	if l == nil {
		return
	}
	if err := l.Close(reason); err != nil {
		log.Printf("link(%d:%d) close failed desc `%v`", l.GroupID(), l.ID(), err)
	}
}

func (lm *LinkMgr) CloseLinkID(linkID netmsg.LinkID, reason error) {
	lm.CloseLink(lm.FindLink(linkID), reason)
}

func (lm *LinkMgr) addLink(l *Link, groupID netmsg.GroupID, isServer bool) error {
	if l == nil {
		return neterr.NullPointer
	}
	lm.nextID++
	linkID := lm.nextID
	if _, exists := lm.links[linkID]; exists {
		return neterr.LinkIDInvalid
	}
	lm.links[linkID] = l
	l.resetID(groupID, linkID, isServer)
	return nil
}

func (lm *LinkMgr) removeLink(linkID netmsg.LinkID) {
	delete(lm.links, linkID)
}

// needFlush records the link for the next flush pass, once it actually has
// staged bytes.
func (lm *LinkMgr) needFlush(l *Link) {
	if l == nil || l.writer == nil || l.writer.Len() == 0 {
		return
	}
	lm.flushSet[l.ID()] = struct{}{}
}

func (lm *LinkMgr) flushLinks() {
	for linkID := range lm.flushSet {
		if l := lm.FindLink(linkID); l != nil {
			l.flushData()
		}
		delete(lm.flushSet, linkID)
	}
}

func (lm *LinkMgr) closeAllLinks(reason error) {
	for _, l := range lm.links {
		lm.CloseLink(l, reason)
	}
}

// AutoSendMsg dispatches on the send flag: Single targets the message's own
// link id, Multi expects a packed destination map at the head of the buffer
// and fans the remainder out per (link, user) pair.
func (lm *LinkMgr) AutoSendMsg(m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.InvalidArg
	}
	switch m.SendFlag() {
	case netmsg.SendSingle:
		return lm.SendMsg(m)
	case netmsg.SendMulti:
		dest, rest, err := netmsg.ReadBroadcastDest(m.Data())
		if err != nil {
			log.Printf("send msg failed, unpack send dest error `%v`", err)
			return neterr.UnpackMsgFailed
		}
		m.Skip(m.Len() - len(rest))
		return lm.BroadcastMsg(dest, m)
	}
	return neterr.InvalidArg
}

// SendMsg routes the message to the link named by its link id. The caller
// keeps ownership of m; the bytes are staged synchronously.
func (lm *LinkMgr) SendMsg(m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.NullPointer
	}
	l := lm.FindLink(m.LinkID())
	if l == nil {
		return neterr.NotFoundLink
	}
	return l.SendMsg(m)
}

// BroadcastMsg attempts one delivery per (link, user) pair; failures are
// logged, not returned.
func (lm *LinkMgr) BroadcastMsg(dest netmsg.BroadcastDest, m *netmsg.NetMsg) error {
	for linkID, users := range dest {
		for _, userID := range users {
			m.SetLinkID(linkID)
			m.SetUserID(userID)
			if err := lm.SendMsg(m); err != nil {
				log.Printf("broadcast msg link failed, linkID %d, userID %d, error `%v`", linkID, userID, err)
			}
		}
	}
	return nil
}
