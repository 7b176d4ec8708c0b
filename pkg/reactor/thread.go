package reactor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

type asyncType int32

const (
	asyncInvalid    asyncType = 0
	asyncListen     asyncType = 1
	asyncStopListen asyncType = 2
	asyncConnect    asyncType = 3
	asyncGetHostIP  asyncType = 4
	asyncCloseLink  asyncType = 5
	asyncSendMsg    asyncType = 6

	asyncLinkOpen  asyncType = 100
	asyncLinkStart asyncType = 101
	asyncLinkMsg   asyncType = 102
	asyncLinkEnd   asyncType = 103
	asyncLinkClose asyncType = 104
)

// asyncItem crosses the logic/reactor boundary in both directions. Items are
// pooled per direction and freed on the goroutine that dequeued them.
type asyncItem struct {
	reqID    int64
	typ      asyncType
	err      error
	linkType LinkType
	groupID  netmsg.GroupID
	linkID   netmsg.LinkID
	host     string
	ip       string
	port     int
	reason   error
	msg      *netmsg.NetMsg
}

func (it *asyncItem) clear() {
	if it.msg != nil {
		it.msg.Free()
	}
	*it = asyncItem{}
}

// reqItem parks a continuation until its response or its deadline.
type reqItem struct {
	reqID   int64
	reqTime int64
	resp    func(*asyncItem)
}

// ListenCallback reports the result of an async listen.
type ListenCallback func(err error, groupID netmsg.GroupID)

// Thread hosts a Reactor on its own goroutine. The boundary is two
// lock-protected swap queues; requests execute in submission order, and the
// logic side drains responses by calling Update.
type Thread struct {
	running atomic.Bool
	done    chan struct{}
	reactor Reactor
	cfg     Config

	reqTimeout time.Duration
	reqGen     int64
	reqWaiting map[int64]*reqItem

	reqQueue  []*asyncItem // logic goroutine only
	respQueue []*asyncItem // reactor goroutine only

	swapReqMu   sync.Mutex
	swapReq     []*asyncItem
	swapRespMu  sync.Mutex
	swapResp    []*asyncItem

	reqItemPool  sync.Pool // logic -> reactor items
	respItemPool sync.Pool // reactor -> logic items
	waitPool     sync.Pool

	EventLinkOpen  Event[LinkOpenInfo]
	EventLinkStart Event[LinkStartInfo]
	EventLinkMsg   Event[LinkMsgInfo]
	EventLinkEnd   Event[LinkEndInfo]
	EventLinkClose Event[LinkCloseInfo]
}

func NewThread(opts ...Option) *Thread {
	t := &Thread{}
	t.cfg = DefaultConfig()
	for _, opt := range opts {
		opt(&t.cfg)
	}
	t.reqItemPool.New = func() any { return &asyncItem{} }
	t.respItemPool.New = func() any { return &asyncItem{} }
	t.waitPool.New = func() any { return &reqItem{} }
	return t
}

// Start spins up the worker. reqTimeout bounds every tracked request.
func (t *Thread) Start(reqTimeout time.Duration) error {
	if reqTimeout <= 0 {
		return neterr.InvalidArg
	}
	if t.running.Load() {
		return neterr.StateError
	}
	t.reqTimeout = reqTimeout
	t.reqWaiting = make(map[int64]*reqItem)
	t.done = make(chan struct{})
	t.running.Store(true)
	go t.work()
	return nil
}

// Stop clears the running flag, joins the worker and frees every in-flight
// request; no further callbacks fire.
func (t *Thread) Stop() {
	if !t.running.Load() {
		return
	}
	t.running.Store(false)
	<-t.done

	t.EventLinkOpen.Clear()
	t.EventLinkStart.Clear()
	t.EventLinkMsg.Clear()
	t.EventLinkEnd.Clear()
	t.EventLinkClose.Clear()

	for _, w := range t.reqWaiting {
		t.freeWait(w)
	}
	t.reqWaiting = nil
	for _, it := range t.reqQueue {
		t.freeReqItem(it)
	}
	t.reqQueue = nil
	t.swapReqMu.Lock()
	for _, it := range t.swapReq {
		t.freeReqItem(it)
	}
	t.swapReq = nil
	t.swapReqMu.Unlock()
	t.swapRespMu.Lock()
	for _, it := range t.swapResp {
		t.freeRespItem(it)
	}
	t.swapResp = nil
	t.swapRespMu.Unlock()
	t.reqTimeout = 0
}

func (t *Thread) ReqTimeout() time.Duration { return t.reqTimeout }

// Update runs on the logic goroutine: dispatch arrived responses and events,
// publish queued requests, then drop requests past their deadline.
func (t *Thread) Update() {
	t.logicResp()
	t.logicReq()
	deadline := steadyMillis() - t.reqTimeout.Milliseconds()
	for reqID, w := range t.reqWaiting {
		if w.reqTime < deadline {
			log.Printf("net thread req %d waiting from %d timeout", w.reqID, w.reqTime)
			t.freeWait(w)
			delete(t.reqWaiting, reqID)
		}
	}
}

// ListenTCP queues a listen; cb fires on a later Update with the result.
func (t *Thread) ListenTCP(linkType LinkType, groupID netmsg.GroupID, ip string, port int, cb ListenCallback) {
	it := t.getReqItem()
	it.typ = asyncListen
	it.linkType = linkType
	it.groupID = groupID
	it.host = ip
	it.port = port
	t.trackReq(it, func(resp *asyncItem) {
		if cb != nil {
			cb(resp.err, resp.groupID)
		}
	})
}

func (t *Thread) StopListenTCP(groupID netmsg.GroupID) {
	it := t.getReqItem()
	it.typ = asyncStopListen
	it.groupID = groupID
	t.reqQueue = append(t.reqQueue, it)
}

func (t *Thread) ConnectTCP(linkType LinkType, groupID netmsg.GroupID, host string, port int, cb ConnectCallback) {
	it := t.getReqItem()
	it.typ = asyncConnect
	it.linkType = linkType
	it.groupID = groupID
	it.host = host
	it.port = port
	t.trackReq(it, func(resp *asyncItem) {
		if cb != nil {
			cb(resp.err, resp.groupID, resp.linkID)
		}
	})
}

func (t *Thread) GetHostIP(host string, cb GetHostIPCallback) {
	it := t.getReqItem()
	it.typ = asyncGetHostIP
	it.host = host
	t.trackReq(it, func(resp *asyncItem) {
		if cb != nil {
			cb(resp.err, resp.ip)
		}
	})
}

func (t *Thread) CloseLink(linkID netmsg.LinkID, reason error) {
	it := t.getReqItem()
	it.typ = asyncCloseLink
	it.linkID = linkID
	it.reason = reason
	t.reqQueue = append(t.reqQueue, it)
}

// SendMsg queues the message for its target link and takes ownership of it.
func (t *Thread) SendMsg(m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.InvalidArg
	}
	m.SetSendFlag(netmsg.SendSingle)
	it := t.getReqItem()
	it.typ = asyncSendMsg
	it.msg = m
	t.reqQueue = append(t.reqQueue, it)
	return nil
}

// BroadcastMsg prefixes the payload with the packed destination map and
// queues it; ownership of m transfers here.
func (t *Thread) BroadcastMsg(dest netmsg.BroadcastDest, m *netmsg.NetMsg) error {
	if m == nil {
		return neterr.InvalidArg
	}
	m.SetSendFlag(netmsg.SendMulti)
	broad := m.Clone()
	broad.Dynamic.Clear()
	broad.Dynamic.Write(netmsg.AppendBroadcastDest(nil, dest))
	broad.Dynamic.Write(m.Data())
	m.Free()
	it := t.getReqItem()
	it.typ = asyncSendMsg
	it.msg = broad
	t.reqQueue = append(t.reqQueue, it)
	return nil
}

func (t *Thread) trackReq(it *asyncItem, resp func(*asyncItem)) {
	t.reqGen++
	it.reqID = t.reqGen
	w := t.getWait()
	w.reqID = it.reqID
	w.reqTime = steadyMillis()
	w.resp = resp
	t.reqWaiting[w.reqID] = w
	t.reqQueue = append(t.reqQueue, it)
}

// Worker loop: drain requests, advance the reactor by the wall-clock delta
// with a ~1ms floor, publish responses, then idle briefly when nothing
// happened to bound CPU.
func (t *Thread) work() {
	defer close(t.done)
	t.reactor.SetConfig(t.cfg)
	if err := t.reactor.Init(); err != nil {
		log.Printf("net thread reactor init failed `%v`", err)
		t.running.Store(false)
		return
	}
	t.reactor.EventLinkOpen.Bind(t.onLinkOpen)
	t.reactor.EventLinkStart.Bind(t.onLinkStart)
	t.reactor.EventLinkMsg.Bind(t.onLinkMsg)
	t.reactor.EventLinkEnd.Bind(t.onLinkEnd)
	t.reactor.EventLinkClose.Bind(t.onLinkClose)

	const idleDelay = 10 * time.Millisecond
	last := time.Now()
	idleFrames := 0
	for t.running.Load() {
		worked := t.workReq()
		now := time.Now()
		delta := now.Sub(last).Milliseconds()
		if delta > 0 {
			t.reactor.Update(delta)
			last = now
		}
		worked = t.workResp() || worked
		if worked {
			idleFrames = 0
			continue
		}
		idleFrames++
		if idleFrames > 10 {
			time.Sleep(idleDelay)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	t.reactor.Release()
	t.workResp()
}

// logicReq moves queued requests to the shared swap queue.
func (t *Thread) logicReq() {
	if len(t.reqQueue) == 0 {
		return
	}
	t.swapReqMu.Lock()
	t.swapReq = append(t.swapReq, t.reqQueue...)
	t.swapReqMu.Unlock()
	t.reqQueue = t.reqQueue[:0]
}

// logicResp dispatches responses and unsolicited events on the logic
// goroutine.
func (t *Thread) logicResp() {
	t.swapRespMu.Lock()
	if len(t.swapResp) == 0 {
		t.swapRespMu.Unlock()
		return
	}
	items := t.swapResp
	t.swapResp = nil
	t.swapRespMu.Unlock()

	for _, it := range items {
		if it.reqID == 0 {
			t.dispatchEvent(it)
		} else if w, ok := t.reqWaiting[it.reqID]; ok {
			w.resp(it)
			t.freeWait(w)
			delete(t.reqWaiting, it.reqID)
		} else {
			log.Printf("net thread resp not found req %d, maybe this req timeout", it.reqID)
		}
		t.freeRespItem(it)
	}
}

func (t *Thread) dispatchEvent(it *asyncItem) {
	switch it.typ {
	case asyncLinkOpen:
		t.EventLinkOpen.Notify(LinkOpenInfo{GroupID: it.groupID, LinkID: it.linkID, IP: it.ip, Port: it.port})
	case asyncLinkStart:
		t.EventLinkStart.Notify(LinkStartInfo{GroupID: it.groupID, LinkID: it.linkID})
	case asyncLinkMsg:
		m := it.msg
		it.msg = nil
		t.EventLinkMsg.Notify(LinkMsgInfo{GroupID: it.groupID, LinkID: it.linkID, Msg: m})
		m.Free()
	case asyncLinkEnd:
		t.EventLinkEnd.Notify(LinkEndInfo{GroupID: it.groupID, LinkID: it.linkID, Reason: it.reason})
	case asyncLinkClose:
		t.EventLinkClose.Notify(LinkCloseInfo{GroupID: it.groupID, LinkID: it.linkID, Reason: it.reason})
	default:
		log.Printf("net thread resp async type error %d", it.typ)
	}
}

// workReq runs queued requests on the reactor goroutine.
func (t *Thread) workReq() bool {
	t.swapReqMu.Lock()
	if len(t.swapReq) == 0 {
		t.swapReqMu.Unlock()
		return false
	}
	items := t.swapReq
	t.swapReq = nil
	t.swapReqMu.Unlock()

	for _, it := range items {
		switch it.typ {
		case asyncListen:
			t.onNetListen(it)
		case asyncStopListen:
			t.reactor.StopListenTCP(it.groupID)
		case asyncConnect:
			t.onNetConnect(it)
		case asyncGetHostIP:
			t.onNetGetHostIP(it)
		case asyncCloseLink:
			t.reactor.CloseLink(it.linkID, it.reason)
		case asyncSendMsg:
			t.onNetSendMsg(it)
		default:
			log.Printf("net thread req async type error %d", it.typ)
		}
		t.freeReqItem(it)
	}
	return true
}

// workResp publishes queued responses to the shared swap queue.
func (t *Thread) workResp() bool {
	if len(t.respQueue) == 0 {
		return false
	}
	t.swapRespMu.Lock()
	t.swapResp = append(t.swapResp, t.respQueue...)
	t.swapRespMu.Unlock()
	t.respQueue = t.respQueue[:0]
	return true
}

func (t *Thread) pushResp(it *asyncItem) {
	t.respQueue = append(t.respQueue, it)
}

func (t *Thread) onNetListen(it *asyncItem) {
	err := t.reactor.ListenTCP(it.linkType, it.groupID, it.host, it.port)
	resp := t.getRespItem()
	resp.reqID = it.reqID
	resp.typ = it.typ
	resp.err = err
	resp.groupID = it.groupID
	t.pushResp(resp)
}

func (t *Thread) onNetConnect(it *asyncItem) {
	reqID := it.reqID
	typ := it.typ
	t.reactor.ConnectTCP(it.linkType, it.groupID, it.host, it.port,
		func(err error, groupID netmsg.GroupID, linkID netmsg.LinkID) {
			resp := t.getRespItem()
			resp.reqID = reqID
			resp.typ = typ
			resp.err = err
			resp.groupID = groupID
			resp.linkID = linkID
			t.pushResp(resp)
		})
}

func (t *Thread) onNetGetHostIP(it *asyncItem) {
	reqID := it.reqID
	typ := it.typ
	t.reactor.GetHostIP(it.host, func(err error, ip string) {
		resp := t.getRespItem()
		resp.reqID = reqID
		resp.typ = typ
		resp.err = err
		resp.ip = ip
		t.pushResp(resp)
	})
}

func (t *Thread) onNetSendMsg(it *asyncItem) {
	m := it.msg
	it.msg = nil
	if err := t.reactor.LinkMgr().AutoSendMsg(m); err != nil {
		log.Printf("net thread send msg failed `%v`", err)
	}
	m.Free()
}

// Reactor-side event hooks convert lifecycle events into response items.

func (t *Thread) onLinkOpen(l *Link) bool {
	ip, port, err := l.RemoteAddr()
	if err != nil {
		log.Printf("link open remote addr error `%v`", err)
		return true
	}
	resp := t.getRespItem()
	resp.typ = asyncLinkOpen
	resp.groupID = l.GroupID()
	resp.linkID = l.ID()
	resp.ip = ip
	resp.port = port
	t.pushResp(resp)
	return true
}

func (t *Thread) onLinkStart(l *Link) bool {
	resp := t.getRespItem()
	resp.typ = asyncLinkStart
	resp.groupID = l.GroupID()
	resp.linkID = l.ID()
	t.pushResp(resp)
	return true
}

func (t *Thread) onLinkMsg(l *Link) bool {
	m := l.popReadMsg()
	if m == nil {
		return true
	}
	resp := t.getRespItem()
	resp.typ = asyncLinkMsg
	resp.groupID = l.GroupID()
	resp.linkID = l.ID()
	resp.msg = m
	t.pushResp(resp)
	return true
}

func (t *Thread) onLinkEnd(l *Link) bool {
	resp := t.getRespItem()
	resp.typ = asyncLinkEnd
	resp.groupID = l.GroupID()
	resp.linkID = l.ID()
	resp.reason = l.CloseReason()
	t.pushResp(resp)
	return true
}

func (t *Thread) onLinkClose(l *Link) bool {
	resp := t.getRespItem()
	resp.typ = asyncLinkClose
	resp.groupID = l.GroupID()
	resp.linkID = l.ID()
	resp.reason = l.CloseReason()
	t.pushResp(resp)
	return true
}

// Direction-split item pools; each item is recycled on the goroutine that
// dequeued it.

func (t *Thread) getReqItem() *asyncItem  { return t.reqItemPool.Get().(*asyncItem) }
func (t *Thread) getRespItem() *asyncItem { return t.respItemPool.Get().(*asyncItem) }

func (t *Thread) freeReqItem(it *asyncItem) {
	it.clear()
	t.reqItemPool.Put(it)
}

func (t *Thread) freeRespItem(it *asyncItem) {
	it.clear()
	t.respItemPool.Put(it)
}

func (t *Thread) getWait() *reqItem { return t.waitPool.Get().(*reqItem) }

func (t *Thread) freeWait(w *reqItem) {
	*w = reqItem{}
	t.waitPool.Put(w)
}
