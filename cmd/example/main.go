// Command example runs a framed echo server and a client against it, over
// the plain message pipeline or the WebSocket one.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/DevNewbie1826/loom/pkg/netmsg"
	"github.com/DevNewbie1826/loom/pkg/reactor"
	"github.com/DevNewbie1826/loom/pkg/reactor/protocol"
)

var (
	msgLinkType = reactor.RegisterLinkType("tcp-msg", func() (*reactor.ProtocolStack, error) {
		return reactor.NewProtocolStack(protocol.NewMsg())
	})
	wsLinkType = reactor.RegisterLinkType("tcp-ws-msg", func() (*reactor.ProtocolStack, error) {
		return reactor.NewProtocolStack(protocol.NewWebSocket(), protocol.NewMsg())
	})
)

const (
	serverGroup = 1
	clientGroup = 2
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	addr := flag.String("addr", "127.0.0.1", "listen/connect address")
	port := flag.Int("port", 18101, "listen/connect port")
	useWS := flag.Bool("ws", false, "run the websocket pipeline instead of plain framing")
	count := flag.Int("count", 5, "messages the client sends before exiting")
	flag.Parse()

	linkType := msgLinkType
	if *useWS {
		linkType = wsLinkType
	}

	server := reactor.NewProcess(reactor.WithKeepAlive(30 * time.Second))
	if err := server.Start(); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
	defer server.Stop()

	server.EventLinkOpen.Bind(func(info reactor.LinkOpenInfo) bool {
		log.Printf("server: link %d open from %s:%d", info.LinkID, info.IP, info.Port)
		return true
	})
	server.EventLinkMsg.Bind(func(info reactor.LinkMsgInfo) bool {
		body := info.Msg.Data()
		log.Printf("server: link %d msg %q, echoing", info.LinkID, body)
		echo := info.Msg.Clone()
		echo.SetLinkID(info.LinkID)
		if err := server.SendMsg(echo); err != nil {
			log.Printf("server: echo failed: %v", err)
		}
		return true
	})
	server.EventLinkClose.Bind(func(info reactor.LinkCloseInfo) bool {
		log.Printf("server: link %d close, reason %v", info.LinkID, info.Reason)
		return true
	})

	if err := server.ListenTCP(linkType, serverGroup, *addr, *port); err != nil {
		log.Fatalf("listen failed: %v", err)
	}
	log.Printf("listening on %s:%d (ws=%v)", *addr, *port, *useWS)

	client := reactor.NewThread()
	if err := client.Start(5 * time.Second); err != nil {
		log.Fatalf("client start failed: %v", err)
	}
	defer client.Stop()

	received := make(chan struct{}, *count)
	client.EventLinkMsg.Bind(func(info reactor.LinkMsgInfo) bool {
		log.Printf("client: echo %q", info.Msg.Data())
		received <- struct{}{}
		return true
	})

	var clientLink netmsg.LinkID
	connected := make(chan struct{})
	client.ConnectTCP(linkType, clientGroup, *addr, *port, func(err error, _ netmsg.GroupID, linkID netmsg.LinkID) {
		if err != nil {
			log.Fatalf("connect failed: %v", err)
		}
		clientLink = linkID
		close(connected)
	})

	deadline := time.After(10 * time.Second)
	pump := func(ch <-chan struct{}, n int) {
		got := 0
		for got < n {
			server.Update(5)
			client.Update()
			select {
			case <-ch:
				got++
			case <-deadline:
				log.Fatal("timed out")
			default:
				time.Sleep(5 * time.Millisecond)
			}
		}
	}
	pump(connected, 1)

	for i := 0; i < *count; i++ {
		m := netmsg.Get()
		m.SetBodyFlag(netmsg.BodyMsg)
		m.SetRouteFlag(netmsg.RouteNoPack)
		m.SetLinkID(clientLink)
		m.Write([]byte("hello"))
		m.SetBodySize(uint32(m.Len()))
		if err := client.SendMsg(m); err != nil {
			log.Fatalf("send failed: %v", err)
		}
	}
	pump(received, *count)
	log.Printf("done: %d echoes", *count)
}
