package netmsg

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/DevNewbie1826/loom/pkg/neterr"
)

func TestHeadWireLayout(t *testing.T) {
	m := Get()
	defer m.Free()
	m.SetBodyFlag(BodyMsg)
	m.SetSendFlag(SendSingle)
	m.SetBodySize(0x04030201)

	wire := m.AppendHead(nil)
	if len(wire) != HeadSize {
		t.Fatalf("head size = %d", len(wire))
	}
	flag := m.Flag()
	want := []byte{
		byte(flag), byte(flag >> 8), // low half of the flag
		0x01, 0x02, 0x03, 0x04, // size, little-endian
		0xcd, 0xcd, // sentinel half of the flag
	}
	if !bytes.Equal(wire, want) {
		t.Fatalf("wire = %x, want %x", wire, want)
	}
}

func TestHeadRoundTrip(t *testing.T) {
	for _, size := range []uint32{0, 1, 125, 126, 65535, 65536, 16 * 1024 * 1024} {
		m := Get()
		m.SetBodyFlag(BodyMsg)
		m.SetRouteFlag(RouteNoPack)
		m.SetSendFlag(SendMulti)
		m.SetBodySize(size)
		wire := m.AppendHead(nil)

		out := Get()
		rest, err := out.ParseHead(wire)
		if err != nil {
			t.Fatalf("size %d: parse failed: %v", size, err)
		}
		if len(rest) != 0 {
			t.Fatalf("size %d: %d bytes left", size, len(rest))
		}
		if out.Flag() != m.Flag() || out.BodySize() != size {
			t.Fatalf("size %d: flag %#x size %d", size, out.Flag(), out.BodySize())
		}
		if again := out.AppendHead(nil); !bytes.Equal(again, wire) {
			t.Fatalf("size %d: re-pack %x != %x", size, again, wire)
		}
		m.Free()
		out.Free()
	}
}

func TestParseHeadBadSentinel(t *testing.T) {
	m := Get()
	defer m.Free()
	wire := m.AppendHead(nil)
	wire[6] = 0xab
	out := Get()
	defer out.Free()
	if _, err := out.ParseHead(wire); !errors.Is(err, neterr.ProtocolDataInvalid) {
		t.Fatalf("err = %v, want ProtocolDataInvalid", err)
	}
	if _, err := out.ParseHead(wire[:5]); !errors.Is(err, neterr.UnpackMsgFailed) {
		t.Fatalf("short err = %v, want UnpackMsgFailed", err)
	}
}

func TestSubFlagSettersTouchOnlyTheirNibble(t *testing.T) {
	m := Get()
	defer m.Free()
	m.SetRouteFlag(RoutePack)
	m.SetBodyFlag(BodyText)
	m.SetSendFlag(SendMulti)
	before := m.Flag()

	m.SetBodyFlag(BodyMsg)
	after := m.Flag()
	if diff := before ^ after; diff&^uint32(0xf0) != 0 {
		t.Fatalf("body setter touched bits %#x outside its nibble", diff)
	}
	if m.RouteFlag() != RoutePack || m.SendFlag() != SendMulti {
		t.Fatal("sibling nibbles changed")
	}
	if !m.CheckFlag() {
		t.Fatal("sentinel lost")
	}

	m.SetSendFlag(SendSingle)
	if m.BodyFlag() != BodyMsg || m.RouteFlag() != RoutePack {
		t.Fatal("send setter touched sibling nibbles")
	}
}

func TestRouteRoundTrip(t *testing.T) {
	m := Get()
	defer m.Free()
	m.SetSrcRoute(MakeRouteID(3, 77, 5))
	m.SetDstRoute(MakeRouteID(-2, 1, 65535))
	m.SetUserID(-12345)
	m.SetOpcodeID(0xdeadbeef)

	wire := m.AppendRoute(nil)
	out := Get()
	defer out.Free()
	rest, err := out.ParseRoute(wire)
	if err != nil {
		t.Fatalf("parse route: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d bytes left", len(rest))
	}
	got := Route{Src: out.SrcRoute(), Dst: out.DstRoute(), User: out.UserID(), Opcode: out.OpcodeID()}
	want := Route{Src: m.SrcRoute(), Dst: m.DstRoute(), User: m.UserID(), Opcode: m.OpcodeID()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("route mismatch (-want +got):\n%s", diff)
	}
	if again := out.AppendRoute(nil); !bytes.Equal(again, wire) {
		t.Fatal("route re-pack differs")
	}
}

func TestPackUnpackOwnBuffer(t *testing.T) {
	m := Get()
	defer m.Free()
	m.SetBodyFlag(BodyMsg)
	m.SetRouteFlag(RoutePack)
	m.SetUserID(42)
	m.PackHead()
	if err := m.PackRoute(); err != nil {
		t.Fatalf("pack route: %v", err)
	}
	m.Write([]byte("payload"))
	m.SetBodySize(7)

	out := Get()
	defer out.Free()
	out.Dynamic.Write(m.Data())
	if err := out.UnpackHead(); err != nil {
		t.Fatalf("unpack head: %v", err)
	}
	if out.BodyFlag() != BodyMsg || out.RouteFlag() != RoutePack {
		t.Fatalf("flags %#x", out.Flag())
	}
	if err := out.UnpackRoute(); err != nil {
		t.Fatalf("unpack route: %v", err)
	}
	if out.UserID() != 42 {
		t.Fatalf("user = %d", out.UserID())
	}
	if got := string(out.Data()); got != "payload" {
		t.Fatalf("body = %q", got)
	}
}

func TestBroadcastDestRoundTrip(t *testing.T) {
	dest := BroadcastDest{
		1: {7, 9},
		2: {11},
		3: {},
	}
	wire := AppendBroadcastDest(nil, dest)
	got, rest, err := ReadBroadcastDest(wire)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d bytes left", len(rest))
	}
	if diff := cmp.Diff(dest, got); diff != "" {
		t.Fatalf("dest mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := ReadBroadcastDest(wire[:len(wire)-1]); err == nil {
		t.Fatal("truncated dest parsed")
	}
}

func TestCloneAndPoolHygiene(t *testing.T) {
	m := Get()
	m.SetBodyFlag(BodyText)
	m.SetLinkID(9)
	m.SetGroupID(4)
	m.Write([]byte("abc"))

	c := m.Clone()
	if string(c.Data()) != "abc" || c.BodyFlag() != BodyText || c.LinkID() != 9 || c.GroupID() != 4 {
		t.Fatal("clone lost state")
	}
	m.Free()
	c.Free()

	fresh := Get()
	defer fresh.Free()
	if fresh.Len() != 0 || fresh.LinkID() != 0 || fresh.BodyFlag() != BodyInvalid {
		t.Fatal("pooled message not cleared")
	}
	if !fresh.CheckFlag() {
		t.Fatal("pooled message lost sentinel")
	}
}

func BenchmarkHeadCodec(b *testing.B) {
	m := Get()
	defer m.Free()
	m.SetBodyFlag(BodyMsg)
	m.SetBodySize(512)
	var wire [HeadSize]byte
	out := Get()
	defer out.Free()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := m.AppendHead(wire[:0])
		if _, err := out.ParseHead(w); err != nil {
			b.Fatal(err)
		}
	}
}
