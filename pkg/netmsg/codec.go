package netmsg

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/DevNewbie1826/loom/pkg/neterr"
)

// Header wire layout (8 bytes): the flag is written little-endian but split
// around the size, so the wire carries flag bytes 0..1, then the 4-byte
// little-endian size, then flag bytes 2..3 (the sentinel half). Peers depend
// on this exact split; it must not change.

// AppendHead appends the 8-byte header to dst.
func (m *NetMsg) AppendHead(dst []byte) []byte {
	f, s := m.head.flag, m.head.size
	return append(dst,
		byte(f), byte(f>>8),
		byte(s), byte(s>>8), byte(s>>16), byte(s>>24),
		byte(f>>16), byte(f>>24),
	)
}

// ParseHead reads the 8-byte header from src and returns the remainder.
// A corrupt sentinel fails with neterr.ProtocolDataInvalid.
func (m *NetMsg) ParseHead(src []byte) ([]byte, error) {
	if len(src) < HeadSize {
		return src, neterr.UnpackMsgFailed
	}
	m.head.flag = uint32(src[0]) | uint32(src[1])<<8 | uint32(src[6])<<16 | uint32(src[7])<<24
	m.head.size = uint32(src[2]) | uint32(src[3])<<8 | uint32(src[4])<<16 | uint32(src[5])<<24
	if !m.CheckFlag() {
		return src, neterr.ProtocolDataInvalid
	}
	return src[HeadSize:], nil
}

// PackHead appends the header to the message's own buffer.
func (m *NetMsg) PackHead() {
	m.Dynamic.Write(m.AppendHead(nil))
}

// UnpackHead consumes the header from the message's own buffer.
func (m *NetMsg) UnpackHead() error {
	rest, err := m.ParseHead(m.Data())
	if err != nil {
		return err
	}
	m.Skip(m.Len() - len(rest))
	return nil
}

// AppendRoute appends the routing sub-record to dst as a 4-element array.
func (m *NetMsg) AppendRoute(dst []byte) []byte {
	dst = msgp.AppendArrayHeader(dst, 4)
	dst = msgp.AppendInt64(dst, m.route.Src)
	dst = msgp.AppendInt64(dst, m.route.Dst)
	dst = msgp.AppendInt64(dst, m.route.User)
	dst = msgp.AppendUint32(dst, m.route.Opcode)
	return dst
}

// ParseRoute reads the routing sub-record from src and returns the
// remainder.
func (m *NetMsg) ParseRoute(src []byte) ([]byte, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(src)
	if err != nil || n != 4 {
		return src, neterr.UnpackMsgFailed
	}
	if m.route.Src, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return src, neterr.UnpackMsgFailed
	}
	if m.route.Dst, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return src, neterr.UnpackMsgFailed
	}
	if m.route.User, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return src, neterr.UnpackMsgFailed
	}
	if m.route.Opcode, rest, err = msgp.ReadUint32Bytes(rest); err != nil {
		return src, neterr.UnpackMsgFailed
	}
	return rest, nil
}

// PackRoute appends the route record to the message's own buffer.
func (m *NetMsg) PackRoute() error {
	b := m.AppendRoute(nil)
	m.Dynamic.Write(b)
	return nil
}

// UnpackRoute consumes the route record from the message's own buffer.
func (m *NetMsg) UnpackRoute() error {
	rest, err := m.ParseRoute(m.Data())
	if err != nil {
		return err
	}
	m.Skip(m.Len() - len(rest))
	return nil
}

// AppendBroadcastDest appends a {link -> [users]} destination map to dst.
func AppendBroadcastDest(dst []byte, dest BroadcastDest) []byte {
	dst = msgp.AppendMapHeader(dst, uint32(len(dest)))
	for linkID, users := range dest {
		dst = msgp.AppendInt64(dst, linkID)
		dst = msgp.AppendArrayHeader(dst, uint32(len(users)))
		for _, u := range users {
			dst = msgp.AppendInt64(dst, u)
		}
	}
	return dst
}

// ReadBroadcastDest reads a destination map from src and returns the
// remainder.
func ReadBroadcastDest(src []byte) (BroadcastDest, []byte, error) {
	n, rest, err := msgp.ReadMapHeaderBytes(src)
	if err != nil {
		return nil, src, neterr.UnpackMsgFailed
	}
	dest := make(BroadcastDest, n)
	for i := uint32(0); i < n; i++ {
		var linkID int64
		if linkID, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
			return nil, src, neterr.UnpackMsgFailed
		}
		var cnt uint32
		if cnt, rest, err = msgp.ReadArrayHeaderBytes(rest); err != nil {
			return nil, src, neterr.UnpackMsgFailed
		}
		users := make([]UserID, 0, cnt)
		for j := uint32(0); j < cnt; j++ {
			var u int64
			if u, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
				return nil, src, neterr.UnpackMsgFailed
			}
			users = append(users, u)
		}
		dest[linkID] = users
	}
	return dest, rest, nil
}
