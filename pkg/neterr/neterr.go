// Package neterr defines the stable error codes surfaced by the reactor.
// Each concern owns a disjoint numeric block so a caller can tell where a
// code originated without the component name. Codes are stable: add at the
// end of a block, never renumber.
package neterr

import (
	"errors"
	"fmt"
)

type Code int32

const (
	// 1xx argument errors
	InvalidArg  Code = 101
	NullPointer Code = 102
	StringEmpty Code = 103

	// 11x state errors
	StateError    Code = 111
	LinkIDInvalid Code = 112
	NotFoundLink  Code = 113
	NotSupport    Code = 114

	// 12x resource errors
	MemoryNotEnough  Code = 121
	LinkProtocolFull Code = 122
	LinkNoneProtocol Code = 123

	// 13x protocol errors
	ProtocolDataInvalid Code = 131
	PackMsgFailed       Code = 132
	UnpackMsgFailed     Code = 133
	MsgBodySizeMax      Code = 134
	WSHandshakeFailed   Code = 135
	WSNotHandshake      Code = 136
	HTTPParseFailed     Code = 137
	LinkWriteDataFailed Code = 138

	// 14x timing errors
	KeepAliveTimeout Code = 141
	KeepAliveFailed  Code = 142

	// 15x addressing errors
	SockAddrInvalid Code = 151
	InvalidURL      Code = 152
	InvalidSockType Code = 153

	// 16x route errors
	LinkRouteExist    Code = 161
	NotFoundLinkRoute Code = 162

	// 17x async-request errors
	AddNetReqFailed Code = 171
)

var descs = map[Code]string{
	InvalidArg:          "the arg is invalid",
	NullPointer:         "the pointer is nil",
	StringEmpty:         "the string is empty",
	StateError:          "the state is error",
	LinkIDInvalid:       "the link id is invalid",
	NotFoundLink:        "the link is not exists",
	NotSupport:          "the operator is not support",
	MemoryNotEnough:     "the memory is not enough",
	LinkProtocolFull:    "link protocol is full",
	LinkNoneProtocol:    "link have none protocol",
	ProtocolDataInvalid: "the protocol data is invalid",
	PackMsgFailed:       "pack msg failed",
	UnpackMsgFailed:     "unpack msg failed",
	MsgBodySizeMax:      "the msg body size max",
	WSHandshakeFailed:   "web socket handshake failed",
	WSNotHandshake:      "web socket not handshake",
	HTTPParseFailed:     "parse http failed",
	LinkWriteDataFailed: "link write data failed",
	KeepAliveTimeout:    "the link keep alive timeout",
	KeepAliveFailed:     "the link keep alive failed",
	SockAddrInvalid:     "the sock address is invalid",
	InvalidURL:          "url is invalid",
	InvalidSockType:     "the sock type is invalid",
	LinkRouteExist:      "the link route already exist",
	NotFoundLinkRoute:   "not found the link route",
	AddNetReqFailed:     "add net req failed",
}

func (c Code) Error() string {
	if d, ok := descs[c]; ok {
		return d
	}
	return fmt.Sprintf("neterr: unknown code %d", int32(c))
}

// CodeOf extracts the Code carried by err, or 0 when err is nil or carries
// none (e.g. a kernel-side transport error).
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return 0
}

// Transport wraps a kernel or event-loop error so its origin namespace stays
// distinguishable from the reactor's own codes.
type Transport struct {
	Err error
}

func (t *Transport) Error() string { return "transport: " + t.Err.Error() }

func (t *Transport) Unwrap() error { return t.Err }
