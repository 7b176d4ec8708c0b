package protocol

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/DevNewbie1826/loom/pkg/buf"
	"github.com/DevNewbie1826/loom/pkg/neterr"
)

const maxHandshakeSize = 1024

var crlfcrlf = []byte("\r\n\r\n")

// handshakeHTTP is the pooled scratch parser attached to a link for the
// upgrade exchange and released as soon as the handshake settles.
type handshakeHTTP struct {
	data       []byte
	statusCode int
	heads      map[string]string
	clientKey  string
}

var handshakeHTTPPool = sync.Pool{New: func() any {
	return &handshakeHTTP{heads: make(map[string]string)}
}}

func getHandshakeHTTP() *handshakeHTTP {
	return handshakeHTTPPool.Get().(*handshakeHTTP)
}

func putHandshakeHTTP(h *handshakeHTTP) {
	h.clear()
	handshakeHTTPPool.Put(h)
}

func (h *handshakeHTTP) clear() {
	h.data = h.data[:0]
	h.statusCode = 0
	h.clientKey = ""
	for k := range h.heads {
		delete(h.heads, k)
	}
}

// read consumes bytes up to and including the blank line; anything after it
// stays in b for the frame parser. It reports whether the header block is
// complete.
func (h *handshakeHTTP) read(b buf.Reader) (bool, error) {
	data := b.Data()
	if len(h.data)+len(data) > maxHandshakeSize {
		return false, neterr.HTTPParseFailed
	}
	prev := len(h.data)
	h.data = append(h.data, data...)
	idx := bytes.Index(h.data, crlfcrlf)
	if idx < 0 {
		b.Skip(len(data))
		return false, nil
	}
	end := idx + len(crlfcrlf)
	b.Skip(end - prev)
	h.data = h.data[:end]
	if err := h.parse(h.data[:idx]); err != nil {
		return false, err
	}
	return true, nil
}

func (h *handshakeHTTP) parse(block []byte) error {
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			// status or request line
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return neterr.HTTPParseFailed
			}
			if strings.HasPrefix(strings.ToUpper(fields[0]), "HTTP") {
				code, err := strconv.Atoi(fields[1])
				if err != nil {
					return neterr.HTTPParseFailed
				}
				h.statusCode = code
			}
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		if key != "" && val != "" {
			h.heads[key] = val
		}
	}
	return nil
}

func (h *handshakeHTTP) checkHead(key, val string) bool {
	return strings.EqualFold(h.heads[key], val)
}

func (h *handshakeHTTP) head(key string) string {
	return h.heads[key]
}
