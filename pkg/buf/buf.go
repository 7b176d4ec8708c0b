// Package buf provides the staging buffers the reactor moves bytes through:
// fixed-capacity buffers for per-link kernel staging and growable dynamic
// buffers for message bodies. Both keep independent read and write cursors so
// protocol layers can consume partial data and hand excess back.
package buf

import "errors"

var ErrNoSpace = errors.New("buf: not enough free space")

// Reader is the read-side view a protocol layer consumes. Data returns the
// readable window; mutating it in place (e.g. unmasking) is allowed.
type Reader interface {
	Data() []byte
	Len() int
	Skip(n int)
	Unskip(n int)
}

// Fixed is a fixed-capacity buffer with read and write cursors. It never
// reallocates; writers check Free before appending.
type Fixed struct {
	b []byte
	r int
	w int
}

func NewFixed(capacity int) *Fixed {
	return &Fixed{b: make([]byte, capacity)}
}

func (f *Fixed) Cap() int { return len(f.b) }

// Len reports the readable byte count.
func (f *Fixed) Len() int { return f.w - f.r }

// Free reports the writable byte count.
func (f *Fixed) Free() int { return len(f.b) - f.w }

// Data returns the readable window.
func (f *Fixed) Data() []byte { return f.b[f.r:f.w] }

// FreeSpace returns the writable window. After copying into it, call
// Advance with the byte count.
func (f *Fixed) FreeSpace() []byte { return f.b[f.w:] }

// Advance extends the write cursor by n, after an external copy into
// FreeSpace.
func (f *Fixed) Advance(n int) {
	f.w += n
	if f.w > len(f.b) {
		f.w = len(f.b)
	}
}

// Write appends p in full or fails with ErrNoSpace.
func (f *Fixed) Write(p []byte) error {
	if len(p) > f.Free() {
		return ErrNoSpace
	}
	copy(f.b[f.w:], p)
	f.w += len(p)
	return nil
}

// Skip advances the read cursor by n.
func (f *Fixed) Skip(n int) {
	f.r += n
	if f.r > f.w {
		f.r = f.w
	}
}

// Unskip rewinds the read cursor by n.
func (f *Fixed) Unskip(n int) {
	f.r -= n
	if f.r < 0 {
		f.r = 0
	}
}

// Unwrite rewinds the write cursor by n, discarding the newest bytes.
func (f *Fixed) Unwrite(n int) {
	f.w -= n
	if f.w < f.r {
		f.w = f.r
	}
}

func (f *Fixed) Clear() {
	f.r = 0
	f.w = 0
}

// Dynamic is a growable buffer with a read cursor. The write position is
// always the end of the underlying slice.
type Dynamic struct {
	b []byte
	r int
}

func (d *Dynamic) Len() int { return len(d.b) - d.r }

func (d *Dynamic) Data() []byte { return d.b[d.r:] }

func (d *Dynamic) Write(p []byte) {
	d.b = append(d.b, p...)
}

func (d *Dynamic) WriteByte(c byte) {
	d.b = append(d.b, c)
}

func (d *Dynamic) Skip(n int) {
	d.r += n
	if d.r > len(d.b) {
		d.r = len(d.b)
	}
}

func (d *Dynamic) Unskip(n int) {
	d.r -= n
	if d.r < 0 {
		d.r = 0
	}
}

// Unwrite discards the last n written bytes.
func (d *Dynamic) Unwrite(n int) {
	end := len(d.b) - n
	if end < d.r {
		end = d.r
	}
	d.b = d.b[:end]
}

// Compact drops consumed bytes so Data starts at the underlying slice head.
func (d *Dynamic) Compact() {
	if d.r == 0 {
		return
	}
	n := copy(d.b, d.b[d.r:])
	d.b = d.b[:n]
	d.r = 0
}

func (d *Dynamic) Clear() {
	d.b = d.b[:0]
	d.r = 0
}
