package buf

import (
	"bytes"
	"testing"
)

func TestFixedWriteSkip(t *testing.T) {
	f := NewFixed(8)
	if f.Cap() != 8 || f.Len() != 0 || f.Free() != 8 {
		t.Fatalf("fresh buffer: cap=%d len=%d free=%d", f.Cap(), f.Len(), f.Free())
	}
	if err := f.Write([]byte("abcde")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := string(f.Data()); got != "abcde" {
		t.Fatalf("data = %q", got)
	}
	f.Skip(2)
	if got := string(f.Data()); got != "cde" {
		t.Fatalf("after skip data = %q", got)
	}
	f.Unskip(1)
	if got := string(f.Data()); got != "bcde" {
		t.Fatalf("after unskip data = %q", got)
	}
	if err := f.Write([]byte("wxyz")); err != ErrNoSpace {
		t.Fatalf("overflow write = %v, want ErrNoSpace", err)
	}
	if err := f.Write([]byte("fgh")); err != nil {
		t.Fatalf("exact-fit write failed: %v", err)
	}
	if f.Free() != 0 {
		t.Fatalf("free = %d, want 0", f.Free())
	}
	f.Clear()
	if f.Len() != 0 || f.Free() != 8 {
		t.Fatalf("after clear: len=%d free=%d", f.Len(), f.Free())
	}
}

func TestFixedAdvance(t *testing.T) {
	f := NewFixed(4)
	n := copy(f.FreeSpace(), []byte("ab"))
	f.Advance(n)
	if got := string(f.Data()); got != "ab" {
		t.Fatalf("data = %q", got)
	}
	f.Advance(100)
	if f.Len() != 4 {
		t.Fatalf("advance past cap: len = %d", f.Len())
	}
}

func TestDynamic(t *testing.T) {
	var d Dynamic
	d.Write([]byte("hello "))
	d.Write([]byte("world"))
	if got := string(d.Data()); got != "hello world" {
		t.Fatalf("data = %q", got)
	}
	d.Skip(6)
	if got := string(d.Data()); got != "world" {
		t.Fatalf("after skip = %q", got)
	}
	d.Unwrite(2)
	if got := string(d.Data()); got != "wor" {
		t.Fatalf("after unwrite = %q", got)
	}
	d.Compact()
	if got := string(d.Data()); got != "wor" {
		t.Fatalf("after compact = %q", got)
	}
	d.Clear()
	if d.Len() != 0 {
		t.Fatalf("after clear len = %d", d.Len())
	}
}

func TestBytesReader(t *testing.T) {
	b := NewBytes([]byte("abcdef"))
	b.Skip(2)
	if got := string(b.Data()); got != "cdef" {
		t.Fatalf("data = %q", got)
	}
	b.Unskip(1)
	if b.Len() != 5 {
		t.Fatalf("len = %d", b.Len())
	}
	b.Skip(100)
	if b.Len() != 0 {
		t.Fatalf("len after overskip = %d", b.Len())
	}
}

func TestBytesPoolClasses(t *testing.T) {
	for _, size := range []int{1, 512, 513, 4096, 16 * 1024, 64 * 1024, 64*1024 + 1} {
		b := GetBytes(size)
		if len(b) != size {
			t.Fatalf("GetBytes(%d) len = %d", size, len(b))
		}
		PutBytes(b)
	}
}

func TestFreeListReuse(t *testing.T) {
	fl := NewFreeList(2, 16)
	a := fl.Get()
	a.Write([]byte("junk"))
	fl.Put(a)
	b := fl.Get()
	if b != a {
		t.Fatal("expected pooled buffer back")
	}
	if b.Len() != 0 {
		t.Fatal("pooled buffer not cleared")
	}
	// wrong-size buffers are rejected
	fl.Put(NewFixed(8))
	c := fl.Get()
	if c.Cap() != 16 {
		t.Fatalf("cap = %d, want 16", c.Cap())
	}
	if !bytes.Equal(c.FreeSpace(), make([]byte, 16)) {
		t.Fatal("free space not full capacity")
	}
}
