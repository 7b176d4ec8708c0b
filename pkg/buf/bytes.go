package buf

// Bytes adapts a plain slice to the Reader interface so protocol layers can
// hand framed views (headers, payload chunks) down the pipeline without
// copying.
type Bytes struct {
	b []byte
	r int
}

func NewBytes(b []byte) *Bytes { return &Bytes{b: b} }

func (s *Bytes) Reset(b []byte) {
	s.b = b
	s.r = 0
}

func (s *Bytes) Data() []byte { return s.b[s.r:] }

func (s *Bytes) Len() int { return len(s.b) - s.r }

func (s *Bytes) Skip(n int) {
	s.r += n
	if s.r > len(s.b) {
		s.r = len(s.b)
	}
}

func (s *Bytes) Unskip(n int) {
	s.r -= n
	if s.r < 0 {
		s.r = 0
	}
}
