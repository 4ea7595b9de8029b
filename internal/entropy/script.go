package entropy

// Script is a Source that replays fixed draws, for deterministic tests.
// Ints are consumed by IntN and IntRange, floats by FloatRange. Once a
// queue runs dry the source falls back to Fallback (or panics if nil).
type Script struct {
	Ints     []int
	Floats   []float64
	Fallback Source
}

func (s *Script) IntN(n int) int {
	if len(s.Ints) == 0 {
		return s.fallback().IntN(n)
	}
	v := s.Ints[0]
	s.Ints = s.Ints[1:]
	return v % n
}

func (s *Script) IntRange(lo, hi int) int {
	if len(s.Ints) == 0 {
		return s.fallback().IntRange(lo, hi)
	}
	v := s.Ints[0]
	s.Ints = s.Ints[1:]
	return lo + v%(hi-lo)
}

func (s *Script) FloatRange(lo, hi float64) float64 {
	if len(s.Floats) == 0 {
		return s.fallback().FloatRange(lo, hi)
	}
	f := s.Floats[0]
	s.Floats = s.Floats[1:]
	return lo + (hi-lo)*f
}

func (s *Script) fallback() Source {
	if s.Fallback == nil {
		panic("entropy: script exhausted")
	}
	return s.Fallback
}
