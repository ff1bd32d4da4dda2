package gpuwaste

import "sync"

// staging holds per-draw values until the engine settles the draw.
type staging[T any] struct {
	mu      sync.Mutex
	pending map[int]T
}

func (s *staging[T]) put(draw int, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[int]T)
	}
	s.pending[draw] = v
}

// take removes the staged value of draw. ok is false when nothing was
// staged or keep is false.
func (s *staging[T]) take(draw int, keep bool) (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok = s.pending[draw]
	delete(s.pending, draw)
	return v, ok && keep
}
