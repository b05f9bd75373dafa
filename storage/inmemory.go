package storage

import "sync"

// InMemory implements Store, meant to be used in unit tests.
type InMemory struct {
	sync.Mutex
	m map[Key]Value
}

func NewInMemory() *InMemory {
	return &InMemory{m: make(map[Key]Value)}
}

func (s *InMemory) Get(k Key) (Value, error) {
	s.Lock()
	defer s.Unlock()
	v, ok := s.m[k]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *InMemory) Put(k Key, v Value) error {
	s.Lock()
	defer s.Unlock()
	if s.m == nil {
		s.m = make(map[Key]Value)
	}
	s.m[k] = v
	return nil
}

func (s *InMemory) Delete(k Key) error {
	s.Lock()
	defer s.Unlock()
	delete(s.m, k)
	return nil
}

func (s *InMemory) Contains(k Key) (bool, error) {
	s.Lock()
	defer s.Unlock()
	_, ok := s.m[k]
	return ok, nil
}

func (s *InMemory) ForEach(cb func(Key) error) error {
	s.Lock()
	keys := make([]Key, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.Unlock()
	for _, k := range keys {
		if err := cb(k); err != nil {
			return err
		}
	}
	return nil
}
