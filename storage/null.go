package storage

// NullStore discards everything written to it and has nothing to
// read back. It stands in for the slow store in tests that exercise
// the fast-store-only paths of Paired.
type NullStore struct{}

func (NullStore) Get(Key) (Value, error) {
	return nil, ErrNotFound
}

func (NullStore) Put(Key, Value) error {
	return nil
}

func (NullStore) Delete(Key) error {
	return nil
}
