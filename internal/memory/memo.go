package memory

import (
	"errors"
	"fmt"
)

// ErrNoSuchKey is returned by Memo.Get and Memo.Del for absent keys, so
// both access surfaces fail the same way.
var ErrNoSuchKey = errors.New("no such key")

// Memo holds arbitrary key/value state assigned by handler code. It is a
// plain map, so subscript access works as usual; the method surface exposes
// the same backing storage with a uniform missing-key failure.
//
// Memos are never cleared automatically: they live exactly as long as the
// owning memory record.
type Memo map[string]any

// Set stores a value under key.
func (m Memo) Set(key string, value any) { m[key] = value }

// Get returns the value under key, or ErrNoSuchKey.
func (m Memo) Get(key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrNoSuchKey)
	}
	return v, nil
}

// Del removes key, or returns ErrNoSuchKey when absent.
func (m Memo) Del(key string) error {
	if _, ok := m[key]; !ok {
		return fmt.Errorf("%q: %w", key, ErrNoSuchKey)
	}
	delete(m, key)
	return nil
}
