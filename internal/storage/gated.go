package storage

import "sync/atomic"

// GatedDB wraps a DB so that it can be switched off ahead of closing.
// After Disable every operation except Close fails with ErrUnavailable,
// which lets in-flight request handlers drain before the connection goes.
type GatedDB struct {
	inner    DB
	disabled atomic.Bool
}

// NewGated wraps inner in an enabled gate.
func NewGated(inner DB) *GatedDB {
	return &GatedDB{inner: inner}
}

// Disable rejects all further operations. Safe to call more than once.
func (g *GatedDB) Disable() {
	g.disabled.Store(true)
}

// Disabled reports whether Disable has been called.
func (g *GatedDB) Disabled() bool {
	return g.disabled.Load()
}

// Inner returns the wrapped database.
func (g *GatedDB) Inner() DB {
	return g.inner
}

// Get retrieves a value by key.
func (g *GatedDB) Get(key []byte) ([]byte, error) {
	if g.Disabled() {
		return nil, ErrUnavailable
	}
	return g.inner.Get(key)
}

// Put stores a key-value pair.
func (g *GatedDB) Put(key, value []byte) error {
	if g.Disabled() {
		return ErrUnavailable
	}
	return g.inner.Put(key, value)
}

// Delete removes a key.
func (g *GatedDB) Delete(key []byte) error {
	if g.Disabled() {
		return ErrUnavailable
	}
	return g.inner.Delete(key)
}

// Has checks if a key exists.
func (g *GatedDB) Has(key []byte) (bool, error) {
	if g.Disabled() {
		return false, ErrUnavailable
	}
	return g.inner.Has(key)
}

// ForEach iterates over all keys with the given prefix.
func (g *GatedDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	if g.Disabled() {
		return ErrUnavailable
	}
	return g.inner.ForEach(prefix, fn)
}

// Ping pings the inner store when it supports it.
func (g *GatedDB) Ping() error {
	if g.Disabled() {
		return ErrUnavailable
	}
	if p, ok := g.inner.(Pinger); ok {
		return p.Ping()
	}
	return nil
}

// Close closes the inner database. It is allowed after Disable.
func (g *GatedDB) Close() error {
	g.Disable()
	return g.inner.Close()
}

// NewBatch returns a batch whose Commit honours the gate.
func (g *GatedDB) NewBatch() Batch {
	var inner Batch
	if b, ok := g.inner.(Batcher); ok {
		inner = b.NewBatch()
	} else {
		inner = &prefixFallbackBatch{db: NewPrefixDB(g.inner, nil)}
	}
	return &gatedBatch{gate: g, inner: inner}
}

type gatedBatch struct {
	gate  *GatedDB
	inner Batch
}

func (gb *gatedBatch) Put(key, value []byte) error {
	return gb.inner.Put(key, value)
}

func (gb *gatedBatch) Delete(key []byte) error {
	return gb.inner.Delete(key)
}

func (gb *gatedBatch) Commit() error {
	if gb.gate.Disabled() {
		return ErrUnavailable
	}
	return gb.inner.Commit()
}
