package copus

import (
	"math/rand/v2"
)

// StableID is a short random identifier attached to block and text nodes.
// It is persisted verbatim and survives copy-on-write clones, so stored
// annotations can keep referring to the same element across edits.
type StableID string

// DefaultIDLength is the number of base-62 characters in a minted id.
const DefaultIDLength = 4

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// IDSource supplies randomness for id generation. *rand.Rand satisfies it.
type IDSource interface {
	IntN(n int) int
}

// NewIDSource returns a randomly seeded IDSource.
func NewIDSource() IDSource {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewSeededIDSource returns a deterministic IDSource, mainly for tests and benchmarks.
func NewSeededIDSource(seed uint64) IDSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Registry is the bidirectional map between stable ids and node keys for a
// single document. Each document owns its own registry.
type Registry struct {
	length  int
	source  IDSource
	keyToID map[NodeKey]StableID
	idToKey map[StableID]NodeKey
}

// NewRegistry creates an empty registry minting ids of the given length.
func NewRegistry(length int, source IDSource) *Registry {
	if length <= 0 {
		length = DefaultIDLength
	}
	if source == nil {
		source = NewIDSource()
	}
	return &Registry{
		length:  length,
		source:  source,
		keyToID: make(map[NodeKey]StableID),
		idToKey: make(map[StableID]NodeKey),
	}
}

// Mint draws a fresh id that is not bound in the registry. The id is not bound.
func (r *Registry) Mint() StableID {
	buf := make([]byte, r.length)
	for {
		for i := range buf {
			buf[i] = idAlphabet[r.source.IntN(len(idAlphabet))]
		}
		id := StableID(buf)
		if _, taken := r.idToKey[id]; !taken {
			return id
		}
	}
}

// Assign binds an id to key and returns it.
//
// A non-empty preferred id is reused verbatim unless it is already bound to a
// different key; in that case a fresh id is minted and collided is true.
// With no preferred id the key keeps whatever id it already has, or gets a
// fresh one.
func (r *Registry) Assign(key NodeKey, preferred StableID) (id StableID, collided bool) {
	if preferred != "" {
		if owner, ok := r.idToKey[preferred]; !ok || owner == key {
			r.bind(key, preferred)
			return preferred, false
		}
		id = r.Mint()
		r.bind(key, id)
		return id, true
	}
	if existing, ok := r.keyToID[key]; ok {
		return existing, false
	}
	id = r.Mint()
	r.bind(key, id)
	return id, false
}

func (r *Registry) bind(key NodeKey, id StableID) {
	if old, ok := r.keyToID[key]; ok && old != id {
		delete(r.idToKey, old)
	}
	r.keyToID[key] = id
	r.idToKey[id] = key
}

// Lookup returns the key bound to id.
func (r *Registry) Lookup(id StableID) (NodeKey, bool) {
	key, ok := r.idToKey[id]
	return key, ok
}

// IDOf returns the id bound to key.
func (r *Registry) IDOf(key NodeKey) (StableID, bool) {
	id, ok := r.keyToID[key]
	return id, ok
}

// Release unbinds key and its id.
func (r *Registry) Release(key NodeKey) {
	if id, ok := r.keyToID[key]; ok {
		delete(r.idToKey, id)
		delete(r.keyToID, key)
	}
}

// Len returns the number of bound ids.
func (r *Registry) Len() int {
	return len(r.idToKey)
}

func (r *Registry) clone() *Registry {
	c := &Registry{
		length:  r.length,
		source:  r.source,
		keyToID: make(map[NodeKey]StableID, len(r.keyToID)),
		idToKey: make(map[StableID]NodeKey, len(r.idToKey)),
	}
	for k, v := range r.keyToID {
		c.keyToID[k] = v
	}
	for k, v := range r.idToKey {
		c.idToKey[k] = v
	}
	return c
}
