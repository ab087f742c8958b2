// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package work

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// ActionFunc handles one delivered message on the receiving rank.
//
// Returning retain=true transfers ownership of the message to the
// handler, which must eventually call [Message.Release]; use it when the
// Action hands the message to asynchronous local work. Returning false
// lets the channel release the payload buffer as soon as the Action
// returns.
//
// A non-nil error is logged and, for broadcasts with a completion
// barrier, reported back to the broadcaster. Errors wrapping
// ErrProtocolViolation also stop Serve.
type ActionFunc func(ctx context.Context, msg *Message) (retain bool, err error)

// Type is a registered message type.
type Type struct {
	name   string
	index  uint32
	action ActionFunc
}

// Name returns the name the type was registered under.
func (t *Type) Name() string { return t.name }

// Index returns the type's wire index.
func (t *Type) Index() uint32 { return t.index }

// maxTypes bounds the index space. The top bits of a frame's type field
// carry delivery flags.
const maxTypes = 1 << 24

// Registry assigns wire indexes to message types.
type Registry struct {
	mu     sync.RWMutex
	types  []*Type
	names  map[string]*Type
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]*Type)}
}

// Register adds a message type and returns it. Indexes start at 1 and
// follow registration order. Register panics on a duplicate name, a nil
// action, or a registry that is already frozen: registration is part of
// program initialization, and a mistake there is a programming error.
func (r *Registry) Register(name string, action ActionFunc) *Type {
	if action == nil {
		panic(fmt.Sprintf("work: message type %q registered without an action", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("work: message type %q registered after the channel started", name))
	}
	if _, exists := r.names[name]; exists {
		panic(fmt.Sprintf("work: message type %q registered twice", name))
	}
	if len(r.types)+1 >= maxTypes {
		panic("work: message type index space exhausted")
	}
	t := &Type{name: name, index: uint32(len(r.types) + 1), action: action}
	r.types = append(r.types, t)
	r.names[name] = t
	return t
}

// Lookup returns the type registered at index.
func (r *Registry) Lookup(index uint32) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index == 0 || int(index) > len(r.types) {
		return nil, false
	}
	return r.types[index-1], true
}

// ByName returns the type registered under name.
func (r *Registry) ByName(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.names[name]
	return t, ok
}

// Names returns the registered names in index order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.types))
	for i, t := range r.types {
		names[i] = t.name
	}
	return names
}

// Digest returns a BLAKE3 hash of the registered names in index order.
// Two ranks with equal digests agree on every index.
func (r *Registry) Digest() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hasher := blake3.New()
	for _, t := range r.types {
		hasher.Write([]byte(t.name))
		hasher.Write([]byte{0})
	}
	return hasher.Sum(nil)
}

// freeze rejects further registration.
func (r *Registry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
