// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyed is the rank-local table of distributed objects.
//
// Every object that more than one rank needs to see (camera, dataset,
// visualization, rendering, rendering set, particle set, sampler) lives
// in a [Registry] under a [Key]. Objects refer to each other by key and
// resolve references through the registry on use; no object holds a
// pointer to another. Keys are striped by rank so every rank can mint
// keys without coordination and no key is ever issued twice in a run.
//
// An object's state becomes visible on other ranks through
// [Registry.Commit], which broadcasts its encoding and waits until every
// rank has applied it. On ranks that have never seen the key, applying
// the encoding creates a shadow instance. [Registry.Release] removes
// objects from every rank; a rank still using one keeps it under
// [Registry.Hold] until the matching [Registry.Unhold].
package keyed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/work"
)

// Key identifies a distributed object across all ranks.
type Key int64

// NoKey is the null reference.
const NoKey Key = 0

// Object is a distributed object.
type Object interface {
	// Key returns the key the object was created under.
	Key() Key

	// Serialize writes the object's committed state.
	Serialize(w *wire.Writer)

	// Deserialize replaces the object's state with an encoding written
	// by Serialize.
	Deserialize(r *wire.Reader) error
}

// Factory creates an empty object of one type under key.
type Factory func(key Key) Object

// TypeIndex identifies a registered object type. Like message types,
// object types are identified by registration order, which must match
// on every rank.
type TypeIndex int32

// ErrNotFound is returned for a key unknown on this rank.
var ErrNotFound = errors.New("object not found")

type objectType struct {
	name    string
	factory Factory
}

type entry struct {
	typ    TypeIndex
	object Object
}

// Registry maps keys to objects on one rank.
type Registry struct {
	channel *work.Channel
	commit  *work.Type
	drop    *work.Type
	logger  *slog.Logger
	rank    int
	size    int

	counter atomic.Int64

	mu      sync.RWMutex
	types   []objectType
	names   map[string]TypeIndex
	objects map[Key]entry

	// holds counts users of a key on this rank; doomed keys are
	// removed when their last hold goes.
	holds  map[Key]int
	doomed map[Key]bool
}

// NewRegistry returns an empty registry and registers its commit message
// on channel.
func NewRegistry(channel *work.Channel) *Registry {
	registry := &Registry{
		channel: channel,
		logger:  channel.Logger(),
		rank:    channel.Rank(),
		size:    channel.Size(),
		names:   make(map[string]TypeIndex),
		objects: make(map[Key]entry),
		holds:   make(map[Key]int),
		doomed:  make(map[Key]bool),
	}
	registry.commit = channel.Register("keyed.commit", registry.applyCommit)
	registry.drop = channel.Register("keyed.drop", registry.applyDrop)
	return registry
}

// Register adds an object type. It panics on a duplicate name.
func (r *Registry) Register(name string, factory Factory) TypeIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[name]; exists {
		panic(fmt.Sprintf("keyed: object type %q registered twice", name))
	}
	index := TypeIndex(len(r.types))
	r.types = append(r.types, objectType{name: name, factory: factory})
	r.names[name] = index
	return index
}

// TypeName returns the name of a registered type.
func (r *Registry) TypeName(index TypeIndex) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || int(index) >= len(r.types) {
		return fmt.Sprintf("unknown(%d)", index)
	}
	return r.types[index].name
}

// nextKey mints a key no other rank can mint.
func (r *Registry) nextKey() Key {
	counter := r.counter.Add(1) - 1
	return Key(counter*int64(r.size) + int64(r.rank) + 1)
}

// NewInstance creates an object of type index under a fresh key.
func (r *Registry) NewInstance(index TypeIndex) (Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || int(index) >= len(r.types) {
		return nil, fmt.Errorf("new instance of unregistered object type %d", index)
	}
	key := r.nextKey()
	object := r.types[index].factory(key)
	r.objects[key] = entry{typ: index, object: object}
	return object, nil
}

// GetByKey returns the object stored under key.
func (r *Registry) GetByKey(key Key) (Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.objects[key]
	if !ok {
		return nil, fmt.Errorf("key %d on rank %d: %w", key, r.rank, ErrNotFound)
	}
	return found.object, nil
}

// Get returns the object under key as a T.
func Get[T Object](r *Registry, key Key) (T, error) {
	var zero T
	object, err := r.GetByKey(key)
	if err != nil {
		return zero, err
	}
	typed, ok := object.(T)
	if !ok {
		return zero, fmt.Errorf("key %d holds %T, not %T", key, object, zero)
	}
	return typed, nil
}

// Serialize encodes the object under key as
// [type:i32][size:i32][payload].
func (r *Registry) Serialize(key Key) ([]byte, error) {
	r.mu.RLock()
	found, ok := r.objects[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("serialize key %d: %w", key, ErrNotFound)
	}

	payload := wire.NewWriter(nil)
	found.object.Serialize(payload)
	writer := wire.NewWriter(make([]byte, 0, 8+payload.Len()))
	writer.PutInt32(int32(found.typ))
	writer.PutInt32(int32(payload.Len()))
	writer.PutRaw(payload.Bytes())
	return writer.Bytes(), nil
}

// Deserialize applies an encoding produced by Serialize to the object
// under key, creating a shadow instance if the key is new to this rank.
func (r *Registry) Deserialize(data []byte, key Key) (Object, error) {
	reader := wire.NewReader(data)
	index := TypeIndex(reader.Int32())
	size := reader.Int32()
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("deserialize key %d: %w", key, err)
	}
	if int(size) != reader.Remaining() {
		return nil, fmt.Errorf("deserialize key %d: payload is %d bytes, header says %d",
			key, reader.Remaining(), size)
	}

	r.mu.Lock()
	found, exists := r.objects[key]
	if exists && found.typ != index {
		r.mu.Unlock()
		return nil, fmt.Errorf("deserialize key %d: encoding is type %d, object is %s",
			key, index, r.TypeName(found.typ))
	}
	if !exists {
		if index < 0 || int(index) >= len(r.types) {
			r.mu.Unlock()
			return nil, fmt.Errorf("deserialize key %d: unregistered object type %d", key, index)
		}
		found = entry{typ: index, object: r.types[index].factory(key)}
		r.objects[key] = found
	}
	r.mu.Unlock()

	if err := found.object.Deserialize(wire.NewReader(reader.Rest())); err != nil {
		return nil, fmt.Errorf("deserialize %s %d: %w", r.TypeName(index), key, err)
	}
	return found.object, nil
}

// Commit publishes the object under key to every rank. When Commit
// returns, every rank's replica holds the committed state. Commit must
// not be called from a work Action. Commits from any rank are ordered
// through work.RootRank, so concurrent commits do not deadlock.
func (r *Registry) Commit(ctx context.Context, key Key) error {
	data, err := r.Serialize(key)
	if err != nil {
		return err
	}
	msg := work.NewMessage(r.commit, 8+len(data))
	msg.Writer().PutInt64(int64(key))
	msg.Writer().PutRaw(data)
	if err := r.channel.Broadcast(ctx, msg, work.BroadcastOptions{Collective: true, Barrier: true}); err != nil {
		return fmt.Errorf("commit key %d: %w", key, err)
	}
	return nil
}

// applyCommit is the Action for commit messages. Every rank applies the
// encoding, then waits for every other rank to have applied it, so no
// message dispatched after a commit can observe a stale replica.
func (r *Registry) applyCommit(ctx context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	key := Key(reader.Int64())
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: commit message: %w", work.ErrProtocolViolation, err)
	}
	// The committing rank's object is the source of the encoding.
	if msg.Sender() != r.rank {
		object, err := r.Deserialize(reader.Rest(), key)
		if err != nil {
			return false, err
		}
		r.logger.Debug("applied commit", "key", key, "type", fmt.Sprintf("%T", object), "sender", msg.Sender())
	}
	return false, msg.Barrier(ctx)
}

// Drop removes the object under key from this rank. A held key is
// removed when its last hold is released.
func (r *Registry) Drop(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holds[key] > 0 {
		r.doomed[key] = true
		return
	}
	delete(r.objects, key)
}

// Hold keeps keys stored on this rank across a Drop until Unhold.
func (r *Registry) Hold(keys ...Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.holds[key]++
	}
}

// Unhold releases one hold on each key and removes the keys dropped
// while held.
func (r *Registry) Unhold(keys ...Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		if r.holds[key] <= 0 {
			continue
		}
		r.holds[key]--
		if r.holds[key] > 0 {
			continue
		}
		delete(r.holds, key)
		if r.doomed[key] {
			delete(r.doomed, key)
			delete(r.objects, key)
		}
	}
}

// Release drops keys on every rank and returns once every rank has
// applied the drop. Release must not be called from a work Action.
func (r *Registry) Release(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	msg := work.NewMessage(r.drop, 4+8*len(keys))
	msg.Writer().PutInt32(int32(len(keys)))
	for _, key := range keys {
		msg.Writer().PutInt64(int64(key))
	}
	if err := r.channel.Broadcast(ctx, msg, work.BroadcastOptions{Barrier: true}); err != nil {
		return fmt.Errorf("release %d keys: %w", len(keys), err)
	}
	return nil
}

func (r *Registry) applyDrop(_ context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	count := int(reader.Int32())
	if err := reader.Err(); err != nil || count < 0 || count*8 != reader.Remaining() {
		return false, fmt.Errorf("%w: drop message of %d bytes", work.ErrProtocolViolation, msg.Size())
	}
	for range count {
		r.Drop(Key(reader.Int64()))
	}
	return false, nil
}

// Entry describes one stored object.
type Entry struct {
	Key  Key    `cbor:"key"`
	Type string `cbor:"type"`
}

// Entries lists the stored objects in key order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.objects))
	for key, found := range r.objects {
		entries = append(entries, Entry{Key: key, Type: r.types[found.typ].name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Len returns the number of stored objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
