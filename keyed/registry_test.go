// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package keyed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/transport"
	"github.com/galaxy-foundation/galaxy/work"
)

type label struct {
	key   Key
	text  string
	count int32
}

func (l *label) Key() Key { return l.key }

func (l *label) Serialize(w *wire.Writer) {
	w.PutString(l.text)
	w.PutInt32(l.count)
}

func (l *label) Deserialize(r *wire.Reader) error {
	l.text = r.String()
	l.count = r.Int32()
	return r.Err()
}

type marker struct{ key Key }

func (m *marker) Key() Key                         { return m.key }
func (m *marker) Serialize(*wire.Writer)           {}
func (m *marker) Deserialize(r *wire.Reader) error { return r.Err() }

type rankState struct {
	registry *Registry
	label    TypeIndex
	marker   TypeIndex
}

// newRanks builds size registries connected by a memory network.
func newRanks(t *testing.T, size int) []*rankState {
	t.Helper()
	network := transport.NewMemoryNetwork(size)
	ctx, cancel := context.WithCancel(context.Background())
	ranks := make([]*rankState, size)
	channels := make([]*work.Channel, size)
	for rank := range size {
		channel := work.NewChannel(work.Config{
			Rank:   rank,
			Size:   size,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		registry := NewRegistry(channel)
		ranks[rank] = &rankState{
			registry: registry,
			label:    registry.Register("label", func(key Key) Object { return &label{key: key} }),
			marker:   registry.Register("marker", func(key Key) Object { return &marker{key: key} }),
		}
		if err := channel.Attach(network.Endpoint(rank)); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		channels[rank] = channel
		go channel.Serve(ctx)
	}
	t.Cleanup(func() {
		cancel()
		for _, channel := range channels {
			<-channel.Done()
		}
		network.Close()
	})
	return ranks
}

func TestKeysAreUniqueAcrossRanks(t *testing.T) {
	ranks := newRanks(t, 3)
	seen := make(map[Key]int)
	for rank, state := range ranks {
		for range 100 {
			object, err := state.registry.NewInstance(state.label)
			if err != nil {
				t.Fatalf("NewInstance: %v", err)
			}
			key := object.Key()
			if key == NoKey {
				t.Fatal("NewInstance issued NoKey")
			}
			if previous, dup := seen[key]; dup {
				t.Fatalf("key %d issued by rank %d and rank %d", key, previous, rank)
			}
			seen[key] = rank
		}
	}
}

func TestGetByKeyNotFound(t *testing.T) {
	ranks := newRanks(t, 1)
	_, err := ranks[0].registry.GetByKey(99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByKey error = %v, want ErrNotFound", err)
	}
}

func TestGetChecksType(t *testing.T) {
	ranks := newRanks(t, 1)
	object, err := ranks[0].registry.NewInstance(ranks[0].marker)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if _, err := Get[*marker](ranks[0].registry, object.Key()); err != nil {
		t.Errorf("Get[*marker]: %v", err)
	}
	if _, err := Get[*label](ranks[0].registry, object.Key()); err == nil {
		t.Error("Get[*label] of a marker succeeded")
	}
}

func TestSerializeRoundTripCreatesShadow(t *testing.T) {
	ranks := newRanks(t, 2)
	object, err := ranks[0].registry.NewInstance(ranks[0].label)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	source := object.(*label)
	source.text = "isosurface"
	source.count = 17

	data, err := ranks[0].registry.Serialize(source.Key())
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := ranks[1].registry.GetByKey(source.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rank 1 already has key %d", source.Key())
	}
	shadow, err := ranks[1].registry.Deserialize(data, source.Key())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got := shadow.(*label)
	if got.key != source.key || got.text != source.text || got.count != source.count {
		t.Errorf("shadow = %+v, want %+v", got, source)
	}
	if again, _ := ranks[1].registry.GetByKey(source.Key()); again != shadow {
		t.Error("shadow instance was not stored under its key")
	}
}

func TestDeserializeRejectsBadEncodings(t *testing.T) {
	ranks := newRanks(t, 1)
	registry := ranks[0].registry

	writer := wire.NewWriter(nil)
	writer.PutInt32(int32(ranks[0].label))
	writer.PutInt32(100)
	writer.PutString("short")
	if _, err := registry.Deserialize(writer.Bytes(), 5); err == nil {
		t.Error("Deserialize accepted a size prefix longer than the payload")
	}

	writer = wire.NewWriter(nil)
	writer.PutInt32(42)
	writer.PutInt32(0)
	if _, err := registry.Deserialize(writer.Bytes(), 5); err == nil {
		t.Error("Deserialize accepted an unregistered type")
	}

	object, _ := registry.NewInstance(ranks[0].marker)
	data, _ := registry.Serialize(object.Key())
	labelObject, _ := registry.NewInstance(ranks[0].label)
	if _, err := registry.Deserialize(data, labelObject.Key()); err == nil {
		t.Error("Deserialize applied a marker encoding to a label")
	}
}

func TestCommitReplicatesToEveryRank(t *testing.T) {
	ranks := newRanks(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	object, err := ranks[0].registry.NewInstance(ranks[0].label)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	source := object.(*label)
	source.text = "camera"
	source.count = 3
	if err := ranks[0].registry.Commit(ctx, source.Key()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Commit returns only after every replica is updated.
	for rank, state := range ranks {
		replica, err := Get[*label](state.registry, source.Key())
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
		if replica.text != "camera" || replica.count != 3 {
			t.Errorf("rank %d replica = %+v", rank, replica)
		}
	}

	// A second commit updates the existing replicas in place.
	source.count = 4
	if err := ranks[0].registry.Commit(ctx, source.Key()); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	for rank, state := range ranks {
		replica, _ := Get[*label](state.registry, source.Key())
		if replica.count != 4 {
			t.Errorf("rank %d count after second commit = %d, want 4", rank, replica.count)
		}
	}
}

func TestDropAndEntries(t *testing.T) {
	ranks := newRanks(t, 1)
	registry := ranks[0].registry
	first, _ := registry.NewInstance(ranks[0].label)
	second, _ := registry.NewInstance(ranks[0].marker)

	entries := registry.Entries()
	if len(entries) != 2 || entries[0].Key != first.Key() || entries[1].Type != "marker" {
		t.Fatalf("Entries = %+v", entries)
	}
	registry.Drop(first.Key())
	if _, err := registry.GetByKey(first.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByKey after Drop = %v, want ErrNotFound", err)
	}
	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
	_ = second
}

func TestReleaseDropsOnEveryRank(t *testing.T) {
	ranks := newRanks(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var keys []Key
	for range 2 {
		object, err := ranks[0].registry.NewInstance(ranks[0].label)
		if err != nil {
			t.Fatal(err)
		}
		if err := ranks[0].registry.Commit(ctx, object.Key()); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		keys = append(keys, object.Key())
	}

	// Rank 2 is still using the first object.
	ranks[2].registry.Hold(keys[0])
	if err := ranks[0].registry.Release(ctx, keys...); err != nil {
		t.Fatalf("Release: %v", err)
	}
	for rank, state := range ranks {
		want := 0
		if rank == 2 {
			want = 1
		}
		if got := state.registry.Len(); got != want {
			t.Errorf("rank %d holds %d objects after Release, want %d", rank, got, want)
		}
	}
	if _, err := ranks[2].registry.GetByKey(keys[0]); err != nil {
		t.Errorf("held object gone before Unhold: %v", err)
	}
	ranks[2].registry.Unhold(keys[0])
	if _, err := ranks[2].registry.GetByKey(keys[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByKey after Unhold = %v, want ErrNotFound", err)
	}
}

func TestUnheldKeySurvivesUnhold(t *testing.T) {
	ranks := newRanks(t, 1)
	registry := ranks[0].registry
	object, _ := registry.NewInstance(ranks[0].label)
	registry.Hold(object.Key())
	registry.Unhold(object.Key())
	registry.Unhold(object.Key())
	if _, err := registry.GetByKey(object.Key()); err != nil {
		t.Errorf("Unhold without Drop removed the object: %v", err)
	}
}

func TestConcurrentCommitsFromEveryRank(t *testing.T) {
	ranks := newRanks(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, len(ranks)*10)
	done := make(chan struct{})
	for _, state := range ranks {
		go func() {
			for range 10 {
				object, err := state.registry.NewInstance(state.label)
				if err != nil {
					errs <- err
					continue
				}
				errs <- state.registry.Commit(ctx, object.Key())
			}
			done <- struct{}{}
		}()
	}
	for range ranks {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("concurrent commits did not finish")
		}
	}
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	for rank, state := range ranks {
		if got := state.registry.Len(); got != 30 {
			t.Errorf("rank %d holds %d objects, want 30", rank, got)
		}
	}
}
