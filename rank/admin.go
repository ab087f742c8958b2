// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package rank

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/lib/codec"
	"github.com/galaxy-foundation/galaxy/lib/service"
	"github.com/galaxy-foundation/galaxy/lib/version"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/sampler"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// Status is the reply to the admin "status" action.
type Status struct {
	Rank          int          `cbor:"rank"`
	Size          int          `cbor:"size"`
	Version       string       `cbor:"version"`
	Digest        string       `cbor:"digest"`
	UptimeSeconds float64      `cbor:"uptime_seconds"`
	NewestFrame   int32        `cbor:"newest_frame"`
	Objects       int          `cbor:"objects"`
	Channel       work.Stats   `cbor:"channel"`
	Render        render.Stats `cbor:"render"`
}

// FrameStatus is one entry of the reply to the admin "frames" action.
type FrameStatus struct {
	Frame  int32  `cbor:"frame"`
	State  string `cbor:"state"`
	Pixels int64  `cbor:"pixels"`
}

// PingResult is one entry of the reply to the admin "ping" action.
type PingResult struct {
	Rank      int    `cbor:"rank"`
	RoundTrip int64  `cbor:"round_trip_ns"`
	Error     string `cbor:"error,omitempty"`
}

// AdminConfig configures an Admin.
type AdminConfig struct {
	// Clock measures uptime. Nil means the real clock.
	Clock clock.Clock

	// StateDir resolves relative document paths of "sample" requests.
	StateDir string
}

// Admin answers operator requests about a node.
type Admin struct {
	node     *Node
	clock    clock.Clock
	started  time.Time
	stateDir string

	// sampleMu serializes sampling requests; they share one sampler.
	sampleMu sync.Mutex
	sampler  *sampler.Sampler
}

// NewAdmin returns an Admin for node.
func NewAdmin(node *Node, config AdminConfig) *Admin {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Admin{
		node:     node,
		clock:    config.Clock,
		started:  config.Clock.Now(),
		stateDir: config.StateDir,
	}
}

// Register installs the admin actions on server.
func (a *Admin) Register(server *service.SocketServer) {
	server.Handle("status", func(context.Context, []byte) (any, error) { return a.Status(), nil })
	server.Handle("frames", func(context.Context, []byte) (any, error) { return a.Frames(), nil })
	server.Handle("objects", func(context.Context, []byte) (any, error) { return a.node.Registry.Entries(), nil })
	server.Handle("ping", a.handlePing)
	server.Handle("sample", a.handleSample)
	server.Handle("particles", func(context.Context, []byte) (any, error) { return a.Particles() })
}

// Status reports the node's identity and counters.
func (a *Admin) Status() Status {
	node := a.node
	return Status{
		Rank:          node.Rank(),
		Size:          node.Channel.Size(),
		Version:       version.Info(),
		Digest:        hex.EncodeToString(node.Digest()),
		UptimeSeconds: clock.Since(a.clock, a.started).Seconds(),
		NewestFrame:   node.Tracker.Newest(),
		Objects:       node.Registry.Len(),
		Channel:       node.Channel.Stats(),
		Render:        node.Renderer.Stats(),
	}
}

// Frames lists every frame with recorded contributions, plus the newest
// frame, with its current state.
func (a *Admin) Frames() []FrameStatus {
	tracker := a.node.Tracker
	counts := tracker.Contributions()
	frames := make([]FrameStatus, 0, len(counts)+1)
	newestSeen := false
	newest := tracker.Newest()
	for _, count := range counts {
		frames = append(frames, FrameStatus{
			Frame:  count.Frame,
			State:  tracker.State(count.Frame).String(),
			Pixels: count.Count,
		})
		newestSeen = newestSeen || count.Frame == newest
	}
	if !newestSeen && newest >= 0 {
		frames = append(frames, FrameStatus{Frame: newest, State: tracker.State(newest).String()})
	}
	return frames
}

// Ping measures the round trip to one rank, or to every other rank when
// target is nil. A failed ping is reported in its entry.
func (a *Admin) Ping(ctx context.Context, target *int) ([]PingResult, error) {
	channel := a.node.Channel
	var targets []int
	if target != nil {
		if *target < 0 || *target >= channel.Size() {
			return nil, fmt.Errorf("ping: rank %d outside cluster of %d", *target, channel.Size())
		}
		targets = []int{*target}
	} else {
		for rank := range channel.Size() {
			if rank != channel.Rank() {
				targets = append(targets, rank)
			}
		}
	}

	results := make([]PingResult, len(targets))
	for i, rank := range targets {
		roundTrip, err := channel.Ping(ctx, rank)
		results[i] = PingResult{Rank: rank, RoundTrip: roundTrip.Nanoseconds()}
		if err != nil {
			results[i].Error = err.Error()
		}
	}
	return results, nil
}

func (a *Admin) handlePing(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		Rank *int `cbor:"rank"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	return a.Ping(ctx, request.Rank)
}

// SampleRequest names the documents of an admin "sample" action.
type SampleRequest struct {
	// Document is the state document whose datasets are sampled.
	Document string `cbor:"document"`

	// Request is the JSONC sampling request file.
	Request string `cbor:"request"`
}

// Sample loads the request's documents, commits the datasets and runs
// the sampling request as the next frame. Only the sampler and its
// particle set outlive the call.
func (a *Admin) Sample(ctx context.Context, request SampleRequest) (result sampler.Result, err error) {
	if request.Document == "" || request.Request == "" {
		return sampler.Result{}, errors.New("sample: document and request are required")
	}
	document, err := scene.LoadDocument(a.resolve(request.Document))
	if err != nil {
		return sampler.Result{}, err
	}
	data, err := os.ReadFile(a.resolve(request.Request))
	if err != nil {
		return sampler.Result{}, fmt.Errorf("reading sampling request: %w", err)
	}
	parsed, err := sampler.ParseRequest(data)
	if err != nil {
		return sampler.Result{}, err
	}

	a.sampleMu.Lock()
	defer a.sampleMu.Unlock()

	node := a.node
	datasets, err := node.Objects.CommitDatasets(ctx, document)
	if err != nil {
		return sampler.Result{}, err
	}
	defer func() {
		if releaseErr := node.Registry.Release(ctx, datasets.Keys()...); err == nil {
			err = releaseErr
		}
	}()
	if _, ok := datasets.Lookup(parsed.Dataset); !ok {
		return sampler.Result{}, fmt.Errorf("sample: document has no dataset %q", parsed.Dataset)
	}
	if a.sampler == nil {
		a.sampler, err = node.Sampler.NewSampler()
		if err != nil {
			return sampler.Result{}, err
		}
	}
	return a.sampler.RunRequest(ctx, parsed, datasets, node.Tracker.Next())
}

func (a *Admin) handleSample(ctx context.Context, raw []byte) (any, error) {
	var request SampleRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	return a.Sample(ctx, request)
}

func (a *Admin) resolve(path string) string {
	if a.stateDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.stateDir, path)
}

// Particles returns the samples of the most recent sampling request on
// this rank, or nil before the first.
func (a *Admin) Particles() ([]scene.Particle, error) {
	a.sampleMu.Lock()
	defer a.sampleMu.Unlock()
	if a.sampler == nil {
		return nil, nil
	}
	particles, err := a.sampler.Particles()
	if err != nil {
		return nil, err
	}
	return particles.Snapshot(), nil
}
