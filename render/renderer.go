// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// Config configures a Renderer.
type Config struct {
	// Engine intersects rays. Nil means AnalyticEngine.
	Engine Engine

	// BatchSize bounds the rays per RayList. Zero means one image row
	// per list.
	BatchSize int

	Logger *slog.Logger
}

// Stats counts a renderer's work on one rank.
type Stats struct {
	ListsTraced   uint64 `cbor:"lists_traced"`
	ListsSkipped  uint64 `cbor:"lists_skipped"`
	LocalPixels   uint64 `cbor:"local_pixels"`
	SentPixels    uint64 `cbor:"sent_pixels"`
	DroppedPixels uint64 `cbor:"dropped_pixels"`
}

// Renderer traces this rank's share of every rendering set it is asked
// to render and routes the resulting pixel contributions to each
// rendering's owner.
//
// Render broadcasts a render message. On every rank the message's
// Action generates primary rays for the rows the rank is responsible
// for and queues them; Run drains the queue on a single tracer
// goroutine. When a rank has drained every list of a rendering set it
// reports to the owners, whose trackers complete the frame once every
// rank has reported.
type Renderer struct {
	channel *work.Channel
	objects *scene.Objects
	engine  Engine
	logger  *slog.Logger
	batch   int

	renderType *work.Type
	pixelsType *work.Type
	doneType   *work.Type

	queue *listQueue

	sinkMu sync.RWMutex
	sink   PixelSink

	mu sync.Mutex
	// outstanding counts queued or in-flight lists per rendering set.
	outstanding map[keyed.Key]int
	// held lists the keys each outstanding set keeps in the registry.
	held map[keyed.Key][]keyed.Key

	listsTraced   atomic.Uint64
	listsSkipped  atomic.Uint64
	localPixels   atomic.Uint64
	sentPixels    atomic.Uint64
	droppedPixels atomic.Uint64
}

// NewRenderer registers the render messages on channel. Every rank
// must create its Renderer at the same point of its registration
// sequence.
func NewRenderer(channel *work.Channel, objects *scene.Objects, config Config) *Renderer {
	if config.Engine == nil {
		config.Engine = AnalyticEngine{}
	}
	if config.Logger == nil {
		config.Logger = channel.Logger()
	}
	r := &Renderer{
		channel:     channel,
		objects:     objects,
		engine:      config.Engine,
		logger:      config.Logger,
		batch:       config.BatchSize,
		queue:       newListQueue(),
		outstanding: make(map[keyed.Key]int),
		held:        make(map[keyed.Key][]keyed.Key),
	}
	r.renderType = channel.Register("render.render", r.handleRender)
	r.pixelsType = channel.Register("render.pixels", r.handlePixels)
	r.doneType = channel.Register("render.done", r.handleDone)
	return r
}

// Channel returns the channel the renderer sends on.
func (r *Renderer) Channel() *work.Channel { return r.channel }

// Objects returns the scene objects the renderer resolves keys in.
func (r *Renderer) Objects() *scene.Objects { return r.objects }

// Engine returns the intersection engine.
func (r *Renderer) Engine() Engine { return r.engine }

// SetSink directs the pixels of locally owned renderings to sink. A nil
// sink discards them.
func (r *Renderer) SetSink(sink PixelSink) {
	r.sinkMu.Lock()
	r.sink = sink
	r.sinkMu.Unlock()
}

func (r *Renderer) deliver(frame int32, rendering keyed.Key, pixels []Pixel) {
	r.sinkMu.RLock()
	sink := r.sink
	r.sinkMu.RUnlock()
	if sink != nil {
		sink.AddPixels(frame, rendering, pixels)
	}
}

// Stats returns a snapshot of the renderer counters.
func (r *Renderer) Stats() Stats {
	return Stats{
		ListsTraced:   r.listsTraced.Load(),
		ListsSkipped:  r.listsSkipped.Load(),
		LocalPixels:   r.localPixels.Load(),
		SentPixels:    r.sentPixels.Load(),
		DroppedPixels: r.droppedPixels.Load(),
	}
}

// Render starts rendering set on every rank and returns without waiting
// for the frame; use RenderingSet.WaitForDone for that. The set and
// everything it references must be committed.
func (r *Renderer) Render(ctx context.Context, set *scene.RenderingSet) error {
	msg := work.NewMessage(r.renderType, 12)
	msg.Writer().PutInt64(int64(set.Key()))
	msg.Writer().PutInt32(set.Frame)
	if err := r.channel.Broadcast(ctx, msg, work.BroadcastOptions{}); err != nil {
		return fmt.Errorf("render frame %d: %w", set.Frame, err)
	}
	return nil
}

func (r *Renderer) handleRender(ctx context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	setKey := keyed.Key(reader.Int64())
	frame := reader.Int32()
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: render message: %w", work.ErrProtocolViolation, err)
	}
	if err := r.objects.Tracker.Start(frame); err != nil {
		// A newer frame arrived first; this one is already retired.
		r.logger.Debug("skipping superseded frame", "frame", frame, "error", err)
		return false, nil
	}
	set, err := r.objects.RenderingSet(setKey)
	if err != nil {
		return false, err
	}

	var lists []*RayList
	keys := []keyed.Key{setKey}
	for _, renderingKey := range set.Renderings {
		rendering, err := r.objects.Rendering(renderingKey)
		if err != nil {
			return false, err
		}
		if err := scene.CheckImageSize(rendering.Width, rendering.Height); err != nil {
			return false, fmt.Errorf("rendering %d: %w", renderingKey, err)
		}
		camera, err := r.objects.Camera(rendering.Camera)
		if err != nil {
			return false, err
		}
		lists = append(lists, PrimaryRays(camera, rendering, r.channel.Rank(), r.channel.Size(), r.batch)...)
		keys = append(keys, renderingKey, rendering.Camera)
	}

	if len(lists) == 0 {
		return false, r.ReportDone(ctx, set)
	}
	r.mu.Lock()
	if _, ok := r.held[setKey]; !ok {
		r.objects.Registry.Hold(keys...)
		r.held[setKey] = keys
	}
	r.outstanding[setKey] += len(lists)
	r.mu.Unlock()
	for _, list := range lists {
		r.queue.push(list)
	}
	return false, nil
}

// Run traces queued ray lists until ctx is done. Each rank runs exactly
// one Run loop.
func (r *Renderer) Run(ctx context.Context) error {
	for {
		list, err := r.queue.pop(ctx)
		if err != nil {
			return nil
		}
		if err := r.process(ctx, list); err != nil {
			r.logger.Error("ray list failed", "frame", list.Frame, "rendering", list.Rendering, "error", err)
		}
	}
}

func (r *Renderer) process(ctx context.Context, list *RayList) error {
	defer r.finishList(ctx, list.RenderingSet)

	if !r.objects.Tracker.IsActive(list.Frame) {
		r.listsSkipped.Add(1)
		return nil
	}
	continuation, err := r.Trace(ctx, list)
	if err != nil {
		return err
	}
	if continuation != nil && len(continuation.Rays) > 0 {
		r.mu.Lock()
		r.outstanding[continuation.RenderingSet]++
		r.mu.Unlock()
		r.queue.push(continuation)
	}
	return r.HandleTerminatedRays(ctx, list)
}

// finishList retires one list of a rendering set and reports the rank's
// share done when it was the last. The set's objects stay held until
// then.
func (r *Renderer) finishList(ctx context.Context, setKey keyed.Key) {
	r.mu.Lock()
	r.outstanding[setKey]--
	remaining := r.outstanding[setKey]
	var held []keyed.Key
	if remaining <= 0 {
		delete(r.outstanding, setKey)
		held = r.held[setKey]
		delete(r.held, setKey)
	}
	r.mu.Unlock()
	if remaining > 0 {
		return
	}
	defer r.objects.Registry.Unhold(held...)
	set, err := r.objects.RenderingSet(setKey)
	if err != nil {
		r.logger.Error("finished rendering set is gone", "set", setKey, "error", err)
		return
	}
	if err := r.ReportDone(ctx, set); err != nil {
		r.logger.Error("reporting frame done failed", "frame", set.Frame, "error", err)
	}
}

// Trace resolves the list's rendering and visualization and runs the
// engine over it. It returns the continuation list, if any.
func (r *Renderer) Trace(ctx context.Context, list *RayList) (*RayList, error) {
	rendering, err := r.objects.Rendering(list.Rendering)
	if err != nil {
		return nil, err
	}
	visualization, err := r.objects.Visualization(rendering.Visualization)
	if err != nil {
		return nil, err
	}
	dataset, err := ResolveDataset(r.objects, rendering, visualization)
	if err != nil {
		return nil, err
	}
	r.listsTraced.Add(1)
	return r.engine.Intersect(visualization, dataset, list)
}

// HandleTerminatedRays routes the surface hits of list. Hits of a
// locally owned rendering go straight to the sink. Hits of a remote
// rendering travel to the owner in one pixel message, and only while
// the frame is still active; otherwise they are dropped.
func (r *Renderer) HandleTerminatedRays(ctx context.Context, list *RayList) error {
	hits := list.SurfaceHits()
	if hits == 0 {
		return nil
	}
	rendering, err := r.objects.Rendering(list.Rendering)
	if err != nil {
		return err
	}

	if rendering.IsLocal() {
		pixels := make([]Pixel, 0, hits)
		for i := range list.Rays {
			if list.Rays[i].Term&RaySurface != 0 {
				pixels = append(pixels, PixelFromRay(&list.Rays[i]))
			}
		}
		r.localPixels.Add(uint64(hits))
		r.deliver(list.Frame, list.Rendering, pixels)
		return nil
	}

	set, err := r.objects.RenderingSet(list.RenderingSet)
	if err != nil {
		return err
	}
	msg := r.NewPixelMessage(list, hits)
	for i := range list.Rays {
		if list.Rays[i].Term&RaySurface != 0 {
			msg.Stash(&list.Rays[i])
		}
	}
	return r.SendPixels(ctx, msg, set, int(rendering.Owner))
}

// PixelMessage collects the contributions of one ray list for a remote
// owner.
type PixelMessage struct {
	msg   *work.Message
	frame int32
	count int
}

// NewPixelMessage allocates a pixel message for list sized for exactly
// hits contributions.
func (r *Renderer) NewPixelMessage(list *RayList, hits int) *PixelMessage {
	msg := work.NewMessage(r.pixelsType, 24+hits*PixelSize)
	writer := msg.Writer()
	writer.PutInt64(int64(list.Rendering))
	writer.PutInt64(int64(list.RenderingSet))
	writer.PutInt32(list.Frame)
	writer.PutInt32(int32(hits))
	return &PixelMessage{msg: msg, frame: list.Frame}
}

// Stash appends the contribution of a surface-hit ray.
func (p *PixelMessage) Stash(ray *Ray) {
	PutPixel(p.msg.Writer(), PixelFromRay(ray))
	p.count++
}

// Size returns the encoded payload size.
func (p *PixelMessage) Size() int { return p.msg.Size() }

// Count returns the number of stashed contributions.
func (p *PixelMessage) Count() int { return p.count }

// SendPixels sends msg to owner if set still considers the message's
// frame active, and releases it otherwise. A stale frame is not an
// error.
func (r *Renderer) SendPixels(ctx context.Context, msg *PixelMessage, set *scene.RenderingSet, owner int) error {
	if !set.IsActive(msg.frame) {
		r.droppedPixels.Add(uint64(msg.count))
		r.channel.Drop(msg.msg)
		return nil
	}
	r.sentPixels.Add(uint64(msg.count))
	return r.channel.Send(ctx, msg.msg, owner)
}

func (r *Renderer) handlePixels(_ context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	renderingKey := keyed.Key(reader.Int64())
	reader.Int64()
	frame := reader.Int32()
	count := int(reader.Int32())
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: pixel message header: %w", work.ErrProtocolViolation, err)
	}
	pixels, err := ReadPixels(reader, count)
	if err != nil {
		return false, fmt.Errorf("%w: pixel message from rank %d: %w", work.ErrProtocolViolation, msg.Sender(), err)
	}
	r.deliver(frame, renderingKey, pixels)
	return false, nil
}

// ReportDone tells every owner of a rendering in set that this rank has
// finished its share of the set's frame.
func (r *Renderer) ReportDone(ctx context.Context, set *scene.RenderingSet) error {
	owners := make(map[int]bool)
	for _, renderingKey := range set.Renderings {
		rendering, err := r.objects.Rendering(renderingKey)
		if err != nil {
			return err
		}
		owners[int(rendering.Owner)] = true
	}
	for owner := range owners {
		msg := work.NewMessage(r.doneType, 12)
		msg.Writer().PutInt64(int64(set.Key()))
		msg.Writer().PutInt32(set.Frame)
		if err := r.channel.Send(ctx, msg, owner); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) handleDone(_ context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	setKey := keyed.Key(reader.Int64())
	frame := reader.Int32()
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: done message: %w", work.ErrProtocolViolation, err)
	}
	if r.objects.Tracker.ReportDone(frame, r.channel.Size()) {
		r.logger.Info("frame complete", "frame", frame, "set", setKey)
	}
	return false, nil
}
