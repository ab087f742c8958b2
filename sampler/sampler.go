// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler turns ray hits into particle sets.
//
// A [Sampler] is a distributed object naming the particle set its
// samples go to. [Sampler.Sample] broadcasts a sample message with a
// completion barrier; on every rank the message's Action traces that
// rank's rows of each rendering in the set synchronously and hands the
// terminated rays to [Sampler.HandleTerminatedRays]. Hits of a rendering
// this rank owns become particles at origin + t*direction. Hits of a
// remote rendering are shipped to the owner as pixel contributions, but
// only while the frame is active.
package sampler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// Sampler is the distributed sampler object.
type Sampler struct {
	key     keyed.Key
	service *Service

	// Samples is the key of the particle set hits are appended to.
	Samples keyed.Key
}

func (s *Sampler) Key() keyed.Key { return s.key }

func (s *Sampler) Serialize(w *wire.Writer) { w.PutInt64(int64(s.Samples)) }

func (s *Sampler) Deserialize(r *wire.Reader) error {
	s.Samples = keyed.Key(r.Int64())
	return r.Err()
}

// Particles resolves the sampler's particle set on this rank.
func (s *Sampler) Particles() (*scene.Particles, error) {
	return s.service.objects.Particles(s.Samples)
}

// Service runs sampling on one rank.
type Service struct {
	renderer    *render.Renderer
	objects     *scene.Objects
	channel     *work.Channel
	logger      *slog.Logger
	batch       int
	samplerType keyed.TypeIndex
	sampleType  *work.Type
}

// Register adds the sampler object type and sample message. Every rank
// must call it at the same point of its registration sequence.
func Register(renderer *render.Renderer, batchSize int) *Service {
	service := &Service{
		renderer: renderer,
		objects:  renderer.Objects(),
		channel:  renderer.Channel(),
		logger:   renderer.Channel().Logger(),
		batch:    batchSize,
	}
	service.samplerType = service.objects.Registry.Register("sampler.sampler", func(key keyed.Key) keyed.Object {
		return &Sampler{key: key, service: service}
	})
	service.sampleType = service.channel.Register("sampler.sample", service.handleSample)
	return service
}

// NewSampler creates a sampler and an empty particle set for it. Neither
// is committed.
func (s *Service) NewSampler() (*Sampler, error) {
	object, err := s.objects.Registry.NewInstance(s.samplerType)
	if err != nil {
		return nil, err
	}
	particles, err := s.objects.NewParticles()
	if err != nil {
		return nil, err
	}
	sampler := object.(*Sampler)
	sampler.Samples = particles.Key()
	return sampler, nil
}

// Sampler returns the sampler stored under key.
func (s *Service) Sampler(key keyed.Key) (*Sampler, error) {
	return keyed.Get[*Sampler](s.objects.Registry, key)
}

// HandleTerminatedRays consumes the terminated rays of list. A list
// without surface hits changes nothing and sends nothing.
func (s *Sampler) HandleTerminatedRays(ctx context.Context, list *render.RayList) error {
	hits := list.SurfaceHits()
	if hits == 0 {
		return nil
	}
	service := s.service
	rendering, err := service.objects.Rendering(list.Rendering)
	if err != nil {
		return err
	}

	if rendering.IsLocal() {
		samples, err := s.Particles()
		if err != nil {
			return err
		}
		samples.Lock()
		for i := range list.Rays {
			ray := &list.Rays[i]
			if ray.Term&render.RaySurface != 0 {
				samples.Append(scene.Particle{Position: ray.HitPoint()})
			}
		}
		samples.Unlock()
		return nil
	}

	set, err := service.objects.RenderingSet(list.RenderingSet)
	if err != nil {
		return err
	}
	msg := service.renderer.NewPixelMessage(list, hits)
	for i := range list.Rays {
		if list.Rays[i].Term&render.RaySurface != 0 {
			msg.Stash(&list.Rays[i])
		}
	}
	return service.renderer.SendPixels(ctx, msg, set, int(rendering.Owner))
}

// Sample runs the sampler over set on every rank and returns when
// every rank has traced its share. The sampler and set must be
// committed.
func (s *Sampler) Sample(ctx context.Context, set *scene.RenderingSet) error {
	msg := work.NewMessage(s.service.sampleType, 24)
	writer := msg.Writer()
	writer.PutInt64(int64(s.key))
	s.Serialize(writer)
	writer.PutInt64(int64(set.Key()))
	if err := s.service.channel.Broadcast(ctx, msg, work.BroadcastOptions{Barrier: true}); err != nil {
		return fmt.Errorf("sample frame %d: %w", set.Frame, err)
	}
	return nil
}

func (s *Service) handleSample(ctx context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	samplerKey := keyed.Key(reader.Int64())
	sampler, err := s.Sampler(samplerKey)
	if err != nil {
		return false, err
	}
	if err := sampler.Deserialize(reader); err != nil {
		return false, fmt.Errorf("%w: sample message: %w", work.ErrProtocolViolation, err)
	}
	setKey := keyed.Key(reader.Int64())
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: sample message: %w", work.ErrProtocolViolation, err)
	}
	set, err := s.objects.RenderingSet(setKey)
	if err != nil {
		return false, err
	}
	if err := s.objects.Tracker.Start(set.Frame); err != nil {
		return false, err
	}
	return false, s.localSample(ctx, sampler, set)
}

// localSample traces this rank's rows of every rendering in set.
func (s *Service) localSample(ctx context.Context, sampler *Sampler, set *scene.RenderingSet) error {
	rank, size := s.channel.Rank(), s.channel.Size()
	for _, renderingKey := range set.Renderings {
		rendering, err := s.objects.Rendering(renderingKey)
		if err != nil {
			return err
		}
		camera, err := s.objects.Camera(rendering.Camera)
		if err != nil {
			return err
		}
		for _, list := range render.PrimaryRays(camera, rendering, rank, size, s.batch) {
			// The analytic engine ends every ray in one pass; a
			// continuation from another engine is traced in turn.
			for list != nil && len(list.Rays) > 0 {
				continuation, err := s.renderer.Trace(ctx, list)
				if err != nil {
					return err
				}
				if err := sampler.HandleTerminatedRays(ctx, list); err != nil {
					return err
				}
				list = continuation
			}
		}
	}
	return s.renderer.ReportDone(ctx, set)
}
