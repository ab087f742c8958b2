// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package scene holds the distributed objects a render is built from
// and the per-rank frame tracker.
//
// A render binds a [Camera], a [Datasets] collection and a
// [Visualization] into a [Rendering] with an owner rank and a frame
// number, and groups Renderings into a [RenderingSet], the unit handed
// to the renderer. Objects reference each other by keyed.Key and are
// replicated with keyed.Registry.Commit. [Objects] registers every type
// with a rank's registry and mints new instances.
//
// The [FrameTracker] is the single source of truth for whether a frame
// still accepts pixel contributions. Starting a frame retires every
// older frame that is still active; retired frames never become active
// again. Senders consult it before shipping contributions to another
// rank, so work for an abandoned frame is dropped where it was produced.
//
// [LoadDocument] reads the state document that seeds a session.
package scene
