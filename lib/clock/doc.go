// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that measure or wait on time (ping round trips, frame
// timing, the render worker's idle poll, admin uptime) hold a Clock
// instead of calling the time package. Production code passes Real();
// tests pass Fake() and move time explicitly with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	worker := newWorker(..., c)
//	c.WaitForWaiters(1)
//	c.Advance(50 * time.Millisecond)
package clock
