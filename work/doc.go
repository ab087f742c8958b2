// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package work moves typed binary messages between the ranks of a
// render job and runs their handlers.
//
// Every message type is registered once on a [Channel] with a name and
// an [ActionFunc]. Registration assigns a monotonically increasing type
// index, and the index is what travels on the wire: all ranks must
// register the same types in the same order. [Registry.Digest]
// fingerprints that order so a TCP mesh can refuse a rank whose build
// disagrees before any message is exchanged. A frame whose index is not
// registered is an [ErrProtocolViolation] and stops [Channel.Serve].
//
// Delivery modes:
//
//   - [Channel.Send] delivers a message to one rank. It is fire and
//     forget: nothing reports whether or when the Action ran.
//   - [Channel.Broadcast] delivers a message to every rank including
//     the sender. With [BroadcastOptions.Barrier] the caller blocks
//     until every rank's Action has returned; Action errors come back
//     to the broadcaster. With [BroadcastOptions.Collective] the Action
//     may call [Message.Barrier] to rendezvous with the same Action on
//     every other rank.
//
// Serve runs two goroutines. The receive goroutine handles control
// frames (acknowledgements, barrier arrivals, pings) as soon as they
// arrive, and queues work frames. The dispatch goroutine runs Actions
// one at a time in arrival order. Keeping control frames off the
// dispatch goroutine is what lets an Action block in a barrier while
// the arrivals it waits for are still being received.
//
// Collective broadcasts from different ranks are not ordered relative to
// each other, so two ranks must not have collective broadcasts in flight
// at the same time. In this system collective state changes originate
// from the rank that owns the session.
package work
