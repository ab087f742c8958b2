// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the interactive control socket.
//
// A client sends length-prefixed control messages: START loads a state
// document and launches the render worker, MOUSEDOWN and MOUSEMOTION
// move the virtual trackball, RENDER_ONE asks for one more frame,
// DEBUG logs per-frame pixel counts, and QUIT ends the session. The
// worker turns cursor drags into camera rotations and submits a new
// frame for each; starting a frame retires the previous one, so late
// pixels of superseded frames are counted but never streamed.
//
// Pixels of the live frame travel back on the control connection as
// length-prefixed batches of {count, frame, pixels}.
package session
