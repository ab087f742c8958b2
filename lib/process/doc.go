// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for Galaxy binaries:
// reporting a fatal error before or after the structured logger exists,
// and building that logger from a configured level name.
package process
