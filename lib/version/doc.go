// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Galaxy
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/galaxy-foundation/galaxy/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// test runs. [Info] formats them for --version output and the admin
// status reply; [Full] adds the Go version and platform.
package version
