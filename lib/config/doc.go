// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Galaxy
// server and its operator client.
//
// Configuration is loaded from a single file specified by either the
// GALAXY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Every rank of a
// cluster reads the same file; a rank's own index comes from its
// command line.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${GALAXY_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Cluster, Control, Admin, Render, Log
//   - [Default] -- returns a single-rank development Config
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Galaxy packages.
package config
