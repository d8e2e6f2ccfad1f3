// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the liaport configuration file.
//
// Exactly one file is read: the path given to [LoadFile] (the --config
// flag) or the LIAPORT_CONFIG environment variable via [Load]. There is
// no discovery and no per-field environment override. Files ending in
// .json or .jsonc are read as JSON with comments and trailing commas
// (tidwall/jsonc); anything else is YAML.
//
// A file may carry development and production sections whose non-empty
// fields replace base values when [Config].Environment matches.
// ${HOME}, ${LIAPORT_STATE} and ${VAR:-default} are expanded in path
// fields after overrides are applied.
package config
