// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/modlink/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/modlink/config.cue on macOS, %APPDATA%\modlink\config.cue
// on Windows), falling back to ./config.cue. Every key can be overridden through a
// MODLINK_ environment variable, e.g. MODLINK_LOG_LEVEL or MODLINK_SEARCH_PATHS_USER.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
