// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces the per-OS config directory when set. Tests use
// it because os.UserConfigDir ignores HOME on some platforms.
var configDirOverride string

// SetConfigDirOverride makes ConfigDir return dir. An empty dir restores the
// per-OS default.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset is SetConfigDirOverride(""), for test cleanup.
func Reset() {
	SetConfigDirOverride("")
}
