// SPDX-License-Identifier: MPL-2.0

package module

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// RuntimeKey names the runtime support library. Its unit carries no
	// metadata and is loaded without being treated as a module.
	RuntimeKey = "modlink.runtime"
	// RuntimeMainKey names the entry-point library linked into executables.
	RuntimeMainKey = "modlink.runtime.main"

	// FileExt is the extension of an individually packaged module.
	FileExt = ".mlm"

	symbolSeparator = "__"
	mangledPrefix   = "_="
	maxFileNameLen  = 200
)

// ErrInvalidKey is returned for empty or malformed module keys.
var ErrInvalidKey = errors.New("invalid module key")

// ValidateKey rejects keys that cannot name a module.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.TrimSpace(key) != key:
		return fmt.Errorf("%w %q: leading or trailing whitespace", ErrInvalidKey, key)
	case strings.ContainsAny(key, "\x00\n"):
		return fmt.Errorf("%w %q: control characters", ErrInvalidKey, key)
	}
	return nil
}

// MangleSymbol returns the process-unique name of symbol within the module
// key. The result depends only on its arguments.
func MangleSymbol(symbol, key string) string {
	return encodeKey(key) + symbolSeparator + symbol
}

// encodeKey maps a key onto identifier characters. Underscores are always
// escaped, so the encoding never contains symbolSeparator.
func encodeKey(key string) string {
	var b strings.Builder
	for i := range len(key) {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("_u")
		case c == '.':
			b.WriteString("_d")
		default:
			fmt.Fprintf(&b, "_x%02X", c)
		}
	}
	return b.String()
}

// FileName returns the base file name (without extension) used to store the
// module key on disk. Keys containing characters unsafe in file names are
// mangled; IsMangledFileName recognizes the result.
func FileName(key string) string {
	if isFileNameSafe(key) {
		return key
	}
	return mangledPrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// IsMangledFileName reports whether a file name (with or without directory
// and extension) was produced by mangling a key in FileName.
func IsMangledFileName(name string) bool {
	return strings.HasPrefix(filepath.Base(name), mangledPrefix)
}

// KeyFromFileName recovers the module key from a file name produced by
// FileName, optionally with a directory and the FileExt extension.
func KeyFromFileName(name string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(name), FileExt)
	if IsMangledFileName(name) {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(base, mangledPrefix))
		if err != nil {
			return "", fmt.Errorf("%w: undecodable file name %q: %w", ErrInvalidKey, name, err)
		}
		base = string(raw)
	}
	if err := ValidateKey(base); err != nil {
		return "", err
	}
	return base, nil
}

// isFileNameSafe must stay in sync with IsMangledFileName: "=" is not safe,
// so no unmangled name can start with mangledPrefix. Leading and trailing
// dots are rejected because several file systems drop or hide them.
func isFileNameSafe(key string) bool {
	if key == "" || len(key) > maxFileNameLen || key[0] == '.' || strings.HasSuffix(key, ".") {
		return false
	}
	for i := range len(key) {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
