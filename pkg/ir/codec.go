// SPDX-License-Identifier: MPL-2.0

package ir

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// magic prefixes every encoded unit.
var magic = []byte("MLIR\x01")

// ErrBadMagic is returned when decoding data that is not an encoded unit.
var ErrBadMagic = errors.New("not an IR unit")

// wireUnit is the msgpack form of a Unit.
type wireUnit struct {
	Name    string   `msgpack:"name"`
	Symbols []Symbol `msgpack:"symbols"`
}

// Encode writes u to w.
func (u *Unit) Encode(w io.Writer) error {
	if _, err := w.Write(magic); err != nil {
		return err
	}
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(wireUnit{Name: u.name, Symbols: u.symbols}); err != nil {
		return fmt.Errorf("encoding unit %s: %w", u.name, err)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (u *Unit) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := u.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a unit written by Encode.
func Decode(r io.Reader) (*Unit, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadMagic
		}
		return nil, err
	}
	if !bytes.Equal(header, magic) {
		return nil, ErrBadMagic
	}
	var wu wireUnit
	if err := msgpack.NewDecoder(r).Decode(&wu); err != nil {
		return nil, fmt.Errorf("decoding unit: %w", err)
	}
	u := &Unit{name: wu.Name, symbols: wu.Symbols}
	u.reindex()
	if len(u.index) != len(u.symbols) {
		return nil, fmt.Errorf("decoding unit %s: %w", wu.Name, ErrSymbolExists)
	}
	return u, nil
}

// Unmarshal decodes a unit from data.
func Unmarshal(data []byte) (*Unit, error) {
	return Decode(bytes.NewReader(data))
}

// Hash returns the hex blake3 digest of the unit's encoding. Units with the
// same name and symbol table hash identically.
func (u *Unit) Hash() string {
	h := blake3.New(32, nil)
	if err := u.Encode(h); err != nil {
		panic(err) // hash writes never fail
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WriteCompressed writes the zstd-compressed encoding of u to w.
func (u *Unit) WriteCompressed(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if err := u.Encode(enc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadCompressed reads a unit written by WriteCompressed.
func ReadCompressed(r io.Reader) (*Unit, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	return Decode(dec)
}
