// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress shrinks sync envelope bodies. Course events are
// small JSON documents, so most bodies go out uncompressed; quiz
// states and code-editor contents can run to tens of kilobytes and
// compress well with zstd. LZ4 is available for peers that prefer
// decode speed.
//
// Compressed bodies carry no length header: the caller records the
// original size next to the [Tag] and passes it back to [Decompress].
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the algorithm applied to a body. Values are part of
// the envelope wire format.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

// MaxSize bounds the declared uncompressed size Decompress accepts.
const MaxSize = 16 << 20

// AutoThreshold is the body size below which Auto picks None.
const AutoThreshold = 512

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag accepts the names String produces.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("compress: unknown algorithm %q", name)
}

// Auto returns Zstd for bodies of at least AutoThreshold bytes and
// None otherwise.
func Auto(data []byte) Tag {
	if len(data) >= AutoThreshold {
		return Zstd
	}
	return None
}

var errIncompressible = errors.New("incompressible")

// Compress applies tag to data and returns the output along with the
// tag actually used. When the algorithm does not make data smaller
// the input is returned unchanged with None.
func Compress(data []byte, tag Tag) ([]byte, Tag, error) {
	var (
		out []byte
		err error
	)
	switch tag {
	case None:
		return data, None, nil
	case LZ4:
		out, err = compressLZ4(data)
	case Zstd:
		out, err = compressZstd(data)
	default:
		return nil, None, fmt.Errorf("compress: unsupported tag %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, None, err
	}
	return out, tag, nil
}

// Decompress reverses Compress. size must be the exact original
// length.
func Decompress(data []byte, tag Tag, size int) ([]byte, error) {
	if size < 0 || size > MaxSize {
		return nil, fmt.Errorf("compress: declared size %d out of range", size)
	}
	switch tag {
	case None:
		if len(data) != size {
			return nil, fmt.Errorf("compress: stored body is %d bytes, expected %d", len(data), size)
		}
		return data, nil
	case LZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("compress: lz4 produced %d bytes, expected %d", read, size)
		}
		return out, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("compress: zstd produced %d bytes, expected %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("compress: unsupported tag %d", tag)
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return out[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

// Both are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxSize))
	if err != nil {
		panic("compress: zstd decoder: " + err.Error())
	}
}
