// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// CompressionType selects the payload compression applied at rest.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota // No compression
	CompressionS2                          // S2 (Snappy-compatible, fastest)
	CompressionZstd                        // Zstd (best compression ratio)
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionS2:
		return "s2"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses a compression type name from configuration.
func ParseCompression(name string) (CompressionType, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "s2":
		return CompressionS2, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type %q", name)
	}
}

// Zstd encoder/decoder pools for reuse.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd encoder: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd decoder: " + err.Error())
	}
}

// Compress compresses a payload using the specified compression type.
func Compress(data []byte, ct CompressionType) ([]byte, error) {
	switch ct {
	case CompressionS2:
		return s2.Encode(nil, data), nil

	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil

	default:
		return data, nil
	}
}

// Decompress decompresses a payload using the specified compression type.
func Decompress(data []byte, ct CompressionType) ([]byte, error) {
	switch ct {
	case CompressionS2:
		// S2 decoder handles both S2 and legacy Snappy formats
		return s2.Decode(nil, data)

	case CompressionZstd:
		return zstdDecoder.DecodeAll(data, nil)

	default:
		return data, nil
	}
}
