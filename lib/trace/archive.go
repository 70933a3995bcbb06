// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/nucleus-foundation/nucleus/lib/codec"
)

// Snapshot is the exportable form of the retained event window. The
// kernel's diagnostic socket returns one, and cmd/nucleus-trace reads
// them back from archive files.
type Snapshot struct {
	// Capacity is the ring's retention window in events.
	Capacity int `cbor:"capacity"`

	// TotalEmitted is the global emit counter at capture time. When
	// it exceeds Capacity, the oldest TotalEmitted-Capacity events
	// are unrecoverable.
	TotalEmitted uint64 `cbor:"total_emitted"`

	// Deterministic records the timestamp mode at capture time.
	Deterministic bool `cbor:"deterministic"`

	// Events is the retained window, oldest first.
	Events []Event `cbor:"events"`
}

// CompressionTag identifies the compression applied to a snapshot
// archive body. Stored as one byte in the archive header, so these
// values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the CBOR body uncompressed.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 uses LZ4 block compression. Fast default for
	// snapshots taken on a live system.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd uses zstd at the default level. Better ratios
	// when events carry many notes.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a tag from its string form.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// Archive file layout: 4-byte magic "NTRC", 1-byte format version,
// 1-byte compression tag, 4-byte big-endian uncompressed body length,
// then the (possibly compressed) CBOR-encoded Snapshot.
var archiveMagic = [4]byte{'N', 'T', 'R', 'C'}

const archiveVersion = 1

// errIncompressible signals that compression did not shrink the body;
// WriteArchive falls back to CompressionNone.
var errIncompressible = errors.New("trace: body is incompressible")

// WriteArchive serializes a snapshot to w using the requested
// compression. If the body does not shrink under the requested
// algorithm, the archive is written uncompressed instead; readers
// trust the header tag, not the request.
func WriteArchive(w io.Writer, snapshot Snapshot, tag CompressionTag) error {
	body, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if len(body) > int(^uint32(0)) {
		return fmt.Errorf("snapshot body is %d bytes, exceeds archive limit", len(body))
	}

	compressed, err := compressBody(body, tag)
	if errors.Is(err, errIncompressible) {
		compressed, tag = body, CompressionNone
	} else if err != nil {
		return err
	}

	header := make([]byte, 0, 10)
	header = append(header, archiveMagic[:]...)
	header = append(header, archiveVersion, byte(tag))
	header = binary.BigEndian.AppendUint32(header, uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("writing archive body: %w", err)
	}
	return nil
}

// ReadArchive parses an archive produced by WriteArchive.
func ReadArchive(r io.Reader) (Snapshot, error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(r, header); err != nil {
		return Snapshot{}, fmt.Errorf("reading archive header: %w", err)
	}
	if [4]byte(header[:4]) != archiveMagic {
		return Snapshot{}, errors.New("not a trace archive (bad magic)")
	}
	if header[4] != archiveVersion {
		return Snapshot{}, fmt.Errorf("unsupported archive version %d", header[4])
	}
	tag := CompressionTag(header[5])
	uncompressedSize := int(binary.BigEndian.Uint32(header[6:10]))

	compressed, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading archive body: %w", err)
	}

	body, err := decompressBody(compressed, tag, uncompressedSize)
	if err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	if err := codec.Unmarshal(body, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snapshot, nil
}

func compressBody(body []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		return compressLZ4(body)
	case CompressionZstd:
		return compressZstd(body)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompressBody(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed body: size %d does not match header %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// LZ4: block mode.

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for data it deems incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// Zstd: default level. Encoder and decoder are reused across calls;
// both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("trace: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("trace: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
