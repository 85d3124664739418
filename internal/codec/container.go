package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the snapshot payload compression algorithm.
type Compression uint8

const (
	// CompressionNone stores the payload uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, lighter ratio).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd block compression (better ratio).
	CompressionZstd Compression = 2
)

// ParseCompression maps a config string to a Compression value.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionNone, fmt.Errorf("codec: unknown compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	snapMagic   = [4]byte{'K', 'U', 'R', '1'}
	snapVersion = uint16(1)
)

// snapshot fixed header: magic(4) format-version(2) compression(1)
// metric(1) dimension(4) count(8) store-version(8) payload-block.
const snapHeaderLen = 28

// Header describes an index snapshot container. Metric is the numeric code
// of the collection's distance metric; Count the number of live entries;
// Version the record store's mutation counter at save time, used to detect
// snapshots that no longer reflect the store.
type Header struct {
	Compression Compression
	Metric      uint8
	Dimension   uint32
	Count       uint64
	Version     uint64
}

// WriteSnapshot writes the container header followed by the payload as one
// compressed block.
func WriteSnapshot(w io.Writer, h Header, payload []byte) error {
	buf := make([]byte, snapHeaderLen)
	copy(buf[0:4], snapMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], snapVersion)
	buf[6] = byte(h.Compression)
	buf[7] = h.Metric
	binary.LittleEndian.PutUint32(buf[8:12], h.Dimension)
	binary.LittleEndian.PutUint64(buf[12:20], h.Count)
	binary.LittleEndian.PutUint64(buf[20:28], h.Version)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("codec: write snapshot header: %w", err)
	}

	block, err := compressBlock(payload, h.Compression)
	if err != nil {
		return fmt.Errorf("codec: compress snapshot payload: %w", err)
	}
	if _, err := w.Write(block); err != nil {
		return fmt.Errorf("codec: write snapshot payload: %w", err)
	}
	return nil
}

// ReadSnapshot reads a container written by WriteSnapshot and returns its
// header and decompressed payload. A bad magic or version means the file is
// not a snapshot this build understands; callers fall back to a rebuild.
func ReadSnapshot(r io.Reader) (Header, []byte, error) {
	buf := make([]byte, snapHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, nil, fmt.Errorf("codec: read snapshot header: %w", err)
	}
	if [4]byte(buf[0:4]) != snapMagic {
		return Header{}, nil, errors.New("codec: invalid snapshot magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != snapVersion {
		return Header{}, nil, fmt.Errorf("codec: unsupported snapshot version %d", v)
	}
	h := Header{
		Compression: Compression(buf[6]),
		Metric:      buf[7],
		Dimension:   binary.LittleEndian.Uint32(buf[8:12]),
		Count:       binary.LittleEndian.Uint64(buf[12:20]),
		Version:     binary.LittleEndian.Uint64(buf[20:28]),
	}

	block, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("codec: read snapshot payload: %w", err)
	}
	payload, err := decompressBlock(block, h.Compression)
	if err != nil {
		return Header{}, nil, fmt.Errorf("codec: decompress snapshot payload: %w", err)
	}
	return h, payload, nil
}

// Payload block format: [UncompressedSize uint32][CompressedSize uint32]
// [Data...]. CompressedSize of 0 means the data is stored uncompressed
// (incompressible input or compression ratio above 0.9).
const blockHeaderLen = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		compressed = dst[:n] // n == 0 means incompressible
	case CompressionZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, blockHeaderLen+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0)
		copy(result[blockHeaderLen:], data)
		return result, nil
	}

	result := make([]byte, blockHeaderLen+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[blockHeaderLen:], compressed)
	return result, nil
}

func decompressBlock(data []byte, c Compression) ([]byte, error) {
	if len(data) < blockHeaderLen {
		return nil, errors.New("block too small for header")
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		if uint32(len(data)) < blockHeaderLen+uncompressedSize {
			return nil, errors.New("block data too small")
		}
		return data[blockHeaderLen : blockHeaderLen+uncompressedSize], nil
	}
	if uint32(len(data)) < blockHeaderLen+compressedSize {
		return nil, errors.New("compressed block data too small")
	}

	compressedData := data[blockHeaderLen : blockHeaderLen+compressedSize]
	result := make([]byte, uncompressedSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(compressedData, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return result, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(compressedData, result[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("codec: block marked compressed but compression is %q", c)
	}
}
