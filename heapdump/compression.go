package heapdump

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the dump payload is encoded.
type Compression uint8

const (
	// None stores the payload as is.
	None Compression = 0
	// LZ4 uses LZ4 block compression.
	LZ4 Compression = 1
	// Zstd uses a Zstandard frame.
	Zstd Compression = 2
)

// String returns the lower-case name of c.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses a name as returned by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "zstandard":
		return Zstd, nil
	default:
		return None, fmt.Errorf("heapdump: unknown compression %q", s)
	}
}

var errSizeMismatch = errors.New("heapdump: decompressed size mismatch")

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

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress encodes data with c. It returns the compression actually used,
// which is None when c does not shrink the data.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if c == None || len(data) == 0 {
		return data, None, nil
	}

	var out []byte
	switch c {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, None, err
		}
		out = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		defer putZstdEncoder(enc)
		out = enc.EncodeAll(data, nil)
	default:
		return nil, None, fmt.Errorf("heapdump: unknown compression %d", uint8(c))
	}

	// Incompressible input yields n == 0 for LZ4.
	if len(out) == 0 || len(out) >= len(data) {
		return data, None, nil
	}
	return out, c, nil
}

func decompress(data []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case None:
		if len(data) != rawLen {
			return nil, errSizeMismatch
		}
		return data, nil
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, errSizeMismatch
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, errSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("heapdump: unknown compression %d", uint8(c))
	}
}
