package heapdump

import "errors"

const (
	// MagicNumber identifies heap dumps (ASCII: "SAHD").
	MagicNumber = 0x53414844

	// Version is the current format version.
	Version = 1

	// MaxPayloadSize bounds the decoded payload accepted by Read.
	MaxPayloadSize = 1 << 32
)

var (
	ErrBadMagic           = errors.New("heapdump: invalid magic number")
	ErrUnsupportedVersion = errors.New("heapdump: unsupported version")
	ErrChecksumMismatch   = errors.New("heapdump: checksum mismatch")
	ErrTooLarge           = errors.New("heapdump: payload too large")
)

// FileHeader precedes the payload. All fields are little endian.
type FileHeader struct {
	Magic       uint32
	Version     uint16
	Compression uint8
	_           uint8
	RawSize     uint64 // decoded payload size
	StoredSize  uint64 // payload size on disk
	Checksum    uint32 // CRC32 (IEEE) of the stored payload
	_           uint32
}

// HeaderSize is the encoded size of FileHeader.
const HeaderSize = 32
