package heapdump

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/hupe1980/scopearena"
	"github.com/hupe1980/scopearena/internal/conv"
)

// Write encodes snap to w and returns the number of bytes written.
// If c does not shrink the payload it is stored uncompressed.
func Write(w io.Writer, snap *scopearena.HeapSnapshot, c Compression) (int64, error) {
	raw, err := gojson.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("heapdump: encode snapshot: %w", err)
	}

	stored, used, err := compress(raw, c)
	if err != nil {
		return 0, fmt.Errorf("heapdump: compress %s: %w", c, err)
	}

	rawSize, err := conv.IntToUint64(len(raw))
	if err != nil {
		return 0, err
	}
	if rawSize > MaxPayloadSize {
		return 0, ErrTooLarge
	}

	h := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: uint8(used),
		RawSize:     rawSize,
		StoredSize:  uint64(len(stored)),
		Checksum:    crc32.ChecksumIEEE(stored),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, err
	}

	n, err := w.Write(stored)
	return int64(HeaderSize + n), err
}

// ReadHeader reads and validates the header of a dump.
func ReadHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, err
	}
	if h.Magic != MagicNumber {
		return h, fmt.Errorf("%w: got 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, h.Version, Version)
	}
	if h.RawSize > MaxPayloadSize || h.StoredSize > MaxPayloadSize {
		return h, ErrTooLarge
	}
	return h, nil
}

// Read decodes a dump written by Write.
func Read(r io.Reader) (*scopearena.HeapSnapshot, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	rawLen, err := conv.Uint64ToInt(h.RawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
	}
	storedLen, err := conv.Uint64ToInt(h.StoredSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
	}

	stored := make([]byte, storedLen)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("heapdump: read payload: %w", err)
	}
	if crc32.ChecksumIEEE(stored) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	c := Compression(h.Compression)
	raw, err := decompress(stored, c, rawLen)
	if err != nil {
		return nil, fmt.Errorf("heapdump: decompress %s: %w", c, err)
	}

	var snap scopearena.HeapSnapshot
	if err := gojson.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("heapdump: decode snapshot: %w", err)
	}
	return &snap, nil
}

// WriteFile writes snap to the named file, replacing it.
func WriteFile(path string, snap *scopearena.HeapSnapshot, c Compression) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := Write(f, snap, c)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ReadFile reads a dump from the named file.
func ReadFile(path string) (*scopearena.HeapSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}
