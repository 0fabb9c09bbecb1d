// Package heapdump serializes scopearena heap snapshots.
//
// A dump is a fixed header followed by a JSON payload that may be
// compressed with LZ4 (fast) or Zstandard (smaller):
//
//	snap := root.Snapshot(true)
//	f, _ := os.Create("heap.sadump")
//	_, err := heapdump.Write(f, snap, heapdump.Zstd)
//
// Read verifies the header and checksum before decoding.
package heapdump
