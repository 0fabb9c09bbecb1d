package heapdump

import (
	"cmp"
	"slices"

	"github.com/hupe1980/scopearena"
)

// Summary aggregates a heap snapshot.
type Summary struct {
	Arenas        int
	MaxDepth      int
	LiveEntries   int
	DeadEntries   int
	PinnedEntries int
	LeasedEntries int
	LiveBytes     int64
	DeadBytes     int64
	Reserved      int64
	Used          int64
	Blocks        int
	// Largest holds the biggest live entries, largest first.
	Largest []scopearena.EntrySnapshot
	// Fragmented lists arenas ordered by fragmentation, highest first.
	Fragmented []scopearena.Stats
}

// Fragmentation returns dead/(dead+live) over the whole snapshot.
func (s Summary) Fragmentation() float64 {
	if s.LiveBytes+s.DeadBytes == 0 {
		return 0
	}
	return float64(s.DeadBytes) / float64(s.LiveBytes+s.DeadBytes)
}

// Summarize walks snap and keeps the top entries and arenas.
func Summarize(snap *scopearena.HeapSnapshot, top int) Summary {
	var s Summary
	depth := make(map[scopearena.ArenaID]int, len(snap.Arenas))

	for _, a := range snap.Arenas {
		st := a.Stats
		d := 0
		if st.Parent != 0 {
			d = depth[st.Parent] + 1
		}
		depth[st.ID] = d
		s.MaxDepth = max(s.MaxDepth, d)

		s.Arenas++
		s.LiveBytes += st.LiveBytes
		s.DeadBytes += st.DeadBytes
		s.Reserved += st.Reserved
		s.Used += st.Used
		s.Blocks += st.Blocks + st.RetiredBlocks
		s.Fragmented = append(s.Fragmented, st)

		for _, e := range a.Entries {
			if e.Dead {
				s.DeadEntries++
				continue
			}
			s.LiveEntries++
			if e.Pinned {
				s.PinnedEntries++
			}
			if e.Leased > 0 {
				s.LeasedEntries++
			}
			s.Largest = append(s.Largest, e)
		}
	}

	slices.SortStableFunc(s.Largest, func(a, b scopearena.EntrySnapshot) int {
		return cmp.Compare(b.Size, a.Size)
	})
	slices.SortStableFunc(s.Fragmented, func(a, b scopearena.Stats) int {
		return cmp.Compare(b.Fragmentation, a.Fragmentation)
	})
	if top >= 0 {
		s.Largest = s.Largest[:min(top, len(s.Largest))]
		s.Fragmented = s.Fragmented[:min(top, len(s.Fragmented))]
	}
	return s
}
