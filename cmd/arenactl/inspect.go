package main

import (
	"strings"

	"github.com/hupe1980/scopearena/heapdump"
	"github.com/spf13/cobra"
)

var inspectTop int

func init() {
	cmd := newInspectCmd()
	cmd.Flags().IntVarP(&inspectTop, "top", "n", 5, "Number of largest entries and most fragmented arenas to show")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <dump>",
		Short: "Summarise a heap dump",
		Long: `The inspect command reads a heap dump written by "arenactl dump" and
prints totals, the largest live entries and the most fragmented arenas.

Example:
  arenactl inspect heap.sadump
  arenactl inspect heap.sadump --top 20 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args)
		},
	}
	return cmd
}

func runInspect(args []string) error {
	path := args[0]
	printVerbose("Reading dump: %s\n", path)

	snap, err := heapdump.ReadFile(path)
	if err != nil {
		return err
	}
	s := heapdump.Summarize(snap, inspectTop)

	if jsonOut {
		return printJSON(s)
	}

	printInfo("\nHeap Dump: %s\n", path)
	printInfo("%s\n\n", strings.Repeat("=", 40))
	printInfo("Taken: %s\n\n", snap.Taken.Format("2006-01-02 15:04:05"))

	printInfo("Tree:\n")
	printInfo("  Arenas: %d (max depth %d)\n", s.Arenas, s.MaxDepth)
	printInfo("  Blocks: %d\n", s.Blocks)
	printInfo("  Reserved: %s, used: %s\n\n", formatBytes(s.Reserved), formatBytes(s.Used))

	printInfo("Entries:\n")
	printInfo("  Live: %d (%s)\n", s.LiveEntries, formatBytes(s.LiveBytes))
	printInfo("  Dead: %d (%s)\n", s.DeadEntries, formatBytes(s.DeadBytes))
	printInfo("  Pinned: %d, leased: %d\n", s.PinnedEntries, s.LeasedEntries)
	printInfo("  Fragmentation: %.2f\n\n", s.Fragmentation())

	if len(s.Largest) > 0 {
		printInfo("Largest Entries:\n")
		for _, e := range s.Largest {
			printInfo("  %v: %s in block %d\n", e.Handle, formatBytes(int64(e.Size)), e.Block)
		}
		printInfo("\n")
	}

	if len(s.Fragmented) > 0 {
		printInfo("Most Fragmented Arenas:\n")
		for _, st := range s.Fragmented {
			printInfo("  %s\n", st)
		}
	}
	return nil
}
