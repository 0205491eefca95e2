// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command allocstress drives long-running end-to-end allocation
// scenarios against a real mmap-backed mimgo.Allocator, for soak and
// manual verification outside of `go test`.
package main

import (
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/segfault-dev/mimgo"
	"github.com/segfault-dev/mimgo/osalloc"
)

var rootCmd = &cobra.Command{
	Use:   "allocstress",
	Short: "allocstress",
	Long:  `allocstress runs long-lived allocation/free workloads against mimgo to validate steady-state memory behavior`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(ascendingCmd, randomSmallCmd, oscillatingCmd, deferredCmd, mixedCmd)

	randomSmallCmd.Flags().Int64("count", 20_000_000, "number of blocks to allocate")
	oscillatingCmd.Flags().Bool("collect", false, "call Collect() after every phase")
	deferredCmd.Flags().Int64("count", 10_000_000, "number of blocks to allocate")
	mixedCmd.Flags().Int64("count", 10_000, "number of blocks to allocate")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("allocstress failed")
	}
}

// trackingOS wraps osalloc.Mmap and counts bytes currently held from the
// OS, for reporting each scenario's peak and final usage.
type trackingOS struct {
	*osalloc.Mmap
	held int64
	peak int64
}

func newTrackingOS() *trackingOS {
	return &trackingOS{Mmap: osalloc.NewMmap()}
}

func (t *trackingOS) Alloc(size, align uintptr) unsafe.Pointer {
	p := t.Mmap.Alloc(size, align)
	if p == nil {
		return nil
	}
	t.held += int64(size)
	if t.held > t.peak {
		t.peak = t.held
	}
	return p
}

func (t *trackingOS) Dealloc(ptr unsafe.Pointer, size, align uintptr) {
	t.Mmap.Dealloc(ptr, size, align)
	t.held -= int64(size)
}

var ascendingCmd = &cobra.Command{
	Use:   "ascending",
	Short: "allocate sizes 0..100000 once each in order, then free in the same order",
	RunE: func(cmd *cobra.Command, args []string) error {
		os := newTrackingOS()
		alloc := mimgo.WithOSAllocator(os)
		defer alloc.Close()

		ptrs := make([]unsafe.Pointer, 100_000)
		for size := 0; size < len(ptrs); size++ {
			p := alloc.Alloc(uintptr(size), 8)
			if p == nil {
				return fmt.Errorf("allocation of size %d failed", size)
			}
			ptrs[size] = p
		}
		for _, p := range ptrs {
			alloc.Free(p)
		}
		alloc.Collect()

		logrus.WithFields(logrus.Fields{
			"peakMiB":  os.peak / (1 << 20),
			"finalMiB": os.held / (1 << 20),
		}).Info("ascending scenario complete")
		if os.held != 0 {
			return fmt.Errorf("final OS usage %d != 0", os.held)
		}
		return nil
	},
}

var randomSmallCmd = &cobra.Command{
	Use:   "random-small",
	Short: "allocate random small blocks with random alignment, fill and verify, then free in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt64("count")

		os := newTrackingOS()
		alloc := mimgo.WithOSAllocator(os)
		defer alloc.Close()

		aligns := [...]uintptr{1, 2, 4, 8}
		ptrs := make([]unsafe.Pointer, 0, count)
		sizes := make([]int, 0, count)

		for i := int64(0); i < count; i++ {
			size := 1 + rand.Intn(127)
			align := aligns[rand.Intn(len(aligns))]
			p := alloc.Alloc(uintptr(size), align)
			if p == nil {
				return fmt.Errorf("allocation %d (size %d) failed", i, size)
			}
			b := unsafe.Slice((*byte)(p), size)
			for j := range b {
				b[j] = 0x37
			}
			ptrs = append(ptrs, p)
			sizes = append(sizes, size)

			if i%1_000_000 == 0 {
				logrus.WithField("count", i).Debug("random-small progress")
			}
		}

		for i, p := range ptrs {
			b := unsafe.Slice((*byte)(p), sizes[i])
			for _, c := range b {
				if c != 0x37 {
					return fmt.Errorf("corruption detected at block %d", i)
				}
			}
			alloc.Free(p)
		}
		alloc.Collect()

		logrus.WithFields(logrus.Fields{
			"peakMiB":  os.peak / (1 << 20),
			"finalMiB": os.held / (1 << 20),
		}).Info("random-small scenario complete")
		if os.held != 0 {
			return fmt.Errorf("final OS usage %d != 0", os.held)
		}
		return nil
	},
}

var oscillatingCmd = &cobra.Command{
	Use:   "oscillating",
	Short: "four size classes oscillating between 0 and 1,000,000 live blocks across 100 phases",
	RunE: func(cmd *cobra.Command, args []string) error {
		collect, _ := cmd.Flags().GetBool("collect")

		os := newTrackingOS()
		alloc := mimgo.WithOSAllocator(os)
		defer alloc.Close()

		classes := [...]uintptr{8, 16, 24, 32}
		const n = 1_000_000
		live := make([][]unsafe.Pointer, len(classes))

		for phase := 0; phase < 100; phase++ {
			target := n
			if phase%2 == 1 {
				target = 0
			}
			if phase%7 == 0 {
				target = 2 // occasional near-empty phase
			}
			for c, size := range classes {
				if len(live[c]) < target {
					for len(live[c]) < target {
						p := alloc.Alloc(size, 8)
						if p == nil {
							return fmt.Errorf("phase %d class %d: allocation failed", phase, size)
						}
						live[c] = append(live[c], p)
					}
				} else {
					for len(live[c]) > target {
						last := len(live[c]) - 1
						alloc.Free(live[c][last])
						live[c] = live[c][:last]
					}
				}
			}
			if collect {
				alloc.Collect()
			}
			logrus.WithFields(logrus.Fields{
				"phase":   phase,
				"heldMiB": os.held / (1 << 20),
			}).Debug("oscillating phase complete")
		}

		for _, cls := range live {
			for _, p := range cls {
				alloc.Free(p)
			}
		}
		alloc.Collect()

		logrus.WithFields(logrus.Fields{
			"peakMiB":  os.peak / (1 << 20),
			"finalMiB": os.held / (1 << 20),
		}).Info("oscillating scenario complete")
		return nil
	},
}

var deferredCmd = &cobra.Command{
	Use:   "deferred",
	Short: "register a deferred-free hook that reclaims accumulated blocks, then run a steady allocation loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt64("count")

		os := newTrackingOS()
		alloc := mimgo.WithOSAllocator(os)
		defer alloc.Close()

		var held []unsafe.Pointer
		alloc.RegisterDeferredFree(func(handle mimgo.FreeHandle, force bool, heartbeat uint64) {
			for _, p := range held {
				handle.Free(p)
			}
			held = held[:0]
		})

		for i := int64(0); i < count; i++ {
			size := 1 + rand.Intn(127)
			p := alloc.Alloc(uintptr(size), 8)
			if p == nil {
				return fmt.Errorf("allocation %d failed", i)
			}
			held = append(held, p)
		}

		logrus.WithFields(logrus.Fields{
			"peakMiB":  os.peak / (1 << 20),
			"finalMiB": os.held / (1 << 20),
		}).Info("deferred scenario complete")
		return nil
	},
}

var mixedCmd = &cobra.Command{
	Use:   "mixed",
	Short: "mixed large/small allocations of size k*2^i, verify alignment, free all",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt64("count")

		os := newTrackingOS()
		alloc := mimgo.WithOSAllocator(os)
		defer alloc.Close()

		ptrs := make([]unsafe.Pointer, 0, count)

		for i := int64(0); i < count; i++ {
			k := uintptr(1 + rand.Intn(10))
			shift := rand.Intn(21)
			size := k << uint(shift)
			align := uintptr(1) << uint(rand.Intn(4))

			p := alloc.Alloc(size, align)
			if p == nil {
				return fmt.Errorf("allocation %d (size %d align %d) failed", i, size, align)
			}
			if uintptr(p)%align != 0 {
				return fmt.Errorf("allocation %d: pointer %p not aligned to %d", i, p, align)
			}
			ptrs = append(ptrs, p)
		}
		for _, p := range ptrs {
			alloc.Free(p)
		}
		alloc.Collect()

		logrus.WithFields(logrus.Fields{
			"peakMiB":  os.peak / (1 << 20),
			"finalMiB": os.held / (1 << 20),
		}).Info("mixed scenario complete")
		if os.held != 0 {
			return fmt.Errorf("final OS usage %d != 0", os.held)
		}
		return nil
	},
}
