// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gid extracts goroutine IDs from runtime stack traces.
//
// Go deliberately exposes no goroutine-local storage and no goroutine ID,
// but a reclamation domain needs a stable key for per-goroutine retire
// queues. The runtime does print the ID in stack traces, and two properties
// make it usable as that key:
//
//   - IDs are unique per goroutine and assigned from a counter that only
//     grows: an ID observed once never comes back for a different goroutine.
//   - runtime.Stack(all=true) lists every live goroutine, so the set of
//     dead owners can be computed by subtraction.
//
// Get parses the first line of the current goroutine's trace
// ("goroutine 123 [running]:") and costs on the order of a microsecond.
// That is far too slow for a per-memory-access hot path, but retire-side
// bookkeeping is amortized over whole reclamation batches, where it is
// noise.
package gid

import "runtime"

// Get returns the current goroutine's ID, or 0 if the trace cannot be
// parsed (which would mean the runtime changed its header format).
func Get() int64 {
	// Only the header line is needed; 64 bytes always covers
	// "goroutine <id> [running]:".
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseID(buf[:n])
}

// Snapshot holds the result of one live-goroutine enumeration.
type Snapshot struct {
	// Live is the set of goroutine IDs that were running, blocked or
	// otherwise alive when the snapshot was taken.
	Live map[int64]bool

	// Max is the largest ID seen in the snapshot. Any ID greater than Max
	// belongs to a goroutine spawned after the snapshot and must be treated
	// as alive: IDs are handed out in increasing order.
	Max int64
}

// Capture enumerates all live goroutines.
//
// The cost is roughly a millisecond per thousand goroutines, dominated by
// runtime.Stack itself (which stops the world briefly). Callers amortize it
// over many retire operations.
func Capture() Snapshot {
	// If the buffer is too small runtime.Stack truncates the dump and we
	// might miss live goroutines, wrongly classifying them as dead. Grow
	// until the dump fits.
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	snap := Snapshot{Live: make(map[int64]bool)}
	for i := 0; i < len(buf); {
		end := i
		for end < len(buf) && buf[end] != '\n' {
			end++
		}
		if id := parseID(buf[i:end]); id != 0 {
			snap.Live[id] = true
			if id > snap.Max {
				snap.Max = id
			}
		}
		i = end + 1
	}
	return snap
}

// parseID extracts the numeric ID from a "goroutine N [state]:" header
// line. Returns 0 for anything that is not a header line.
func parseID(line []byte) int64 {
	const prefix = "goroutine "
	if len(line) < len(prefix) || string(line[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for i := len(prefix); i < len(line); i++ {
		c := line[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
