// Package main implements hazstress, a stress and soak harness for the
// hazard package.
//
// The harness drives a configurable number of reader goroutines, which
// protect and checksum a shared record, against writer goroutines that
// swap the record out and retire the old one. Retired records go back to a
// fixed cache-aligned slab through the domain's deleter, so every
// use-after-reclaim becomes a visible checksum mismatch instead of a
// silent heap anomaly.
//
// Usage:
//
//	hazstress [flags]
//
//	-readers n    reader goroutines (default 8)
//	-writers n    writer goroutines (default 2)
//	-capacity n   hazard cells, bounds concurrent handles (default readers)
//	-threshold n  retire threshold (default 2*capacity)
//	-duration d   how long to run (default 5s)
//
// Exit status is non-zero if any reader observed a corrupted record.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uselessgoddess/conc/alloc"
	"github.com/uselessgoddess/conc/hazard"
)

// record is the protected payload: pointer-free so it can live on the
// cache-aligned slab, self-validating via a trailing checksum.
type record struct {
	seq   uint64
	words [14]uint64
	sum   uint64
}

func (r *record) fill(seq uint64) {
	r.seq = seq
	r.sum = seq
	for i := range r.words {
		r.words[i] = seq ^ uint64(i)<<32
		r.sum += r.words[i]
	}
}

func (r *record) valid() bool {
	sum := r.seq
	for _, w := range r.words {
		sum += w
	}
	return sum == r.sum
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("hazstress: ")

	var (
		readers   = flag.Int("readers", 8, "reader goroutines")
		writers   = flag.Int("writers", 2, "writer goroutines")
		capacity  = flag.Int("capacity", 0, "hazard cells (default: readers)")
		threshold = flag.Int("threshold", 0, "retire threshold (default: 2*capacity)")
		duration  = flag.Duration("duration", 5*time.Second, "run time")
	)
	flag.Parse()

	if *readers <= 0 || *writers <= 0 {
		log.Fatal("readers and writers must be positive")
	}
	if *capacity <= 0 {
		*capacity = *readers
	}
	if *threshold <= 0 {
		*threshold = 2 * *capacity
	}

	// The slab holds enough records for the writers' in-flight churn:
	// everything pending in retire queues plus one live record per writer
	// and the published one.
	slabSize := 4 * (*threshold + 2*(*capacity) + *writers + 1)
	slab := alloc.CacheAligned[record]().AllocateSlice(slabSize)
	free := make(chan *record, slabSize)
	for i := range slab {
		free <- &slab[i]
	}

	dom := hazard.NewDomainWithOptions(hazard.DomainOptions[record]{
		Capacity:        *capacity,
		RetireThreshold: *threshold,
		Deleter:         func(r *record) { free <- r },
	})

	var current atomic.Pointer[record]
	first := <-free
	first.fill(1)
	current.Store(first)

	fmt.Printf("readers=%d writers=%d capacity=%d duration=%v slab=%d records\n",
		*readers, *writers, dom.Capacity(), *duration, slabSize)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	var reads, corrupt atomic.Int64
	for i := 0; i < *readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hp, err := dom.TryAcquire()
			if err != nil {
				log.Fatalf("capacity undersized for reader count: %v", err)
			}
			defer hp.Release()
			for {
				select {
				case <-stop:
					return
				default:
				}
				r := hp.Protect(&current)
				if !r.valid() {
					corrupt.Add(1)
				}
				hp.Reset()
				reads.Add(1)
			}
		}()
	}

	var swaps atomic.Int64
	for i := 0; i < *writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := uint64(2)
			for {
				// Taking from free can stall if the slab is undersized, so
				// shutdown must win over a refill.
				var next *record
				select {
				case <-stop:
					return
				case next = <-free:
				}
				next.fill(seq)
				seq++
				dom.Retire(current.Swap(next))
				swaps.Add(1)
			}
		}()
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second)
	timeout := time.After(*duration)
run:
	for {
		select {
		case <-ticker.C:
			s := dom.Stats()
			fmt.Printf("%6.1fs reads=%d swaps=%d pending=%d reclaimed=%d\n",
				time.Since(start).Seconds(), reads.Load(), swaps.Load(), s.Pending, s.Reclaimed)
		case <-timeout:
			break run
		}
	}
	ticker.Stop()
	close(stop)
	wg.Wait()
	dom.Flush()

	s := dom.Stats()
	fmt.Printf("\ntotal reads:     %d\n", reads.Load())
	fmt.Printf("total swaps:     %d\n", swaps.Load())
	fmt.Printf("reclaimed:       %d\n", s.Reclaimed)
	fmt.Printf("still pending:   %d\n", s.Pending)
	fmt.Printf("hazard scans:    %d\n", s.Scans)
	fmt.Printf("corrupt reads:   %d\n", corrupt.Load())

	if corrupt.Load() != 0 {
		os.Exit(1)
	}
}
