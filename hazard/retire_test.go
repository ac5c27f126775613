package hazard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uselessgoddess/conc/internal/gid"
)

// TestRetireBelowThresholdDefersDestruction verifies nothing is destroyed
// until the queue reaches its threshold.
func TestRetireBelowThresholdDefersDestruction(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        4,
		RetireThreshold: 8,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	for i := 0; i < 7; i++ {
		d.Retire(&node{id: i})
	}
	if n := deletions.Load(); n != 0 {
		t.Fatalf("deletions below threshold = %d, want 0", n)
	}
	if s := d.Stats(); s.Pending != 7 {
		t.Fatalf("Pending = %d, want 7", s.Pending)
	}
}

// TestRetireThresholdTriggersReclaim verifies the threshold crossing runs
// a pass that frees every unprotected object.
func TestRetireThresholdTriggersReclaim(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        4,
		RetireThreshold: 8,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	for i := 0; i < 8; i++ {
		d.Retire(&node{id: i})
	}
	if n := deletions.Load(); n != 8 {
		t.Fatalf("deletions at threshold = %d, want 8", n)
	}
	if s := d.Stats(); s.Pending != 0 {
		t.Fatalf("Pending after pass = %d, want 0", s.Pending)
	}
}

// TestProtectedObjectSurvivesPasses verifies a hazarded object rides
// through threshold passes until its protection drops.
func TestProtectedObjectSurvivesPasses(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        2,
		RetireThreshold: 4,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	guarded := &node{id: 99}
	var src atomic.Pointer[node]
	src.Store(guarded)

	hp := d.Acquire()
	hp.Protect(&src)

	src.Store(nil)
	d.Retire(guarded)
	for i := 0; i < 12; i++ { // several threshold crossings
		d.Retire(&node{id: i})
	}

	if s := d.Stats(); s.Pending != 1 {
		t.Fatalf("Pending = %d, want only the protected object", s.Pending)
	}

	hp.Release()
	d.Flush()
	if s := d.Stats(); s.Pending != 0 {
		t.Errorf("Pending after release+flush = %d, want 0", s.Pending)
	}
}

// TestRetireFuncOverridesDeleter verifies the per-object destructor wins
// and a nil destructor means plain reference drop.
func TestRetireFuncOverridesDeleter(t *testing.T) {
	var defaulted, custom atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity: 2,
		Deleter:  func(*node) { defaulted.Add(1) },
	})

	d.RetireFunc(&node{id: 1}, func(*node) { custom.Add(1) })
	d.RetireFunc(&node{id: 2}, nil)
	d.Retire(&node{id: 3})
	d.Flush()

	if got := custom.Load(); got != 1 {
		t.Errorf("custom destructor ran %d times, want 1", got)
	}
	if got := defaulted.Load(); got != 1 {
		t.Errorf("domain deleter ran %d times, want 1", got)
	}
	if s := d.Stats(); s.Pending != 0 || s.Reclaimed != 3 {
		t.Errorf("stats = %+v, want 3 reclaimed", s)
	}
}

// TestRetireNilIsNoop.
func TestRetireNilIsNoop(t *testing.T) {
	d := NewDomain[node](2)
	d.Retire(nil)
	d.RetireFunc(nil, func(*node) { t.Error("destructor ran for nil retire") })
	d.Flush()
	if s := d.Stats(); s.Pending != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending)
	}
}

// TestQueuesAreGoroutineLocal verifies one goroutine crossing its
// threshold does not flush another goroutine's short queue.
func TestQueuesAreGoroutineLocal(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        2,
		RetireThreshold: 4,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	// This goroutine keeps a short queue.
	d.Retire(&node{id: -1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ { // crosses threshold in that goroutine
			d.Retire(&node{id: i})
		}
	}()
	<-done

	if n := deletions.Load(); n != 4 {
		t.Errorf("deletions = %d, want the other goroutine's 4", n)
	}
	if s := d.Stats(); s.Pending != 1 {
		t.Errorf("Pending = %d, want this goroutine's 1", s.Pending)
	}
}

// TestDeleterRetiresChainedObjects verifies destructors may retire further
// objects: each link of the chain is destroyed exactly once, on a pass
// after the one that retired it, and the passes terminate even though
// every destructor crosses the threshold again mid-pass.
func TestDeleterRetiresChainedObjects(t *testing.T) {
	const chain = 4
	counts := make([]int, chain)

	var d *Domain[node]
	d = NewDomainWithOptions(DomainOptions[node]{
		Capacity:        2,
		RetireThreshold: 1,
		Deleter: func(n *node) {
			counts[n.id]++
			if n.id+1 < chain {
				d.Retire(&node{id: n.id + 1})
			}
		},
	})

	d.Retire(&node{id: 0})
	for i := 0; i < chain; i++ {
		d.Flush()
	}

	for id, c := range counts {
		if c != 1 {
			t.Errorf("object %d destroyed %d times, want exactly once", id, c)
		}
	}
	if s := d.Stats(); s.Pending != 0 || s.Reclaimed != chain {
		t.Errorf("stats after chain = %+v, want %d reclaimed and none pending", s, chain)
	}
}

// TestOrphanSweepFlushesExitedGoroutine is the goroutine-exit liveness
// property: k retires below threshold in a goroutine that exits are
// eventually destroyed by a sweep from any other goroutine.
func TestOrphanSweepFlushesExitedGoroutine(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        2,
		RetireThreshold: 100,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	const k = 5
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < k; i++ {
			d.Retire(&node{id: i})
		}
	}()
	wg.Wait()

	// The exited goroutine may linger in the runtime's view briefly;
	// sweep until its queue is claimed.
	deadline := time.Now().Add(5 * time.Second)
	for deletions.Load() != k {
		if time.Now().After(deadline) {
			t.Fatalf("deletions = %d, want %d before deadline", deletions.Load(), k)
		}
		d.sweepOrphans()
		time.Sleep(time.Millisecond)
	}
	if s := d.Stats(); s.Pending != 0 {
		t.Errorf("Pending after sweep = %d, want 0", s.Pending)
	}
}

// TestOrphanSweepAdoptsProtectedLeftovers verifies a dead goroutine's
// still-hazarded records move to the sweeper instead of being destroyed or
// leaked.
func TestOrphanSweepAdoptsProtectedLeftovers(t *testing.T) {
	var deletions atomic.Int64
	d := NewDomainWithOptions(DomainOptions[node]{
		Capacity:        2,
		RetireThreshold: 100,
		Deleter:         func(*node) { deletions.Add(1) },
	})

	guarded := &node{id: 7}
	var src atomic.Pointer[node]
	src.Store(guarded)
	hp := d.Acquire()
	hp.Protect(&src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		src.Store(nil)
		d.Retire(guarded)
	}()
	wg.Wait()

	// Sweep until the orphaned queue has been claimed: the record is then
	// owned by this goroutine and still pending, never destroyed.
	self := gid.Get()
	deadline := time.Now().Add(5 * time.Second)
	for {
		d.sweepOrphans()
		if v, ok := d.queues.Load(self); ok && len(v.(*retireQueue[node]).records) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("orphaned queue never adopted")
		}
		time.Sleep(time.Millisecond)
	}
	if n := deletions.Load(); n != 0 {
		t.Fatalf("protected object destroyed during sweep: deletions = %d", n)
	}

	hp.Release()
	d.Flush()
	if n := deletions.Load(); n != 1 {
		t.Errorf("deletions after release = %d, want 1", n)
	}
}
