package collector

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
)

// dedupe remembers record ids in two generations of Bloom filters. When the
// current generation reaches capacity it becomes the previous one, so memory
// stays fixed and an id is remembered for at least capacity later ids.
type dedupe struct {
	mu       sync.Mutex
	capacity uint
	fpRate   float64
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	count    uint
}

func newDedupe(capacity uint, fpRate float64) *dedupe {
	return &dedupe{
		capacity: capacity,
		fpRate:   fpRate,
		current:  bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Add reports whether id was new. A false positive makes a new id look like
// a duplicate roughly fpRate of the time.
func (d *dedupe) Add(id string) bool {
	key := []byte(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current.Test(key) || (d.previous != nil && d.previous.Test(key)) {
		return false
	}
	if d.count >= d.capacity {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, d.fpRate)
		d.count = 0
	}
	d.current.Add(key)
	d.count++
	return true
}

// uniques estimates distinct keys with a HyperLogLog sketch.
type uniques struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

func newUniques() *uniques {
	return &uniques{sketch: hyperloglog.New()}
}

func (u *uniques) Add(key string) {
	if key == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sketch.Insert([]byte(key))
}

// Count locks fully because Estimate may merge the sparse representation.
func (u *uniques) Count() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sketch.Estimate()
}
