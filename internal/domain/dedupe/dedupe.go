// Package dedupe maps election fingerprints to the job that computes them,
// so resubmitting the same input returns the existing job.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Index records which job owns a fingerprint.
type Index interface {
	// Claim atomically binds fingerprint to jobID unless it is already bound.
	// It returns the owning job ID and whether this call claimed it.
	Claim(ctx context.Context, fingerprint, jobID string) (owner string, claimed bool)

	// Release unbinds a fingerprint so it can be submitted again, e.g. after
	// the queue refused the job.
	Release(ctx context.Context, fingerprint string)

	Size() int64
}

type node struct {
	fingerprint string
	jobID       string
	prev, next  *node
}

func (n *node) reset() {
	*n = node{}
}

// inMemoryIndex keeps claims in insertion order. When bounded, the oldest
// claim is evicted first.
type inMemoryIndex struct {
	mu       sync.Mutex
	entries  map[string]*node
	head     *node // oldest
	tail     *node // newest
	maxSize  int   // 0 or negative = unbounded
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryIndex creates a fingerprint index with configuration options.
func NewInMemoryIndex(opts ...Option) Index {
	d := &inMemoryIndex{
		maxSize: 10_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.entries = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryIndex) Claim(_ context.Context, fingerprint, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.entries[fingerprint]; exists {
		return n.jobID, false
	}

	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.fingerprint = fingerprint
	n.jobID = jobID
	d.pushBack(n)
	d.entries[fingerprint] = n
	d.size.Add(1)
	return jobID, true
}

func (d *inMemoryIndex) Release(_ context.Context, fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.entries[fingerprint]; exists {
		d.remove(n)
	}
}

func (d *inMemoryIndex) Size() int64 {
	return d.size.Load()
}

// pushBack appends n as the newest entry. Caller holds d.mu.
func (d *inMemoryIndex) pushBack(n *node) {
	n.prev = d.tail
	if d.tail != nil {
		d.tail.next = n
	}
	d.tail = n
	if d.head == nil {
		d.head = n
	}
}

// remove unlinks n and returns it to the pool. Caller holds d.mu.
func (d *inMemoryIndex) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.entries, n.fingerprint)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// evictOldest drops the oldest claim. Caller holds d.mu.
func (d *inMemoryIndex) evictOldest() {
	if d.head != nil {
		d.remove(d.head)
	}
}
