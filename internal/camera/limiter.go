package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DownloadLimiter bounds how many cameras download frames at once.
//
// The underlying semaphore never changes. Shrinking withholds slots: free
// slots are taken immediately and the rest are kept back from the next
// releases, so holders that got a slot under the old capacity keep it.
// Growing returns withheld slots.
type DownloadLimiter struct {
	sem *semaphore.Weighted
	max int64

	inUse atomic.Int64

	mu       sync.Mutex
	capacity int64
	withheld int64 // slots the limiter holds itself
	debt     int64 // slots to withhold as soon as holders release them
}

// NewDownloadLimiter creates a limiter with the given capacity that can later grow up to maxCapacity.
func NewDownloadLimiter(capacity, maxCapacity int) *DownloadLimiter {
	maxCapacity = max(maxCapacity, capacity, 1)
	l := &DownloadLimiter{
		sem:      semaphore.NewWeighted(int64(maxCapacity)),
		max:      int64(maxCapacity),
		capacity: int64(maxCapacity),
	}
	l.Resize(capacity)
	return l
}

// Acquire blocks until a download slot is free or ctx is done.
func (l *DownloadLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// Release returns a slot taken with Acquire.
func (l *DownloadLimiter) Release() {
	l.inUse.Add(-1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debt > 0 {
		l.debt--
		l.withheld++
		return
	}
	l.sem.Release(1)
}

// Resize changes the capacity, clamped to [1, max]. It returns the new capacity.
func (l *DownloadLimiter) Resize(n int) int {
	target := min(max(int64(n), 1), l.max)

	l.mu.Lock()
	defer l.mu.Unlock()

	for l.capacity > target {
		if l.sem.TryAcquire(1) {
			l.withheld++
		} else {
			l.debt++
		}
		l.capacity--
	}
	for l.capacity < target {
		if l.debt > 0 {
			l.debt--
		} else {
			l.withheld--
			l.sem.Release(1)
		}
		l.capacity++
	}
	return int(l.capacity)
}

// Capacity returns the number of slots downloads can use once current holders drain.
func (l *DownloadLimiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.capacity)
}

// Max returns the largest capacity Resize accepts.
func (l *DownloadLimiter) Max() int {
	return int(l.max)
}

// InUse returns the number of slots held by downloaders.
func (l *DownloadLimiter) InUse() int {
	return int(l.inUse.Load())
}
