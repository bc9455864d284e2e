// Package performance bounds how much work runs at once: a fan-out pool for
// backtest variants, a batcher for bulk inserts, a pacer for API calls and a
// heap snapshot for the data commands.
package performance

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

// Pool runs indexed jobs on at most Workers goroutines.
type Pool struct {
	workers   int
	submitted atomic.Uint64
	completed atomic.Uint64
}

// PoolStats counts jobs over the life of a Pool.
type PoolStats struct {
	Workers   int    `json:"workers"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
}

// NewPool sizes a pool. workers <= 0 means one per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int { return p.workers }

// Run calls job for every index in [0, n) and waits for all of them. Jobs
// report their own failures; Run stops handing out indexes once ctx is done
// and returns ctx's error in that case. A panicking job is re-raised here.
func (p *Pool) Run(ctx context.Context, n int, job func(ctx context.Context, i int)) error {
	cp := pool.New().WithMaxGoroutines(p.workers).WithContext(ctx)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		p.submitted.Add(1)
		i := i
		cp.Go(func(ctx context.Context) error {
			defer p.completed.Add(1)
			job(ctx, i)
			return nil
		})
	}
	_ = cp.Wait()
	return ctx.Err()
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{Workers: p.workers, Submitted: p.submitted.Load(), Completed: p.completed.Load()}
}

// Batcher buffers items and hands them to flush in groups of size.
type Batcher[T any] struct {
	mu    sync.Mutex
	size  int
	buf   []T
	flush func([]T) error
}

func NewBatcher[T any](size int, flush func([]T) error) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	return &Batcher[T]{size: size, buf: make([]T, 0, size), flush: flush}
}

// Add buffers item, flushing when the buffer fills.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, item)
	if len(b.buf) < b.size {
		return nil
	}
	return b.drain()
}

// Close flushes whatever is left.
func (b *Batcher[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drain()
}

func (b *Batcher[T]) drain() error {
	if len(b.buf) == 0 {
		return nil
	}
	err := b.flush(b.buf)
	b.buf = b.buf[:0]
	return err
}

// Pacer spaces out calls to a remote API: perSecond tokens refill up to
// burst.
type Pacer struct {
	lim *rate.Limiter
	now func() time.Time
}

func NewPacer(perSecond float64, burst int) *Pacer {
	return &Pacer{lim: rate.NewLimiter(rate.Limit(perSecond), burst), now: time.Now}
}

// TryAcquire takes a token without waiting.
func (p *Pacer) TryAcquire() bool { return p.lim.AllowN(p.now(), 1) }

// Acquire waits for a token. It fails at once when ctx ends, or when ctx's
// deadline would pass before a token frees up.
func (p *Pacer) Acquire(ctx context.Context) error { return p.lim.Wait(ctx) }

// Heap is a snapshot of the runtime figures the data commands print.
type Heap struct {
	Alloc      uint64 `json:"alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

func ReadHeap() Heap {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Heap{Alloc: m.HeapAlloc, Sys: m.Sys, NumGC: m.NumGC, Goroutines: runtime.NumGoroutine()}
}

// FormatBytes prints n in binary units with one decimal: 1.5 KB, 5.0 MB.
func FormatBytes(n uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v, u := float64(n), 0
	for v >= 1024 && u < len(units)-1 {
		v /= 1024
		u++
	}
	if u == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[u])
}
