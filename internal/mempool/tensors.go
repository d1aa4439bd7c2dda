// Package mempool recycles the float32 buffers that back inference tensors.
//
// A letterboxed 640x640 RGB input is 1.2M floats and the raw YOLO output is
// of similar size, so every detection would otherwise allocate several MB.
package mempool

import (
	"sync"
	"sync/atomic"
)

// bucket is the granularity of size classes, in elements.
const bucket = 4096

var (
	pools sync.Map // size class -> *sync.Pool

	gets   atomic.Int64
	misses atomic.Int64
)

func sizeClass(n int) int {
	if n <= bucket {
		return bucket
	}
	return (n + bucket - 1) / bucket * bucket
}

func poolFor(cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		misses.Add(1)
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are undefined; callers
// must overwrite every element they read. Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	gets.Add(1)
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 hands a buffer obtained from GetFloat32 back to its pool. Nil and
// foreign buffers whose capacity is not a size class are ignored.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c%bucket != 0 {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}

// Stats reports how many buffers were requested and how many of those had to
// be freshly allocated.
type Stats struct {
	Gets   int64
	Misses int64
}

// Snapshot returns the current counters.
func Snapshot() Stats {
	return Stats{Gets: gets.Load(), Misses: misses.Load()}
}
