package bvcurve

import (
	"fmt"
	"sync"
)

// ScanBuffer is a double-buffered store of output codes shared between the
// sweep driver and a hardware scan. The scan reads only the front buffer;
// Fill writes the back buffer and then swaps the two, so a scan never sees a
// half-written waveform.
type ScanBuffer struct {
	front []RawType
	back  []RawType
	freed bool
	mu    sync.RWMutex // guards front and freed, and the swap
	fill  sync.Mutex   // serializes writers of back
}

// NewScanBuffer allocates a buffer of n samples, initially all zero codes.
func NewScanBuffer(n int) (*ScanBuffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("scan buffer size %d, must be positive", n)
	}
	return &ScanBuffer{
		front: make([]RawType, n),
		back:  make([]RawType, n),
	}, nil
}

// Len returns the number of samples in the buffer.
func (b *ScanBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.front)
}

// Fill calls fn on the back buffer and, if fn succeeds, makes it the front
// buffer. If fn fails the front buffer is unchanged.
func (b *ScanBuffer) Fill(fn func(back []RawType) error) error {
	b.fill.Lock()
	defer b.fill.Unlock()

	b.mu.RLock()
	freed := b.freed
	b.mu.RUnlock()
	if freed {
		return ErrBufferFreed
	}
	if err := fn(b.back); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrBufferFreed
	}
	b.front, b.back = b.back, b.front
	return nil
}

// Generate fills the buffer with the requested waveform converted by convert.
func (b *ScanBuffer) Generate(req WaveformRequest, convert ConversionFunc[RawType]) error {
	return b.Fill(func(back []RawType) error {
		return Generate(req, back, convert)
	})
}

// Snapshot copies the front buffer into dst and returns the number of codes
// copied.
func (b *ScanBuffer) Snapshot(dst []RawType) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return 0, ErrBufferFreed
	}
	return copy(dst, b.front), nil
}

// Free releases the buffer. Later calls to Fill or Snapshot fail.
func (b *ScanBuffer) Free() {
	b.fill.Lock()
	defer b.fill.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freed = true
	b.front = nil
	b.back = nil
}

// Freed reports whether Free has been called.
func (b *ScanBuffer) Freed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.freed
}
