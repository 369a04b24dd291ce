// ABOUTME: Fixed-capacity circular byte buffer shared by the relay
// ABOUTME: Overwrites the oldest bytes on overflow and reads by relative offset
package ring

// Buffer holds the most recently written bytes of the stream.
//
// Buffer does no locking of its own. The station serializes every call
// through its shared lock.
type Buffer struct {
	buf    []byte
	start  int // index of the oldest valid byte
	length int // number of valid bytes
}

// New creates a buffer with the given capacity in bytes
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Len returns the number of valid bytes
func (b *Buffer) Len() int { return b.length }

// Cap returns the fixed capacity
func (b *Buffer) Cap() int { return len(b.buf) }

// Write appends data, discarding the oldest bytes when capacity is exceeded.
// It returns how many previously buffered bytes were dropped.
func (b *Buffer) Write(data []byte) int {
	n := len(data)
	capacity := len(b.buf)

	if n >= capacity {
		// Everything buffered so far is replaced by the tail of data
		copy(b.buf, data[n-capacity:])
		overflow := b.length
		b.start = 0
		b.length = capacity
		return overflow
	}

	end := (b.start + b.length) % capacity
	first := n
	if first > capacity-end {
		first = capacity - end
	}
	copy(b.buf[end:end+first], data[:first])
	if second := n - first; second > 0 {
		copy(b.buf[:second], data[first:])
	}

	total := b.length + n
	if total > capacity {
		overflow := total - capacity
		b.start = (b.start + overflow) % capacity
		b.length = capacity
		return overflow
	}

	b.length = total
	return 0
}

// ReadAt copies up to size bytes starting rel bytes after the oldest valid
// byte. It returns nil when rel is outside the valid window.
func (b *Buffer) ReadAt(rel, size int) []byte {
	if rel < 0 || rel >= b.length || size <= 0 {
		return nil
	}
	if size > b.length-rel {
		size = b.length - rel
	}

	capacity := len(b.buf)
	pos := (b.start + rel) % capacity
	out := make([]byte, size)

	first := size
	if first > capacity-pos {
		first = capacity - pos
	}
	copy(out, b.buf[pos:pos+first])
	if first < size {
		copy(out[first:], b.buf[:size-first])
	}
	return out
}
