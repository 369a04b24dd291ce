// ABOUTME: Tests for the circular byte buffer
// ABOUTME: Covers wraparound, overflow accounting and out-of-range reads
package ring

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteScenario(t *testing.T) {
	b := New(10)

	assert.Equal(t, 0, b.Write([]byte("abcde")))
	assert.Equal(t, 5, b.Len())

	assert.Equal(t, 0, b.Write([]byte("fghij")))
	assert.Equal(t, 10, b.Len())

	assert.Equal(t, 3, b.Write([]byte("XYZ")))
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, "defghijXYZ", string(b.ReadAt(0, b.Len())))
}

func TestWriteLargerThanCapacity(t *testing.T) {
	tests := []struct {
		name     string
		prefill  string
		data     string
		overflow int
		want     string
	}{
		{name: "empty buffer, exact capacity", data: "0123456789", overflow: 0, want: "0123456789"},
		{name: "partial buffer, exact capacity", prefill: "abc", data: "0123456789", overflow: 3, want: "0123456789"},
		{name: "full buffer, oversized write", prefill: "abcdefghij", data: "0123456789XY", overflow: 10, want: "23456789XY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(10)
			if tt.prefill != "" {
				b.Write([]byte(tt.prefill))
			}

			assert.Equal(t, tt.overflow, b.Write([]byte(tt.data)))
			assert.Equal(t, 10, b.Len())
			assert.Equal(t, tt.want, string(b.ReadAt(0, 10)))
		})
	}
}

func TestConcatenationWithinCapacity(t *testing.T) {
	b := New(64)
	var want []byte
	writes := [][]byte{[]byte("hello "), []byte("ring "), {}, []byte("buffer"), []byte("!")}

	for _, w := range writes {
		require.Equal(t, 0, b.Write(w))
		want = append(want, w...)
	}

	assert.Equal(t, want, b.ReadAt(0, b.Len()))
}

func TestRetainsMostRecentBytes(t *testing.T) {
	const capacity = 37
	rng := rand.New(rand.NewSource(7))
	b := New(capacity)

	var all []byte
	total := 0
	for i := 0; i < 200; i++ {
		chunk := make([]byte, rng.Intn(capacity/2)+1)
		rng.Read(chunk)
		all = append(all, chunk...)
		total += b.Write(chunk)
	}

	require.Equal(t, capacity, b.Len())
	assert.Equal(t, len(all)-capacity, total, "cumulative overflow")
	assert.True(t, bytes.Equal(all[len(all)-capacity:], b.ReadAt(0, capacity)))
}

func TestReadAtBounds(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))

	assert.Empty(t, b.ReadAt(-1, 3))
	assert.Empty(t, b.ReadAt(6, 3))
	assert.Empty(t, b.ReadAt(100, 3))
	assert.Equal(t, "ef", string(b.ReadAt(4, 100)))
	assert.Equal(t, "bcd", string(b.ReadAt(1, 3)))
}

func TestReadAtWraparound(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))
	b.Write([]byte("ghij")) // wraps, drops "ab"

	require.Equal(t, 8, b.Len())
	assert.Equal(t, "cdefghij", string(b.ReadAt(0, 8)))
	assert.Equal(t, "ghi", string(b.ReadAt(4, 3)))
	assert.Equal(t, "fghij", string(b.ReadAt(3, 10)))
}

func TestReadAtReturnsCopy(t *testing.T) {
	b := New(4)
	b.Write([]byte("abcd"))

	out := b.ReadAt(0, 4)
	out[0] = 'Z'

	assert.Equal(t, "abcd", string(b.ReadAt(0, 4)))
}
