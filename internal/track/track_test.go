// ABOUTME: Tests for track metadata helpers and supplier composition
package track

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTrack struct{ info Info }

func (s stubTrack) Info() Info                                   { return s.info }
func (s stubTrack) Download(ctx context.Context) ([]byte, error) { return []byte(s.info.ID), nil }

func TestInfoEqual(t *testing.T) {
	a := Info{ID: "1", Title: "Song", Artists: []string{"A", "B"}, BitrateKbps: 320}
	b := a.Clone()

	assert.True(t, a.Equal(b))

	b.Artists[1] = "C"
	assert.False(t, a.Equal(b))
	assert.Equal(t, "B", a.Artists[1], "clone must not share artists")

	c := a.Clone()
	c.CoverURI = "/cover/x"
	assert.False(t, a.Equal(c))
}

func TestInfoLabel(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{name: "no artists", info: Info{Title: "Solo"}, want: "Solo"},
		{name: "one artist", info: Info{Title: "Song", Artists: []string{"A"}}, want: "A - Song"},
		{name: "many artists", info: Info{Title: "Song", Artists: []string{"A", "B"}}, want: "A, B - Song"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Label())
		})
	}
}

func TestWithFallback(t *testing.T) {
	empty := SupplierFunc(func(ctx context.Context) (Track, error) { return nil, ErrNoTracks })
	broken := SupplierFunc(func(ctx context.Context) (Track, error) { return nil, ErrUnavailable })
	backup := SupplierFunc(func(ctx context.Context) (Track, error) {
		return stubTrack{info: Info{ID: "backup"}}, nil
	})

	tr, err := WithFallback(empty, backup).NextTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backup", tr.Info().ID)

	_, err = WithFallback(broken, backup).NextTrack(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable), "transient errors are not masked by the fallback")

	_, wrapped := WithFallback(empty, nil).(*fallback)
	assert.False(t, wrapped, "nil secondary returns primary unchanged")
}

func TestPick(t *testing.T) {
	p := NewPicker(1)

	_, err := Pick(p, []string{})
	assert.ErrorIs(t, err, ErrNoTracks)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		v, err := Pick(p, []string{"a", "b", "c"})
		require.NoError(t, err)
		seen[v] = true
	}
	assert.Len(t, seen, 3)
}
