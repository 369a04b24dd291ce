// ABOUTME: Tests for the command tree and supplier wiring
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/needle/internal/artwork"
	"github.com/harperreed/needle/internal/config"
	"github.com/harperreed/needle/internal/s3source"
	"github.com/harperreed/needle/internal/track"
	"github.com/harperreed/needle/internal/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestProbeCommand(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "Band - Song.mp3")
	require.NoError(t, os.WriteFile(bad, []byte("not audio"), 0o644))

	out, err := run(t, "probe", bad)
	assert.Error(t, err)
	assert.Contains(t, out, "title:    Song")
	assert.Contains(t, out, "artists:  Band")
	assert.Contains(t, out, "fallback values")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9100", "--library", "/a,/b", "--no-mdns"}))

	port, _ := cmd.Flags().GetInt("port")
	lib, _ := cmd.Flags().GetStringSlice("library")
	noMDNS, _ := cmd.Flags().GetBool("no-mdns")

	cfg := config.Config{Port: 9000, MDNS: true, LogLevel: "warn", Name: "kept"}
	applyServeFlags(cmd, &cfg, serveFlags{port: port, library: lib, noMDNS: noMDNS, logLevel: "info"})

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, []string{"/a", "/b"}, cfg.LibraryDirs)
	assert.False(t, cfg.MDNS)
	assert.Equal(t, "warn", cfg.LogLevel, "unset flags keep config values")
	assert.Equal(t, "kept", cfg.Name)
}

func TestApplyServeFlagsDefaultName(t *testing.T) {
	cmd := newServeCmd()
	cfg := config.Config{}
	applyServeFlags(cmd, &cfg, serveFlags{})
	assert.Contains(t, cfg.Name, "-needle")
}

func TestBuildSupplierFallsBack(t *testing.T) {
	covers, err := artwork.NewStore(t.TempDir())
	require.NoError(t, err)

	primary := t.TempDir()
	fallback := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fallback, "Backup - Tune.mp3"), []byte("x"), 0o644))

	sup, sources, err := buildSupplier(context.Background(), config.Config{
		LibraryDirs:  []string{primary},
		FallbackDirs: []string{fallback},
	}, covers)
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	tr, err := sup.NextTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tune", tr.Info().Title)

	// New files in the primary library are picked up after a rescan
	require.NoError(t, os.WriteFile(filepath.Join(primary, "Main - Song.mp3"), []byte("x"), 0o644))
	rescan(sources)
	tr, err = sup.NextTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Song", tr.Info().Title)
}

func TestBuildSupplierRefreshesBucket(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	t.Setenv("AWS_PROFILE", "")

	covers, err := artwork.NewStore(t.TempDir())
	require.NoError(t, err)

	sup, sources, err := buildSupplier(context.Background(), config.Config{
		S3: config.S3Config{Bucket: "tracks", Region: "us-east-1"},
	}, covers)
	require.NoError(t, err)
	require.NotNil(t, sup)
	require.Len(t, sources, 1)

	src, ok := sources[0].(*s3source.Source)
	require.True(t, ok, "bucket source must be refreshed on rescan")
	assert.NoError(t, src.Refresh())
}

func TestBuildSupplierWithoutSources(t *testing.T) {
	_, _, err := buildSupplier(context.Background(), config.Config{}, nil)
	assert.ErrorIs(t, err, track.ErrNoTracks)
}
