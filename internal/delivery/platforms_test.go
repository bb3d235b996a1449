package delivery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/errors"
)

func writeTable(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadTableEmbedded(t *testing.T) {
	t.Parallel()

	table, err := LoadTable("")
	require.NoError(t, err)
	assert.Equal(t, tableVersion, table.Version)
	assert.NotEmpty(t, table.Platforms)

	spotify, ok := table.Lookup("spotify")
	require.True(t, ok)
	assert.InDelta(t, -14.0, spotify.LoudnessTarget, 0.001)
	assert.Equal(t, AuthBearer, spotify.Auth)
	assert.Contains(t, spotify.RequiredMetadata, "isrc")

	upper, ok := table.Lookup("SPOTIFY")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Same(t, spotify, upper)

	_, ok = table.Lookup("betamax")
	assert.False(t, ok)
}

// Every embedded contract must be renderable and carry sane loudness bounds,
// otherwise a delivery toward it could never succeed.
func TestEmbeddedTableContracts(t *testing.T) {
	t.Parallel()

	table, err := LoadTable("")
	require.NoError(t, err)
	for i := range table.Platforms {
		p := &table.Platforms[i]
		assert.NotEmpty(t, p.Formats, p.ID)
		assert.Negative(t, p.LoudnessTarget, p.ID)
		assert.Positive(t, p.LoudnessTolerance, p.ID)
		assert.Positive(t, p.BatchSize, p.ID)
		_, ok := p.RenderFormat()
		assert.True(t, ok, "%s has no renderable format", p.ID)
	}
}

func TestLoadTableOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeTable(t, `version: 1
platforms:
  - id: archive
    name: Archive
    formats: [wav]
    loudnessTarget: -20
`)

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Platforms, 1)

	spec, ok := table.Lookup("archive")
	require.True(t, ok)
	assert.Equal(t, AuthNone, spec.Auth, "auth defaults to none")
	assert.InDelta(t, 1.0, spec.LoudnessTolerance, 0.001, "tolerance defaults to 1 LU")
	assert.Equal(t, 10, spec.BatchSize, "batch size defaults to 10")
	assert.Zero(t, spec.MaxFileSizeBytes(), "no ceiling means unlimited")
}

func TestLoadTableRejectsBadTables(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "wrong schema version",
			doc:     "version: 2\nplatforms:\n  - id: a\n    formats: [wav]\n",
			wantMsg: "schema version",
		},
		{
			name:    "no platforms",
			doc:     "version: 1\nplatforms: []\n",
			wantMsg: "no platforms",
		},
		{
			name:    "missing id",
			doc:     "version: 1\nplatforms:\n  - formats: [wav]\n",
			wantMsg: "no id",
		},
		{
			name:    "duplicate ids ignoring case",
			doc:     "version: 1\nplatforms:\n  - id: dup\n    formats: [wav]\n  - id: DUP\n    formats: [flac]\n",
			wantMsg: "duplicate platform",
		},
		{
			name:    "no formats",
			doc:     "version: 1\nplatforms:\n  - id: a\n",
			wantMsg: "lists no formats",
		},
		{
			name:    "unknown auth method",
			doc:     "version: 1\nplatforms:\n  - id: a\n    formats: [wav]\n    auth: oauth2\n",
			wantMsg: "unknown auth method",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadTable(writeTable(t, tc.doc))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantMsg)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestLoadTableMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadTable(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	table, err := LoadTable("")
	require.NoError(t, err)

	specs, err := table.Resolve([]string{"spotify", "Apple", "SPOTIFY"})
	require.NoError(t, err)
	require.Len(t, specs, 2, "repeated names collapse")
	assert.Equal(t, "spotify", specs[0].ID)
	assert.Equal(t, "apple", specs[1].ID)

	_, err = table.Resolve([]string{"spotify", "napster"})
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown platform "napster"`)
	assert.ErrorContains(t, err, "supported:")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = table.Resolve(nil)
	require.Error(t, err)
}

func TestRenderFormatPreference(t *testing.T) {
	t.Parallel()

	spec := &PlatformSpec{Formats: []string{"aiff", "flac", "wav"}}
	got, ok := spec.RenderFormat()
	require.True(t, ok)
	assert.Equal(t, "wav", got, "wav wins regardless of contract order")

	spec = &PlatformSpec{Formats: []string{"mp3"}}
	_, ok = spec.RenderFormat()
	assert.False(t, ok)

	assert.True(t, spec.AcceptsFormat("MP3"))
	assert.False(t, spec.AcceptsFormat("wav"))
}
