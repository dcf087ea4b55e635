package cache

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend() *Backend {
	return &Backend{Fs: afero.NewMemMapFs(), Root: "/cache"}
}

func TestDigestDeterministic(t *testing.T) {
	a := map[string]any{"api_class": "x", "count": 3, "nested": map[string]any{"b": 1, "a": 2}}
	b := map[string]any{"nested": map[string]any{"a": 2, "b": 1}, "count": 3, "api_class": "x"}
	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db, "key order must not affect the digest")
	assert.Len(t, da, 64)

	dc, err := Digest(map[string]any{"api_class": "x", "count": 4})
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestDirNaming(t *testing.T) {
	b := newBackend()
	assert.Equal(t, "dfm_cache_abc", DirName("abc"))
	assert.Equal(t, "/cache/dfm_cache_abc", b.Dir("abc"))
	assert.Equal(t, "element_00007.json", ElementFile(7))
}

func TestSentinelProtocol(t *testing.T) {
	b := newBackend()
	dir := b.Dir("abc")

	// No directory yet.
	_, err := b.ReadSentinel(dir)
	require.Error(t, err)

	hashDict := map[string]any{"api_class": "x"}
	require.NoError(t, b.Prepare(dir, hashDict))

	// Prepared but unsealed directories stay invisible.
	_, err = b.ReadSentinel(dir)
	require.Error(t, err)

	require.NoError(t, b.WriteJSON(dir, ElementFile(0), "v0"))
	require.NoError(t, b.WriteSentinel(dir, 1))

	s, err := b.ReadSentinel(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, s.NumElementsWritten)
	assert.False(t, s.Created.IsZero())

	var meta Metadata
	require.NoError(t, b.ReadJSON(dir, MetadataFile, &meta))
	assert.Equal(t, "x", meta.HashDict["api_class"])

	var v string
	require.NoError(t, b.ReadJSON(dir, ElementFile(0), &v))
	assert.Equal(t, "v0", v)
}

func TestPrepareClearsPreviousContent(t *testing.T) {
	b := newBackend()
	dir := b.Dir("abc")
	require.NoError(t, b.Prepare(dir, nil))
	require.NoError(t, b.WriteJSON(dir, ElementFile(0), "stale"))
	require.NoError(t, b.WriteSentinel(dir, 1))

	require.NoError(t, b.Prepare(dir, nil))
	_, err := b.ReadSentinel(dir)
	assert.Error(t, err, "re-preparing must drop the old sentinel")
	exists, err := afero.Exists(b.Fs, dir+"/"+ElementFile(0))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMalformedSentinelRejected(t *testing.T) {
	b := newBackend()
	dir := b.Dir("abc")
	require.NoError(t, b.Prepare(dir, nil))
	require.NoError(t, afero.WriteFile(b.Fs, dir+"/"+SentinelFile, []byte("{"), 0o644))
	_, err := b.ReadSentinel(dir)
	require.Error(t, err)

	require.NoError(t, b.WriteJSON(dir, SentinelFile, map[string]any{"num_elements_written": -1}))
	_, err = b.ReadSentinel(dir)
	require.Error(t, err)
}
