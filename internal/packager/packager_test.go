package packager

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

func writeSources(t *testing.T, files map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(files))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		paths = append(paths, path)
	}
	return paths
}

func TestPackager_Package(t *testing.T) {
	t.Parallel()

	sources := writeSources(t, map[string]string{
		"b.txt": "second",
		"a.txt": "first",
	})
	p := New(t.TempDir(), nil)

	artifact, err := p.Package("order-1", sources)
	require.NoError(t, err)
	assert.Equal(t, "order-1.zip", filepath.Base(artifact.Ref))
	assert.Len(t, artifact.Digest, 64)
	require.NoError(t, p.Verify(artifact))

	data, err := p.Open(artifact.Ref)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.txt", zr.File[0].Name)
	assert.Equal(t, "b.txt", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "second", string(content))
}

func TestPackager_Deterministic(t *testing.T) {
	t.Parallel()

	sources := writeSources(t, map[string]string{
		"one.bin": "payload-1",
		"two.bin": "payload-2",
	})
	reversed := []string{sources[1], sources[0]}

	first, err := New(t.TempDir(), nil).Package("order-7", sources)
	require.NoError(t, err)
	second, err := New(t.TempDir(), nil).Package("order-7", reversed)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.Size, second.Size)

	a, err := os.ReadFile(first.Ref)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Ref)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPackager_RepackageSameDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := New(dir, nil)
	sources := writeSources(t, map[string]string{"a.txt": "v1"})

	first, err := p.Package("order-9", sources)
	require.NoError(t, err)
	again, err := p.Package("order-9", sources)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	changed := writeSources(t, map[string]string{"a.txt": "v2"})
	_, err = p.Package("order-9", changed)
	assert.ErrorIs(t, err, ErrArtifactExists)
	require.NoError(t, p.Verify(first), "existing artifact must not be swapped")
}

func TestPackager_Errors(t *testing.T) {
	t.Parallel()

	p := New(t.TempDir(), nil)
	sources := writeSources(t, map[string]string{"a.txt": "x"})

	testCases := map[string]struct {
		orderID string
		sources []string
		wantErr error
	}{
		"should reject empty order id":    {orderID: "", sources: sources, wantErr: ErrInvalidArtifactID},
		"should reject path in order id":  {orderID: "../escape", sources: sources, wantErr: ErrInvalidArtifactID},
		"should reject empty source list": {orderID: "order-1", sources: nil, wantErr: domain.ErrNoSourceFiles},
		"should reject duplicate names": {
			orderID: "order-2",
			sources: append(sources, writeSources(t, map[string]string{"a.txt": "y"})...),
			wantErr: ErrDuplicateEntry,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Package(tc.orderID, tc.sources)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPackager_VerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	p := New(t.TempDir(), nil)
	artifact, err := p.Package("order-3", writeSources(t, map[string]string{"a.txt": "x"}))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(artifact.Ref, []byte("tampered"), 0o644))
	assert.ErrorIs(t, p.Verify(artifact), ErrDigestMismatch)
}

func TestPackager_Discard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := New(dir, nil)
	artifact, err := p.Package("order-4", writeSources(t, map[string]string{"a.txt": "x"}))
	require.NoError(t, err)

	require.NoError(t, p.Discard(artifact.Ref))
	assert.NoFileExists(t, artifact.Ref)
	require.NoError(t, p.Discard(artifact.Ref))

	outside := filepath.Join(t.TempDir(), "other.zip")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
	assert.ErrorIs(t, p.Discard(outside), ErrInvalidArtifactID)
	assert.FileExists(t, outside)
}
