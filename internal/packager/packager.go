// Package packager bundles an offer's source files into one zip archive
// per order.
//
// Archives are reproducible: entries are sorted by name and carry a fixed
// modification time, so packaging the same files for the same order id
// always yields the same bytes and the same BLAKE3 digest.
package packager

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

var (
	ErrArtifactExists    = errors.New("artifact already exists with different content")
	ErrDigestMismatch    = errors.New("artifact digest mismatch")
	ErrDuplicateEntry    = errors.New("duplicate archive entry name")
	ErrInvalidArtifactID = errors.New("invalid artifact id")
)

// entryTime is the modification time stamped on every archive entry.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

type Packager struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packager{dir: dir, logger: logger}
}

// Package bundles sourceFiles into <dir>/<orderID>.zip. Re-packaging
// identical content for the same order is a no-op; an existing archive
// with different content is never replaced.
func (p *Packager) Package(orderID string, sourceFiles []string) (domain.Artifact, error) {
	if orderID == "" || filepath.Base(orderID) != orderID || strings.HasPrefix(orderID, ".") {
		return domain.Artifact{}, ErrInvalidArtifactID
	}
	if len(sourceFiles) == 0 {
		return domain.Artifact{}, domain.ErrNoSourceFiles
	}

	data, err := buildArchive(sourceFiles)
	if err != nil {
		return domain.Artifact{}, err
	}
	sum := blake3.Sum256(data)
	artifact := domain.Artifact{
		Ref:    filepath.Join(p.dir, orderID+".zip"),
		Digest: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}

	if existing, err := os.ReadFile(artifact.Ref); err == nil {
		existingSum := blake3.Sum256(existing)
		if hex.EncodeToString(existingSum[:]) != artifact.Digest {
			return domain.Artifact{}, fmt.Errorf("%w: %s", ErrArtifactExists, artifact.Ref)
		}
		return artifact, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.Artifact{}, fmt.Errorf("read existing artifact: %w", err)
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(p.dir, orderID+".*.tmp")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return domain.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return domain.Artifact{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, artifact.Ref); err != nil {
		_ = os.Remove(tmpName)
		return domain.Artifact{}, fmt.Errorf("publish artifact: %w", err)
	}

	p.logger.Info("artifact_packaged",
		"order_id", orderID,
		"ref", artifact.Ref,
		"files", len(sourceFiles),
		"size", artifact.Size,
	)
	return artifact, nil
}

// Discard removes an archive that no order references. Refs outside the
// packager's directory are refused.
func (p *Packager) Discard(ref string) error {
	if filepath.Clean(filepath.Dir(ref)) != filepath.Clean(p.dir) || !strings.HasSuffix(ref, ".zip") {
		return fmt.Errorf("%w: %s", ErrInvalidArtifactID, ref)
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	p.logger.Info("artifact_discarded", "ref", ref)
	return nil
}

// Open returns the archive bytes for a packaged artifact.
func (p *Packager) Open(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return data, nil
}

// Verify recomputes the digest of a packaged artifact.
func (p *Packager) Verify(a domain.Artifact) error {
	data, err := p.Open(a.Ref)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(data)
	if hex.EncodeToString(sum[:]) != a.Digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, a.Ref)
	}
	return nil
}

func buildArchive(sourceFiles []string) ([]byte, error) {
	paths := append([]string(nil), sourceFiles...)
	sort.Slice(paths, func(i, j int) bool {
		return filepath.Base(paths[i]) < filepath.Base(paths[j])
	})

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
		}
		seen[name] = struct{}{}

		if err := addEntry(zw, name, path); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addEntry(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source %s: %w", name, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryTime,
	})
	if err != nil {
		return fmt.Errorf("add entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copy source %s: %w", name, err)
	}
	return nil
}
