// v3
// internal/sink/archive.go
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atlarge-research/opendt/internal/opendc"
)

// RunDir returns the scratch directory allotted to a run id. Callers
// create it, hand it to the simulator driver, then Archive it.
func (s *Sink) RunDir(runID string) string {
	return filepath.Join(s.outDir, "runs", runID)
}

// Archive publishes srcDir as the archive of runID. The copy is staged
// beside the destination and renamed into place, so readers never see
// a half-written archive. Strict mode rejects a reused id; the default
// overwrites.
func (s *Sink) Archive(runID, srcDir string) error {
	dup, err := s.seen("run/" + runID)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if dup && s.strict {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}

	dst := s.RunDir(runID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	stage := dst + ".stage"
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	if err := copyTree(srcDir, stage); err != nil {
		_ = os.RemoveAll(stage)
		return fmt.Errorf("stage archive %s: %w", runID, err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.Rename(stage, dst); err != nil {
		return fmt.Errorf("publish archive %s: %w", runID, err)
	}
	s.lg.Info("run archived", "runId", runID)
	return nil
}

// ArchiveCachedRun copies the archive of srcRunID to dstRunID and
// rewrites its metadata with the cached flag set, mirroring what a
// fresh invocation would have produced.
func (s *Sink) ArchiveCachedRun(srcRunID, dstRunID string, md opendc.Metadata) error {
	src := s.RunDir(srcRunID)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cached run source %s: %w", srcRunID, err)
	}
	if err := s.Archive(dstRunID, src); err != nil {
		return err
	}
	md.Cached = true
	if err := opendc.WriteMetadata(s.RunDir(dstRunID), md); err != nil {
		return fmt.Errorf("rewrite metadata %s: %w", dstRunID, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		cerr := out.Close()
		return errors.Join(err, cerr)
	}
	return out.Close()
}
