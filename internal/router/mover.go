package router

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// FileMover moves a file to a path that must not exist yet.
type FileMover interface {
	Move(src, dst string) error
}

// OSMover moves files on the local filesystem. It never replaces an existing target.
type OSMover struct {
	Logger *slog.Logger
}

// Move links dst to src and removes src. When hard links are unavailable (another device,
// network shares) it copies into an exclusively created dst and then removes src.
func (m OSMover) Move(src, dst string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	err := os.Link(src, dst)
	if err == nil {
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return fmt.Errorf("remove source after link: %w", err)
		}
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: target exists: %s", common.ErrIOConflict, dst)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}

	logger.Debug("link failed, copying", "src", src, "dst", dst, "error", err)
	if err := copyExclusive(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, st.Mode().Perm())
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: target exists: %s", common.ErrIOConflict, dst)
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
