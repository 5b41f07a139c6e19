package vectorstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docqa/internal/domain"
)

// Format selects the on-disk artifact encoding.
type Format string

const (
	FormatBinary Format = "binary"
	FormatSQLite Format = "sqlite"
)

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatBinary, "":
		return FormatBinary, nil
	case FormatSQLite:
		return FormatSQLite, nil
	default:
		return "", domain.Configf("unknown index format %q", s)
	}
}

// Persist writes the index to path in the binary format.
func (ix *Index) Persist(path string) error {
	return ix.PersistAs(context.Background(), path, FormatBinary)
}

// PersistAs writes the index to path in the given format. The artifact is
// written to a temporary file in the same directory and renamed into place,
// so a failed or interrupted write leaves any previous artifact untouched.
func (ix *Index) PersistAs(ctx context.Context, path string, format Format) error {
	if len(ix.entries) == 0 {
		return fmt.Errorf("persist %s: %w", path, domain.ErrEmptyIndex)
	}
	var write func(tmp *os.File) error
	switch format {
	case FormatBinary, "":
		data, err := ix.MarshalBinary()
		if err != nil {
			return err
		}
		write = func(tmp *os.File) error {
			if _, err := tmp.Write(data); err != nil {
				return err
			}
			if err := tmp.Sync(); err != nil {
				return err
			}
			return tmp.Close()
		}
	case FormatSQLite:
		write = func(tmp *os.File) error {
			if err := tmp.Close(); err != nil {
				return err
			}
			return ix.writeSQLite(ctx, tmp.Name())
		}
	default:
		return domain.Configf("unknown index format %q", format)
	}
	if err := writeAtomic(path, write); err != nil {
		return &domain.IOError{Op: "persist", Path: path, Err: err}
	}
	return nil
}

func writeAtomic(path string, write func(tmp *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so the rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load reads an artifact written by Persist or PersistAs.
func Load(path string) (*Index, error) {
	return LoadContext(context.Background(), path)
}

// LoadContext reads an artifact, detecting its format from the header.
// Missing or unreadable files yield *domain.IOError; anything that is not a
// complete, self-consistent artifact yields *domain.FormatError. A partially
// populated index is never returned.
func LoadContext(ctx context.Context, path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.IOError{Op: "load", Path: path, Err: err}
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return nil, &domain.IOError{Op: "load", Path: path, Err: err}
	}

	var ix *Index
	if bytes.HasPrefix(data, []byte(sqliteHeader)) {
		ix, err = readSQLite(ctx, path)
	} else {
		ix, err = decodeBinary(data)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.FormatError{Path: path, Reason: err.Error()}
	}
	return ix, nil
}
