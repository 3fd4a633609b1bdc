package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

const (
	filePrefix  = "session_"
	fileSuffix  = ".json"
	filePattern = filePrefix + "*" + fileSuffix
)

// FileStore keeps one JSON document per thread in a directory.
type FileStore struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

// Dir returns the directory the store writes to.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(threadID string) (string, error) {
	if err := utils.ValidateThreadID(threadID); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, filePrefix+threadID+fileSuffix), nil
}

// Save writes s atomically through a temp file and rename.
func (f *FileStore) Save(ctx context.Context, s *types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(s.ThreadID)
	if err != nil {
		return err
	}
	prepare(s)
	data, err := sonic.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ThreadID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", s.ThreadID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", s.ThreadID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", s.ThreadID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", s.ThreadID, err)
	}
	return nil
}

// Load reads the record for threadID.
func (f *FileStore) Load(ctx context.Context, threadID string) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.path(threadID)
	if err != nil {
		return nil, err
	}
	return f.read(path)
}

func (f *FileStore) read(path string) (*types.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s types.Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return decode(&s)
}

// Delete removes the record; a missing record is not an error.
func (f *FileStore) Delete(ctx context.Context, threadID string) error {
	path, err := f.path(threadID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session %s: %w", threadID, err)
	}
	return nil
}

// List decodes every session file, skipping corrupt ones.
func (f *FileStore) List(ctx context.Context) ([]*types.Session, error) {
	var out []*types.Session
	err := f.walk(ctx, func(path string) {
		s, err := f.read(path)
		if err != nil {
			return
		}
		out = append(out, s)
	})
	return out, err
}

// SweepExpired deletes expired, long-finished and undecodable files.
func (f *FileStore) SweepExpired(ctx context.Context, policy SweepPolicy) (SweepReport, error) {
	var report SweepReport
	var remove []string
	err := f.walk(ctx, func(path string) {
		s, err := f.read(path)
		switch {
		case errors.Is(err, ErrCorrupt):
			report.Corrupt++
			remove = append(remove, path)
		case err != nil:
			return
		case policy.Stale(s):
			if s.State.IsTerminal() {
				report.Terminal++
			} else {
				report.Expired++
			}
			remove = append(remove, path)
		}
	})
	if err != nil {
		return report, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, path := range remove {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.log.Warn("failed to remove session file", zap.String("path", path), zap.Error(err))
		}
	}
	return report, nil
}

// walk visits session files in the store directory. fastwalk invokes the
// callback concurrently, so visits are serialized here.
func (f *FileStore) walk(ctx context.Context, visit func(path string)) error {
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, f.dir, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != f.dir {
				return filepath.SkipDir
			}
			return nil
		}
		name := filepath.Base(p)
		if strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		if ok, _ := doublestar.Match(filePattern, name); !ok {
			return nil
		}
		mu.Lock()
		visit(p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan session directory: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
