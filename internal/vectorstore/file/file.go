// Package file stores index generations as directories on disk:
//
//	<dir>/CURRENT                  name of the active generation
//	<dir>/<generation>/index.bin   vectors (index.Encode layout)
//	<dir>/<generation>/sentences.json
//
// A generation is written to a temporary directory, renamed into place and
// only then published by replacing CURRENT.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
	"medrag/internal/index"
	"medrag/internal/logging"
)

const (
	currentFile   = "CURRENT"
	lockFile      = ".build.lock"
	indexFile     = "index.bin"
	sentencesFile = "sentences.json"
	tmpPrefix     = ".tmp-"
)

// Storage is a directory-backed generation store.
type Storage struct {
	dir string
	mu  sync.Mutex
}

func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "index directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create index directory", goerr.V("dir", dir))
	}
	return &Storage{dir: dir}, nil
}

// Save writes g and publishes it. A second builder running against the same
// directory, in this process or another, gets domain.ErrBuildInProgress.
func (s *Storage) Save(ctx context.Context, g *index.Generation) error {
	if err := g.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to save invalid generation")
	}
	if strings.ContainsAny(g.ID, `/\`) || g.ID == "" || strings.HasPrefix(g.ID, ".") {
		return goerr.Wrap(domain.ErrInvalidArgument, "invalid generation id", goerr.V("generation", g.ID))
	}
	if !s.mu.TryLock() {
		return goerr.Wrap(domain.ErrBuildInProgress, "another save is running", goerr.V("dir", s.dir))
	}
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.MkdirTemp(s.dir, tmpPrefix+g.ID+"-")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary generation directory")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck // gone after a successful rename

	if err := writeFile(filepath.Join(tmp, indexFile), func(f *os.File) error {
		return index.Encode(f, g.Index, g.Header())
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(tmp, sentencesFile), func(f *os.File) error {
		return json.NewEncoder(f).Encode(g.Sentences)
	}); err != nil {
		return err
	}

	final := filepath.Join(s.dir, g.ID)
	if err := os.RemoveAll(final); err != nil {
		return goerr.Wrap(err, "failed to clear generation directory", goerr.V("path", final))
	}
	if err := os.Rename(tmp, final); err != nil {
		return goerr.Wrap(err, "failed to move generation into place", goerr.V("path", final))
	}

	pointer := filepath.Join(s.dir, currentFile)
	if err := writeFile(pointer+".tmp", func(f *os.File) error {
		_, err := f.WriteString(g.ID + "\n")
		return err
	}); err != nil {
		return err
	}
	if err := os.Rename(pointer+".tmp", pointer); err != nil {
		return goerr.Wrap(err, "failed to publish generation", goerr.V("generation", g.ID))
	}

	s.prune(ctx, g.ID)
	return nil
}

// Load reads the generation named by CURRENT.
func (s *Storage) Load(ctx context.Context) (*index.Generation, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		return nil, unavailable(err, "no active generation", s.dir)
	}
	id := strings.TrimSpace(string(raw))
	genDir := filepath.Join(s.dir, id)

	f, err := os.Open(filepath.Join(genDir, indexFile))
	if err != nil {
		return nil, unavailable(err, "failed to open index file", genDir)
	}
	defer f.Close() //nolint:errcheck // read only
	idx, h, err := index.Decode(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode index file", goerr.V("generation", id))
	}
	st, err := f.Stat()
	if err != nil {
		return nil, unavailable(err, "failed to stat index file", genDir)
	}

	data, err := os.ReadFile(filepath.Join(genDir, sentencesFile))
	if err != nil {
		return nil, unavailable(err, "failed to read sentence file", genDir)
	}
	var sentences []domain.Sentence
	if err := json.Unmarshal(data, &sentences); err != nil {
		return nil, unavailable(err, "failed to decode sentence file", genDir)
	}

	g, err := index.Restore(id, st.ModTime(), idx, h, sentences)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("index generation loaded", "generation", id, "sentences", len(sentences))
	return g, nil
}

// lock creates the lock file holding this process id. A lock left behind by
// a process that no longer runs is removed and taken over. A lock file
// without a readable pid is treated as held and must be removed by hand.
func (s *Storage) lock(ctx context.Context) (func(), error) {
	path := filepath.Join(s.dir, lockFile)
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, goerr.Wrap(err, "failed to create lock file", goerr.V("lock", path))
		}
		owner, ok := lockOwner(path)
		if attempt > 0 || !ok || processAlive(owner) {
			return nil, goerr.Wrap(domain.ErrBuildInProgress, "index directory is locked",
				goerr.V("lock", path), goerr.V("owner", owner))
		}
		logging.From(ctx).Warn("removing stale build lock", "lock", path, "owner", owner)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(err, "failed to remove stale lock file", goerr.V("lock", path))
		}
	}
}

func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a running process. Platforms that
// cannot probe a process report it as alive.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	switch {
	case err == nil, errors.Is(err, syscall.EPERM):
		return true
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false
	default:
		return true
	}
}

// prune removes every generation other than keep. Failures only cost disk.
func (s *Storage) prune(ctx context.Context, keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			logging.From(ctx).Warn("failed to remove old generation", "generation", e.Name(), "error", err)
		}
	}
}

func writeFile(path string, fill func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "failed to create file", goerr.V("path", path))
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return goerr.Wrap(err, "failed to write file", goerr.V("path", path))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return goerr.Wrap(err, "failed to sync file", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close file", goerr.V("path", path))
	}
	return nil
}

func unavailable(err error, msg, path string) error {
	return goerr.Wrap(domain.ErrIndexUnavailable, msg, goerr.V("path", path), goerr.V("cause", err.Error()))
}
