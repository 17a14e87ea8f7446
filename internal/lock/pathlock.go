package lock

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const defaultLockPoll = 100 * time.Millisecond

// PathLocks serializes work on a filesystem path, both between goroutines of
// this process and between processes sharing lockDir.
type PathLocks struct {
	dir  string
	poll time.Duration

	mu    sync.Mutex
	slots map[string]*pathSlot
}

type pathSlot struct {
	ch   chan struct{}
	refs int
}

func NewPathLocks(lockDir string) (*PathLocks, error) {
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &PathLocks{
		dir:   lockDir,
		poll:  defaultLockPoll,
		slots: make(map[string]*pathSlot),
	}, nil
}

// Acquire blocks until the caller holds the lock for path or ctx is done.
// The returned release func is safe to call more than once.
func (p *PathLocks) Acquire(ctx context.Context, path string) (func(), error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve lock path: %w", err)
	}

	s := p.ref(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		p.unref(key, s)
		return nil, ctx.Err()
	}

	f, err := p.lockFile(ctx, key)
	if err != nil {
		<-s.ch
		p.unref(key, s)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unlockAndClose(f)
			<-s.ch
			p.unref(key, s)
		})
	}, nil
}

// LockFile returns the lock file used for path.
func (p *PathLocks) LockFile(path string) string {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:16])+".lock")
}

func (p *PathLocks) lockFile(ctx context.Context, key string) (*os.File, error) {
	f, err := openLockFile(p.LockFile(key))
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		err := tryLock(f)
		if err == nil {
			return f, nil
		}
		if err != ErrLocked {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		}
	}
}

func (p *PathLocks) ref(key string) *pathSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[key]
	if !ok {
		s = &pathSlot{ch: make(chan struct{}, 1)}
		p.slots[key] = s
	}
	s.refs++
	return s
}

func (p *PathLocks) unref(key string, s *pathSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(p.slots, key)
	}
}
