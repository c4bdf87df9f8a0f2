package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeebo/xxh3"
)

const (
	lockDirName    = ".locks"
	lockRetryDelay = 10 * time.Millisecond
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, lockDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockEntry(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	hasher := xxh3.New()
	written, err := copyWithContext(ctx, tempFile, io.TeeReader(body, hasher))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: written,
		Checksum:  formatSum(hasher.Sum64()),
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	filePath, err := s.entryPath(locator)
	if err != nil {
		return err
	}

	unlock, err := s.lockEntry(ctx, locator)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// 条目删除后锁文件随之清理，.locks 的规模与现存条目一致。
	if err := os.Remove(s.lockPath(locator.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// lockEntry 先获取进程内 entryLock，再获取 .locks 下的 flock，释放顺序相反。
func (s *fileStore) lockEntry(ctx context.Context, locator Locator) (func(), error) {
	key := locator.Name
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	release := func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}

	lock.mu.Lock()

	fileLock := flock.New(s.lockPath(key))
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err == nil && !locked {
		err = errors.New("cache entry lock not acquired")
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return func() {
		_ = fileLock.Unlock()
		release()
	}, nil
}

// entryPath 将 Locator 原样映射到 basePath 下的绝对路径，不做任何裁剪。
// 经 path.Clean 后会变化的名称或落入 .locks 的名称返回 ErrInvalidLocator，
// 不同的 Locator 因此不会落到同一个文件。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	name := filepath.ToSlash(locator.Name)
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	if rel == "" || rel != name || rel == lockDirName || strings.HasPrefix(rel, lockDirName+"/") {
		return "", ErrInvalidLocator
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidLocator
	}
	return filePath, nil
}

func (s *fileStore) lockPath(name string) string {
	return filepath.Join(s.basePath, lockDirName, lockFileName(name))
}

func lockFileName(name string) string {
	return strings.ReplaceAll(filepath.ToSlash(name), "/", "_") + ".lock"
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
