package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thumb-hub/thumb-hub/internal/cache"
	"github.com/thumb-hub/thumb-hub/internal/logging"
	"github.com/thumb-hub/thumb-hub/internal/metrics"
	"github.com/thumb-hub/thumb-hub/internal/source"
	"github.com/thumb-hub/thumb-hub/internal/transform"
)

// writeJPEG 在 dir 下生成 name.jpg 作为原图夹具。
func writeJPEG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+source.Ext), buf.Bytes(), 0o644))
}

// countingTransformer 统计调用次数，可选地在返回前阻塞以制造并发竞争。
type countingTransformer struct {
	next  transform.Transformer
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingTransformer) Resize(ctx context.Context, src io.Reader, height, width int) ([]byte, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.next.Resize(ctx, src, height, width)
}

type fixture struct {
	sourceDir  string
	storageDir string
	source     source.Store
	store      cache.Store
	index      *cache.Index
	transform  *countingTransformer
	tracker    *metrics.Tracker
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	sourceDir := t.TempDir()
	for _, name := range names {
		writeJPEG(t, sourceDir, name, 64, 48)
	}
	src, err := source.NewFSStore(sourceDir)
	require.NoError(t, err)

	storageDir := t.TempDir()
	store, err := cache.NewStore(storageDir)
	require.NoError(t, err)

	idx, err := cache.OpenIndex(context.Background(), filepath.Join(storageDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	return &fixture{
		sourceDir:  sourceDir,
		storageDir: storageDir,
		source:     src,
		store:      store,
		index:      idx,
		transform:  &countingTransformer{next: transform.NewImaging(85)},
		tracker:    metrics.NewTracker(0.01),
	}
}

func (f *fixture) manager(t *testing.T, policy cache.Policy) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Source:      f.source,
		Transformer: f.transform,
		Store:       f.store,
		Index:       f.index,
		Policy:      policy,
		StorageDir:  f.storageDir,
		Logger:      logging.Discard(),
		Tracker:     f.tracker,
	})
	require.NoError(t, err)
	return m
}

// fixedClock 返回可手动推进的时钟。
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// failingLister 模拟原图目录无法列出。
type failingLister struct{}

func (failingLister) Names(context.Context) ([]string, error) {
	return nil, errors.New("permission denied")
}

type staticLister []string

func (s staticLister) Names(context.Context) ([]string, error) {
	return []string(s), nil
}
