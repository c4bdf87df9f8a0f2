package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/thumb-hub/thumb-hub/internal/cache"
	"github.com/thumb-hub/thumb-hub/internal/metrics"
	"github.com/thumb-hub/thumb-hub/internal/source"
	"github.com/thumb-hub/thumb-hub/internal/transform"
)

// Options 汇总 Manager 的依赖。Index 为空时不做过期/校验/淘汰，缓存文件即权威结果。
type Options struct {
	Source      source.Store
	Transformer transform.Transformer
	Store       cache.Store
	Index       *cache.Index
	Policy      cache.Policy
	StorageDir  string
	Logger      *logrus.Logger
	Tracker     *metrics.Tracker
}

// Result 是 FetchOrBuild 的输出。Body 可能在并发调用者之间共享，调用方不得修改。
type Result struct {
	Body        []byte
	Path        string
	CacheHit    bool
	Passthrough bool
	Shared      bool
}

// Manager 负责 “查缓存 → 未命中 → 缩放 → 落盘 → 返回” 流程。
type Manager struct {
	source      source.Store
	transformer transform.Transformer
	store       cache.Store
	index       *cache.Index
	policy      cache.Policy
	storageDir  string
	logger      *logrus.Logger
	tracker     *metrics.Tracker

	inflight singleflight.Group
}

// NewManager 校验必需依赖并构造 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Source == nil {
		return nil, errors.New("source store is required")
	}
	if opts.Transformer == nil {
		return nil, errors.New("transformer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Manager{
		source:      opts.Source,
		transformer: opts.Transformer,
		store:       opts.Store,
		index:       opts.Index,
		policy:      opts.Policy,
		storageDir:  opts.StorageDir,
		logger:      opts.Logger,
		tracker:     opts.Tracker,
	}, nil
}

// FetchOrBuild 返回请求对应的图片字节。缓存命中直接返回文件内容；未命中时同一
// 缓存键的并发调用只会触发一次缩放与写入，所有调用者拿到相同的字节。
func (m *Manager) FetchOrBuild(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	defer func() { m.tracker.Observe(metrics.OpFetch, time.Since(started)) }()

	if req.Passthrough() {
		return m.passthrough(ctx, req)
	}

	key := req.Key()
	locator := cache.Locator{Name: FileName(req.Filename, req.Height, req.Width)}

	if body, ok := m.lookup(ctx, key, locator); ok {
		m.tracker.Hit()
		return &Result{Body: body, Path: m.path(req), CacheHit: true}, nil
	}
	m.tracker.Miss()

	value, err, shared := m.inflight.Do(key, func() (interface{}, error) {
		return m.build(context.WithoutCancel(ctx), req, key, locator)
	})
	if shared {
		m.tracker.Shared()
	}
	if err != nil {
		m.tracker.Failed()
		return nil, err
	}
	return &Result{Body: value.([]byte), Path: m.path(req), Shared: shared}, nil
}

// passthrough 在未指定尺寸时返回原图，不写缓存。
func (m *Manager) passthrough(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	defer func() { m.tracker.Observe(metrics.OpPassthrough, time.Since(started)) }()

	rc, err := m.source.Open(ctx, req.Filename)
	if err != nil {
		return nil, &TransformError{Filename: req.Filename, Err: err}
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, &TransformError{Filename: req.Filename, Err: err}
	}
	return &Result{Body: body, Passthrough: true}, nil
}

// lookup 读取缓存文件。索引中有记录时按策略检查 TTL 与校验和，不合格的条目被删除并视为未命中；
// 没有记录的文件按原样返回。
func (m *Manager) lookup(ctx context.Context, key string, locator cache.Locator) ([]byte, bool) {
	started := time.Now()
	result, err := m.store.Get(ctx, locator)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "key": key}).Warn("cache_get_failed")
		}
		return nil, false
	}
	body, err := io.ReadAll(result.Reader)
	result.Reader.Close()
	m.tracker.Observe(metrics.OpCacheRead, time.Since(started))
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_read", "key": key}).Warn("cache_read_failed")
		return nil, false
	}

	if m.index == nil {
		return body, true
	}

	rec, ok, err := m.index.Lookup(ctx, key)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "index_lookup", "key": key}).Warn("index_lookup_failed")
		return body, true
	}
	if !ok {
		return body, true
	}

	reason := ""
	switch {
	case m.policy.Expired(rec):
		reason = "expired"
	case !m.policy.Intact(rec, body):
		reason = "checksum_mismatch"
	}
	if reason != "" {
		m.logger.WithFields(logrus.Fields{"action": "cache_invalidate", "key": key, "reason": reason}).Info("cache_entry_discarded")
		m.discard(ctx, rec)
		return nil, false
	}

	if err := m.index.Touch(ctx, key, m.policy.Now()); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "index_touch", "key": key}).Warn("index_touch_failed")
	}
	return body, true
}

// build 打开原图、缩放并写入缓存，由 singleflight 保证同一 key 同时只执行一次。
func (m *Manager) build(ctx context.Context, req Request, key string, locator cache.Locator) ([]byte, error) {
	rc, err := m.source.Open(ctx, req.Filename)
	if err != nil {
		return nil, &TransformError{Filename: req.Filename, Err: err}
	}
	defer rc.Close()

	var body []byte
	err = m.tracker.Time(metrics.OpTransform, func() error {
		var resizeErr error
		body, resizeErr = m.transformer.Resize(ctx, rc, req.Height, req.Width)
		return resizeErr
	})
	if err != nil {
		return nil, &TransformError{Filename: req.Filename, Err: err}
	}

	var entry *cache.Entry
	err = m.tracker.Time(metrics.OpPersist, func() error {
		var putErr error
		entry, putErr = m.store.Put(ctx, locator, bytes.NewReader(body), cache.PutOptions{})
		return putErr
	})
	if err != nil {
		return nil, &PersistError{Path: m.path(req), Err: err}
	}

	m.record(ctx, req, key, entry)
	return body, nil
}

// record 写入索引并按容量上限淘汰；索引失败只记录日志，不影响本次请求。
func (m *Manager) record(ctx context.Context, req Request, key string, entry *cache.Entry) {
	if m.index == nil {
		return
	}
	now := m.policy.Now()
	rec := cache.Record{
		Key:        key,
		Name:       entry.Locator.Name,
		Filename:   req.Filename,
		Height:     req.Height,
		Width:      req.Width,
		SizeBytes:  entry.SizeBytes,
		Checksum:   entry.Checksum,
		CreatedAt:  now,
		LastAccess: now,
	}
	if err := m.index.Upsert(ctx, rec); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "index_upsert", "key": key}).Warn("index_upsert_failed")
		return
	}
	m.evict(ctx, key)
}

// evict 在总量超过 MaxBytes 时从最久未访问的条目开始删除，刚写入的 key 不参与淘汰。
func (m *Manager) evict(ctx context.Context, keep string) {
	if m.policy.MaxBytes <= 0 {
		return
	}
	total, err := m.index.TotalSize(ctx)
	if err != nil {
		m.logger.WithError(err).WithField("action", "cache_evict").Warn("cache_evict_failed")
		return
	}
	if !m.policy.OverCapacity(total) {
		return
	}

	candidates, err := m.index.LeastRecentlyUsed(ctx, keep, evictBatch)
	if err != nil {
		m.logger.WithError(err).WithField("action", "cache_evict").Warn("cache_evict_failed")
		return
	}

	evicted := 0
	for _, rec := range candidates {
		if !m.policy.OverCapacity(total) {
			break
		}
		if !m.discard(ctx, rec) {
			continue
		}
		total -= rec.SizeBytes
		evicted++
	}
	m.tracker.Evicted(evicted)
	if evicted > 0 {
		m.logger.WithFields(logrus.Fields{
			"action":      "cache_evict",
			"evicted":     evicted,
			"total_bytes": total,
			"max_bytes":   m.policy.MaxBytes,
		}).Info("cache_evicted")
	}
}

const evictBatch = 64

// discard 删除缓存文件与索引记录，返回是否全部成功。
func (m *Manager) discard(ctx context.Context, rec cache.Record) bool {
	if err := m.store.Remove(ctx, rec.Locator()); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_remove", "key": rec.Key}).Warn("cache_remove_failed")
		return false
	}
	if err := m.index.Delete(ctx, rec.Key); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "index_delete", "key": rec.Key}).Warn("index_delete_failed")
		return false
	}
	return true
}

func (m *Manager) path(req Request) string {
	if m.storageDir == "" {
		return ""
	}
	return ResolvePath(m.storageDir, req.Filename, req.Height, req.Width)
}

// Entries 返回索引中的全部缓存记录，未启用索引时返回 nil。
func (m *Manager) Entries(ctx context.Context) ([]cache.Record, error) {
	if m.index == nil {
		return nil, nil
	}
	return m.index.List(ctx)
}
