package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<name>          # 缩略图正文，例如 fjord700x400.jpg
//	<StoragePath>/.locks/<name>   # 跨进程写锁
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将缩略图写入缓存并产出新的 Entry 描述。实现通过临时文件 + rename
	// 保证写入原子性，在失败时清理临时文件，并在写入过程中计算 xxh3 校验和。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文文件，通常用于校验失败、过期或淘汰。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目，Name 为 StoragePath 下的相对文件名。
type Locator struct {
	Name string
}

// Entry 表示一次缓存命中或写入结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum,omitempty"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于调用方读取或直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidLocator 表示 Locator 解析后的路径逃出了 StoragePath。
var ErrInvalidLocator = errors.New("invalid cache path")
