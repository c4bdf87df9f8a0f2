package thumbnail

import (
	"strconv"

	"github.com/thumb-hub/thumb-hub/internal/source"
)

// Request 是一次已校验的缩略图请求；Height 与 Width 同时为 0 表示不缩放，直接返回原图。
type Request struct {
	Filename string
	Height   int
	Width    int
}

// Passthrough 表示请求未携带任何尺寸约束。
func (r Request) Passthrough() bool {
	return r.Height == 0 && r.Width == 0
}

// Key 返回请求对应的缓存键。
func (r Request) Key() string {
	return CacheKey(r.Filename, r.Height, r.Width)
}

// CacheKey 按 <filename><height>x<width> 模板拼接缓存键，不做任何规范化。
func CacheKey(filename string, height, width int) string {
	return filename + strconv.Itoa(height) + "x" + strconv.Itoa(width)
}

// FileName 返回缓存键对应的缩略图文件名，例如 fjord700x400.jpg。
func FileName(filename string, height, width int) string {
	return CacheKey(filename, height, width) + source.Ext
}

// ResolvePath 返回缩略图在 dir 下的完整路径，纯模板替换，不访问磁盘。
func ResolvePath(dir, filename string, height, width int) string {
	return dir + "/" + FileName(filename, height, width)
}
