package source

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
)

// Ext 是原图文件的统一扩展名，名称与对象键之间只差这一后缀。
const Ext = ".jpg"

// ErrNotFound 表示请求的原图不存在。
var ErrNotFound = errors.New("source image not found")

// Store 描述原图来源。Names 返回去掉扩展名后的可用名称；Open 以名称打开原图正文。
type Store interface {
	Names(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// baseName 截取第一个 "." 之前的部分作为原图名称，例如 fjord.jpg -> fjord。
func baseName(file string) string {
	if idx := strings.Index(file, "."); idx >= 0 {
		return file[:idx]
	}
	return file
}

// Contains 判断 name 是否出现在可用原图列表中。
func Contains(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}
