package thumbnail

import "fmt"

// TransformError 表示原图缺失、不可读或解码/编码失败。
type TransformError struct {
	Filename string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Filename, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// PersistError 表示缩略图写入缓存目录失败，例如目录不可写或磁盘已满。
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
