package cache

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Checksum 返回 body 的 xxh3-64 十六进制摘要，与 Put 写入时计算的值一致。
func Checksum(body []byte) string {
	return formatSum(xxh3.Hash(body))
}

func formatSum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
