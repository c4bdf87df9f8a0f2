package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

const (
	// SourceBackendFS 从本地目录读取原图。
	SourceBackendFS = "fs"
	// SourceBackendS3 从 S3 兼容的对象存储读取原图。
	SourceBackendS3 = "s3"
)

// GlobalConfig 描述服务运行时行为：监听端口、日志、原图来源与缩略图缓存。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	SourceBackend string   `mapstructure:"SourceBackend"`
	SourcePath    string   `mapstructure:"SourcePath"`
	S3Bucket      string   `mapstructure:"S3Bucket"`
	S3Prefix      string   `mapstructure:"S3Prefix"`
	S3Region      string   `mapstructure:"S3Region"`
	S3Endpoint    string   `mapstructure:"S3Endpoint"`
	SourceTimeout Duration `mapstructure:"SourceTimeout"`

	StoragePath    string   `mapstructure:"StoragePath"`
	IndexPath      string   `mapstructure:"IndexPath"`
	PublicPath     string   `mapstructure:"PublicPath"`
	CacheTTL       Duration `mapstructure:"CacheTTL"`
	MaxCacheSize   int64    `mapstructure:"MaxCacheSize"`
	VerifyChecksum bool     `mapstructure:"VerifyChecksum"`

	JPEGQuality    int     `mapstructure:"JPEGQuality"`
	TransformRate  float64 `mapstructure:"TransformRate"`
	TransformBurst int     `mapstructure:"TransformBurst"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// UsesS3 表示原图是否来自对象存储。
func (g GlobalConfig) UsesS3() bool {
	return g.SourceBackend == SourceBackendS3
}

// SourceLocation 输出原图位置摘要，例如 fs:/data/full 或 s3://bucket/prefix，供日志字段使用。
func (g GlobalConfig) SourceLocation() string {
	if g.UsesS3() {
		return fmt.Sprintf("s3://%s/%s", g.S3Bucket, strings.TrimPrefix(g.S3Prefix, "/"))
	}
	return fmt.Sprintf("%s:%s", SourceBackendFS, g.SourcePath)
}
