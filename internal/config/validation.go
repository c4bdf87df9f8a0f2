package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别的日志级别 %q", g.LogLevel))
	}
	switch strings.ToLower(strings.TrimSpace(g.LogFormat)) {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheTTL.DurationValue() < 0 {
		return newFieldError("Global.CacheTTL", "不能为负数")
	}
	if g.MaxCacheSize < 0 {
		return newFieldError("Global.MaxCacheSize", "不能为负数")
	}
	if g.JPEGQuality < 1 || g.JPEGQuality > 100 {
		return newFieldError("Global.JPEGQuality", "必须在 1-100")
	}
	if g.TransformRate < 0 {
		return newFieldError("Global.TransformRate", "不能为负数")
	}
	if g.SourceTimeout.DurationValue() <= 0 {
		return newFieldError("Global.SourceTimeout", "必须大于 0")
	}

	switch strings.ToLower(strings.TrimSpace(g.SourceBackend)) {
	case SourceBackendFS, "":
		if g.SourcePath == "" {
			return newFieldError("Global.SourcePath", "不能为空")
		}
	case SourceBackendS3:
		if g.S3Bucket == "" {
			return newFieldError("Global.S3Bucket", "使用 s3 原图存储时不能为空")
		}
		if g.S3Endpoint != "" {
			if err := validateEndpoint(g.S3Endpoint); err != nil {
				return fmt.Errorf("Global.S3Endpoint: %w", err)
			}
		}
	default:
		return newFieldError("Global.SourceBackend", "仅支持 fs|s3")
	}

	return nil
}

func validateEndpoint(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，地址: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("地址缺少 Host: %s", raw)
	}
	return nil
}
