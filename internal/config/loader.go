package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absolutize(&cfg.Global); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("SourceBackend", SourceBackendFS)
	v.SetDefault("SourcePath", "./images/full")
	v.SetDefault("SourceTimeout", "30s")
	v.SetDefault("StoragePath", "./images/thumbnails")
	v.SetDefault("IndexPath", "")
	v.SetDefault("PublicPath", "./public")
	v.SetDefault("CacheTTL", 0)
	v.SetDefault("MaxCacheSize", 0)
	v.SetDefault("VerifyChecksum", true)
	v.SetDefault("JPEGQuality", 85)
	v.SetDefault("TransformRate", 0)
	v.SetDefault("TransformBurst", 1)
}

// applyGlobalDefaults 处理直接构造 Config（测试、内嵌调用）时遗漏的零值。
func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
	g.SourceBackend = strings.ToLower(strings.TrimSpace(g.SourceBackend))
	if g.SourceBackend == "" {
		g.SourceBackend = SourceBackendFS
	}
	if g.SourceTimeout.DurationValue() == 0 {
		g.SourceTimeout = Duration(30 * time.Second)
	}
	if g.CacheTTL.DurationValue() < 0 {
		g.CacheTTL = Duration(0)
	}
	if g.JPEGQuality == 0 {
		g.JPEGQuality = 85
	}
	if g.TransformBurst <= 0 {
		g.TransformBurst = 1
	}
	if g.IndexPath == "" && g.StoragePath != "" {
		g.IndexPath = filepath.Join(g.StoragePath, "index.db")
	}
}

// absolutize 将所有本地目录转换为绝对路径，避免工作目录变化导致缓存落点漂移。
func absolutize(g *GlobalConfig) error {
	targets := []struct {
		field string
		value *string
	}{
		{"Global.StoragePath", &g.StoragePath},
		{"Global.IndexPath", &g.IndexPath},
		{"Global.SourcePath", &g.SourcePath},
		{"Global.PublicPath", &g.PublicPath},
	}
	for _, target := range targets {
		if *target.value == "" {
			continue
		}
		abs, err := filepath.Abs(*target.value)
		if err != nil {
			return fmt.Errorf("无法解析 %s: %w", target.field, err)
		}
		*target.value = abs
	}
	return nil
}

// durationDecodeHook 先把数值按秒转换为 Duration，字符串交给 Duration.UnmarshalText。
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		numericDurationHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

func numericDurationHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		default:
			return data, nil
		}
	}
}
