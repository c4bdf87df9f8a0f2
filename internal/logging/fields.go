package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供原图/尺寸/命中状态字段，供缩略图请求日志复用。
func RequestFields(filename string, height, width int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"filename":  filename,
		"height":    height,
		"width":     width,
		"cache_hit": cacheHit,
	}
}
