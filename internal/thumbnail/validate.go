package thumbnail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/thumb-hub/thumb-hub/internal/metrics"
	"github.com/thumb-hub/thumb-hub/internal/source"
)

// NameLister 返回当前可用的原图名称（不含扩展名）。
type NameLister interface {
	Names(ctx context.Context) ([]string, error)
}

// Outcome 是一次校验的结果。Valid=false 时 Reason 为面向用户的提示，Field 指出出错的参数。
type Outcome struct {
	Valid   bool
	Reason  string
	Field   string
	Request Request
}

// DefaultNameTTL 是原图列表在内存中的有效期。
const DefaultNameTTL = 30 * time.Second

// Validator 按顺序校验 filename/width/height，并要求 filename 出现在原图列表中。
// 原图列表缓存 nameTTL；filename 不在缓存中时立即重新列举一次。
type Validator struct {
	names   NameLister
	logger  *logrus.Logger
	tracker *metrics.Tracker

	nameTTL time.Duration
	now     func() time.Time
	listing singleflight.Group

	mu      sync.Mutex
	cached  []string
	fetched time.Time
}

// NewValidator 构造校验器；logger/tracker 可为空。
func NewValidator(names NameLister, logger *logrus.Logger, tracker *metrics.Tracker) *Validator {
	return &Validator{
		names:   names,
		logger:  logger,
		tracker: tracker,
		nameTTL: DefaultNameTTL,
		now:     time.Now,
	}
}

// WithNameTTL 调整原图列表的缓存时长，ttl<=0 表示每次校验都重新列举。
func (v *Validator) WithNameTTL(ttl time.Duration) *Validator {
	v.nameTTL = ttl
	return v
}

// Validate 校验原始查询参数：
//   - filename 为空或不在原图列表中：列出可用名称；
//   - width/height 同时缺省：视为不缩放；
//   - 否则 width、height 必须依次为正整数。
func (v *Validator) Validate(ctx context.Context, filename, widthRaw, heightRaw string) Outcome {
	if filename == "" {
		names, _ := v.availableNames(ctx, false)
		return v.invalidFilename(names)
	}

	names, listed := v.availableNames(ctx, false)
	if !source.Contains(names, filename) && !listed {
		names, _ = v.availableNames(ctx, true)
	}
	if !source.Contains(names, filename) {
		return v.invalidFilename(names)
	}

	if widthRaw == "" && heightRaw == "" {
		return Outcome{Valid: true, Request: Request{Filename: filename}}
	}

	width, ok := parsePositive(widthRaw)
	if !ok {
		return invalidDimension("width")
	}
	height, ok := parsePositive(heightRaw)
	if !ok {
		return invalidDimension("height")
	}

	return Outcome{
		Valid:   true,
		Request: Request{Filename: filename, Height: height, Width: width},
	}
}

func (v *Validator) invalidFilename(names []string) Outcome {
	return Outcome{
		Field: "filename",
		Reason: fmt.Sprintf(
			"Please pass a valid filename in the 'filename' query segment. Available filenames are: %s.",
			strings.Join(names, ", "),
		),
	}
}

func invalidDimension(field string) Outcome {
	return Outcome{
		Field:  field,
		Reason: fmt.Sprintf("Please provide a positive numerical value for the '%s' query segment.", field),
	}
}

// availableNames 返回原图名称，以及本次是否真正列举过来源。缓存未过期且未强制刷新时
// 直接使用缓存；列举失败时记录警告并退回上一次成功的列表，从未成功过则为空列表。
func (v *Validator) availableNames(ctx context.Context, refresh bool) ([]string, bool) {
	if v.names == nil {
		return nil, false
	}

	v.mu.Lock()
	cached, fetched := v.cached, v.fetched
	v.mu.Unlock()
	if !refresh && !fetched.IsZero() && v.nameTTL > 0 && v.now().Sub(fetched) < v.nameTTL {
		return cached, false
	}

	value, err, _ := v.listing.Do("names", func() (interface{}, error) {
		started := time.Now()
		names, err := v.names.Names(ctx)
		v.tracker.Observe(metrics.OpSourceList, time.Since(started))
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.cached, v.fetched = names, v.now()
		v.mu.Unlock()
		return names, nil
	})
	if err != nil {
		if v.logger != nil {
			v.logger.WithError(err).WithFields(logrus.Fields{
				"action": "source_list",
				"stale":  len(cached),
			}).Warn("source_list_failed")
		}
		return cached, true
	}
	return value.([]string), true
}

// parsePositive 解析前导整数（可带正负号，忽略其后的非数字部分），仅接受 >=1 的值。
func parsePositive(raw string) (int, bool) {
	s := strings.TrimLeft(raw, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
