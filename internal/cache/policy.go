package cache

import "time"

// Policy 描述缓存条目的生存策略：TTL 过期、校验和验证与容量上限。
// 零值表示永不过期、不校验、不限容量。
type Policy struct {
	TTL            time.Duration
	VerifyChecksum bool
	MaxBytes       int64
	now            func() time.Time
}

// NewPolicy 构造策略，默认使用 time.Now 作为时钟。
func NewPolicy(ttl time.Duration, verify bool, maxBytes int64) Policy {
	return Policy{
		TTL:            ttl,
		VerifyChecksum: verify,
		MaxBytes:       maxBytes,
		now:            time.Now,
	}
}

// WithClock 返回替换时钟后的策略副本，测试中用于模拟时间流逝。
func (p Policy) WithClock(now func() time.Time) Policy {
	p.now = now
	return p
}

// Now 返回策略时钟的当前时间。
func (p Policy) Now() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// Expired 判断记录是否超过 TTL；TTL<=0 时永不过期。
func (p Policy) Expired(rec Record) bool {
	if p.TTL <= 0 {
		return false
	}
	return !p.Now().Before(rec.CreatedAt.Add(p.TTL))
}

// Intact 判断 body 是否与记录中的校验和一致；未开启校验或记录缺少校验和时视为一致。
func (p Policy) Intact(rec Record, body []byte) bool {
	if !p.VerifyChecksum || rec.Checksum == "" {
		return true
	}
	return Checksum(body) == rec.Checksum
}

// OverCapacity 判断当前总量是否超过上限；MaxBytes<=0 表示不限。
func (p Policy) OverCapacity(total int64) bool {
	return p.MaxBytes > 0 && total > p.MaxBytes
}
