// Package transform wraps the resize capability used to build thumbnails.
// Callers treat it as opaque: source bytes plus a target height and width go
// in, encoded JPEG bytes come out.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"
)

// Transformer 把原图缩放到 height×width 并返回编码后的字节。
type Transformer interface {
	Resize(ctx context.Context, src io.Reader, height, width int) ([]byte, error)
}

// ErrInvalidSize 表示目标尺寸不是正整数。
var ErrInvalidSize = errors.New("resize dimensions must be positive")

// Imaging 基于 disintegration/imaging 实现 Transformer：按 EXIF 方向解码，
// 居中裁剪填满目标尺寸，再以 JPEG 编码输出。
type Imaging struct {
	Quality int
}

// NewImaging 返回使用指定 JPEG 质量的缩放器，quality 超出 1-100 时回退 85。
func NewImaging(quality int) *Imaging {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	return &Imaging{Quality: quality}
}

func (t *Imaging) Resize(ctx context.Context, src io.Reader, height, width int) ([]byte, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, height, width)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}

	resized := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(t.Quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Limited 以令牌桶限制缩放吞吐，等待令牌时遵循 ctx 取消。
type Limited struct {
	next    Transformer
	limiter *rate.Limiter
}

// NewLimited 包装 next；perSecond<=0 表示不限速，直接返回 next。
func NewLimited(next Transformer, perSecond float64, burst int) Transformer {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *Limited) Resize(ctx context.Context, src io.Reader, height, width int) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for transform slot: %w", err)
	}
	return l.next.Resize(ctx, src, height, width)
}
