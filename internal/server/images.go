package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/thumb-hub/thumb-hub/internal/logging"
	"github.com/thumb-hub/thumb-hub/internal/thumbnail"
)

const (
	headerCacheHit = "X-Thumb-Hub-Cache-Hit"
	mimeJPEG       = "image/jpeg"
)

type imageHandler struct {
	logger    *logrus.Logger
	validator RequestValidator
	images    ImageBuilder
}

// Handle 处理 GET /api/images：校验失败以纯文本返回提示（状态码 200），
// 缩放或落盘失败渲染错误页。
func (h *imageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome := h.validator.Validate(ctx, c.Query("filename"), c.Query("width"), c.Query("height"))
	if !outcome.Valid {
		h.logger.WithFields(logrus.Fields{
			"action":     "validate",
			"field":      outcome.Field,
			"request_id": requestID,
		}).Info("image_request_rejected")
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(outcome.Reason)
	}

	req := outcome.Request
	result, err := h.images.FetchOrBuild(ctx, req)
	if err != nil {
		h.logResult(req, requestID, false, started, err)
		return renderError(c, errorTitle(err), err.Error())
	}

	h.logResult(req, requestID, result.CacheHit, started, nil)
	c.Set(fiber.HeaderContentType, mimeJPEG)
	c.Set(headerCacheHit, strconv.FormatBool(result.CacheHit))
	return c.Send(result.Body)
}

func (h *imageHandler) logResult(req thumbnail.Request, requestID string, cacheHit bool, started time.Time, err error) {
	fields := logging.RequestFields(req.Filename, req.Height, req.Width, cacheHit)
	fields["action"] = "image"
	fields["passthrough"] = req.Passthrough()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_complete")
}

func errorTitle(err error) string {
	var persistErr *thumbnail.PersistError
	if errors.As(err, &persistErr) {
		return "Unable to store thumbnail"
	}
	var transformErr *thumbnail.TransformError
	if errors.As(err, &transformErr) {
		return "Unable to process image"
	}
	return "Internal Server Error"
}
