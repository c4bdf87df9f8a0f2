package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thumb-hub/thumb-hub/internal/thumbnail"
)

// ImageBuilder 是 /api/images 依赖的缓存管理能力，测试中可替换。
type ImageBuilder interface {
	FetchOrBuild(ctx context.Context, req thumbnail.Request) (*thumbnail.Result, error)
}

// RequestValidator 校验原始查询参数。
type RequestValidator interface {
	Validate(ctx context.Context, filename, widthRaw, heightRaw string) thumbnail.Outcome
}

// Mount 在 404 兜底之前向 app 追加路由。
type Mount func(app *fiber.App)

// AppOptions controls which handlers the Fiber application exposes.
type AppOptions struct {
	Logger     *logrus.Logger
	Validator  RequestValidator
	Images     ImageBuilder
	PublicPath string
	Mounts     []Mount
}

const (
	contextKeyRequestID = "_thumbhub_request_id"

	// ImagesPath 是缩略图接口的唯一挂载点。
	ImagesPath = "/api/images"
	publicPath = "/public"
)

// NewApp builds the Fiber application. Route order: images, static, mounts, 404.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("request validator is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image builder is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	images := &imageHandler{
		logger:    opts.Logger,
		validator: opts.Validator,
		images:    opts.Images,
	}
	app.Get(ImagesPath, images.Handle)

	if opts.PublicPath != "" {
		app.Use(publicPath, static.New(opts.PublicPath))
	}

	for _, mount := range opts.Mounts {
		if mount != nil {
			mount(app)
		}
	}

	app.Use(notFound)
	return app, nil
}

// requestIDMiddleware 为每个请求生成 uuid，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func notFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Page not found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
