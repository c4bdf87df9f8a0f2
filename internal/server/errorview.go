package server

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v3"
)

//go:embed views/*.html
var viewFS embed.FS

var errorView = template.Must(template.ParseFS(viewFS, "views/error.html"))

type errorPage struct {
	Title   string
	Message string
}

// renderError 以 500 渲染错误页；模板渲染失败时退回纯文本。
func renderError(c fiber.Ctx, title, message string) error {
	var buf bytes.Buffer
	if err := errorView.Execute(&buf, errorPage{Title: title, Message: message}); err != nil {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusInternalServerError).SendString(message)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(fiber.StatusInternalServerError).Send(buf.Bytes())
}
