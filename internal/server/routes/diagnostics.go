package routes

import (
	"context"
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/thumb-hub/thumb-hub/internal/cache"
	"github.com/thumb-hub/thumb-hub/internal/metrics"
	"github.com/thumb-hub/thumb-hub/internal/server"
	"github.com/thumb-hub/thumb-hub/internal/version"
)

// EntryLister 返回缓存索引中的全部记录。
type EntryLister interface {
	Entries(ctx context.Context) ([]cache.Record, error)
}

// Diagnostics 返回挂载诊断接口的 server.Mount。
func Diagnostics(tracker *metrics.Tracker, entries EntryLister) server.Mount {
	return func(app *fiber.App) {
		RegisterDiagnosticsRoutes(app, tracker, entries)
	}
}

// RegisterDiagnosticsRoutes 暴露 /-/stats 与 /-/cache，供 SRE 查看延迟分位数与缓存内容。
func RegisterDiagnosticsRoutes(app *fiber.App, tracker *metrics.Tracker, entries EntryLister) {
	if app == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(statsPayload{
			Version:  version.Full(),
			Snapshot: tracker.Snapshot(),
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		if entries == nil {
			return c.JSON(encodeEntries(nil))
		}
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		records, err := entries.Entries(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_index_unavailable"})
		}
		return c.JSON(encodeEntries(records))
	})
}

type statsPayload struct {
	Version string `json:"version"`
	metrics.Snapshot
}

type cachePayload struct {
	Count      int            `json:"count"`
	TotalBytes int64          `json:"total_bytes"`
	Entries    []cache.Record `json:"entries"`
}

func encodeEntries(records []cache.Record) cachePayload {
	payload := cachePayload{Entries: []cache.Record{}}
	if len(records) == 0 {
		return payload
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})
	for _, rec := range records {
		payload.TotalBytes += rec.SizeBytes
	}
	payload.Count = len(records)
	payload.Entries = records
	return payload
}
