package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/thumb-hub/thumb-hub/internal/cache"
	"github.com/thumb-hub/thumb-hub/internal/source"
	"github.com/thumb-hub/thumb-hub/internal/thumbnail"
	"github.com/thumb-hub/thumb-hub/internal/transform"
)

func TestImagesRouteBuildsAndCachesThumbnail(t *testing.T) {
	app := newTestApp(t, "fjord", "icelandwaterfall")

	resp := doRequest(t, app.App, "/api/images?filename=fjord&width=400&height=700")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != mimeJPEG {
		t.Fatalf("expected image/jpeg, got %s", ct)
	}
	if hit := resp.Header.Get(headerCacheHit); hit != "false" {
		t.Fatalf("first request should miss cache, got %s", hit)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatalf("expected non-empty image body")
	}

	cached := thumbnail.ResolvePath(app.storageDir, "fjord", 700, 400)
	onDisk, err := os.ReadFile(cached)
	if err != nil {
		t.Fatalf("expected cached thumbnail at %s: %v", cached, err)
	}
	if !bytes.Equal(onDisk, body) {
		t.Fatalf("cached file differs from response body")
	}

	again := doRequest(t, app.App, "/api/images?filename=fjord&width=400&height=700")
	if hit := again.Header.Get(headerCacheHit); hit != "true" {
		t.Fatalf("second request should hit cache, got %s", hit)
	}
	againBody, _ := io.ReadAll(again.Body)
	if !bytes.Equal(againBody, body) {
		t.Fatalf("cache hit should serve identical bytes")
	}
}

func TestImagesRouteListsFilenamesWhenMissing(t *testing.T) {
	app := newTestApp(t, "fjord", "icelandwaterfall")

	resp := doRequest(t, app.App, "/api/images")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	want := "Please pass a valid filename in the 'filename' query segment. Available filenames are: fjord, icelandwaterfall."
	if string(body) != want {
		t.Fatalf("unexpected body: %s", string(body))
	}

	matches, _ := filepath.Glob(filepath.Join(app.storageDir, "*.jpg"))
	if len(matches) != 0 {
		t.Fatalf("validation failure must not create cache files, found %v", matches)
	}
}

func TestImagesRouteRejectsBadDimension(t *testing.T) {
	app := newTestApp(t, "fjord")

	resp := doRequest(t, app.App, "/api/images?filename=fjord&width=abc&height=100")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Please provide a positive numerical value for the 'width' query segment." {
		t.Fatalf("unexpected body: %s", string(body))
	}
}

func TestImagesRouteRejectsTraversalFilename(t *testing.T) {
	app := newTestApp(t, "fjord")

	resp := doRequest(t, app.App, "/api/images?filename=../etc/passwd&width=10&height=10")
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "Please pass a valid filename") {
		t.Fatalf("expected filename rejection, got %s", string(body))
	}
}

func TestImagesRoutePassthroughServesOriginal(t *testing.T) {
	app := newTestApp(t, "fjord")

	resp := doRequest(t, app.App, "/api/images?filename=fjord")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	original, err := os.ReadFile(filepath.Join(app.sourceDir, "fjord"+source.Ext))
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if !bytes.Equal(body, original) {
		t.Fatalf("pass-through should return the original bytes")
	}
}

func TestImagesRouteRendersErrorView(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	failing := imageBuilderFunc(func(context.Context, thumbnail.Request) (*thumbnail.Result, error) {
		return nil, &thumbnail.PersistError{Path: "images/thumbnails/fjord10x10.jpg", Err: errors.New("read-only file system")}
	})
	app, err := NewApp(AppOptions{
		Logger:    logger,
		Validator: thumbnail.NewValidator(staticNames{"fjord"}, logger, nil),
		Images:    failing,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	resp := doRequest(t, app, "/api/images?filename=fjord&width=10&height=10")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html error view, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("read-only file system")) {
		t.Fatalf("error view should carry the message, got %s", string(body))
	}
	if !bytes.Contains(body, []byte("Unable to store thumbnail")) {
		t.Fatalf("error view should carry the title, got %s", string(body))
	}
}

func TestImagesRouteRendersTransformFailure(t *testing.T) {
	app := newTestApp(t, "fjord")
	if err := os.WriteFile(filepath.Join(app.sourceDir, "broken"+source.Ext), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatalf("write broken source: %v", err)
	}

	resp := doRequest(t, app.App, "/api/images?filename=broken&width=10&height=10")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html error view, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("Unable to process image")) {
		t.Fatalf("error view should carry the transform title, got %s", string(body))
	}
	if !bytes.Contains(body, []byte("transform broken")) {
		t.Fatalf("error view should carry the failing filename, got %s", string(body))
	}

	if _, err := os.Stat(thumbnail.ResolvePath(app.storageDir, "broken", 10, 10)); !os.IsNotExist(err) {
		t.Fatalf("failed transform must not leave a cache file, got %v", err)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	app := newTestApp(t, "fjord")

	resp := doRequest(t, app.App, "/nope")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"error":"Page not found"}` {
		t.Fatalf("unexpected 404 body: %s", string(body))
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header on 404")
	}
}

func TestPublicAssetsAreServed(t *testing.T) {
	app := newTestApp(t, "fjord")
	if err := os.WriteFile(filepath.Join(app.publicDir, "index.html"), []byte("<h1>thumb-hub</h1>"), 0o644); err != nil {
		t.Fatalf("write public file: %v", err)
	}

	resp := doRequest(t, app.App, "/public/index.html")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<h1>thumb-hub</h1>" {
		t.Fatalf("unexpected public body: %s", string(body))
	}
}

func TestMountsRegisterBeforeNotFound(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:    logger,
		Validator: thumbnail.NewValidator(staticNames{}, logger, nil),
		Images:    imageBuilderFunc(func(context.Context, thumbnail.Request) (*thumbnail.Result, error) { return nil, nil }),
		Mounts: []Mount{func(app *fiber.App) {
			app.Get("/-/ping", func(c fiber.Ctx) error { return c.SendString("pong") })
		}},
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	resp := doRequest(t, app, "/-/ping")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("mounted route should be reachable, got %d", resp.StatusCode)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error when logger is missing")
	}
}

type testApp struct {
	*fiber.App
	sourceDir  string
	storageDir string
	publicDir  string
}

func newTestApp(t *testing.T, names ...string) *testApp {
	t.Helper()

	sourceDir := t.TempDir()
	for _, name := range names {
		writeJPEG(t, filepath.Join(sourceDir, name+source.Ext))
	}
	src, err := source.NewFSStore(sourceDir)
	if err != nil {
		t.Fatalf("failed to create source store: %v", err)
	}

	storageDir := t.TempDir()
	store, err := cache.NewStore(storageDir)
	if err != nil {
		t.Fatalf("failed to create cache store: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	manager, err := thumbnail.NewManager(thumbnail.Options{
		Source:      src,
		Transformer: transform.NewImaging(85),
		Store:       store,
		Policy:      cache.NewPolicy(0, true, 0),
		StorageDir:  storageDir,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	publicDir := t.TempDir()
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Validator:  thumbnail.NewValidator(src, logger, nil),
		Images:     manager,
		PublicPath: publicDir,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, sourceDir: sourceDir, storageDir: storageDir, publicDir: publicDir}
}

func doRequest(t *testing.T, app *fiber.App, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", "http://thumb.local"+target, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for x := 0; x < 80; x++ {
		for y := 0; y < 60; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 4), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write jpeg: %v", err)
	}
}

type imageBuilderFunc func(context.Context, thumbnail.Request) (*thumbnail.Result, error)

func (f imageBuilderFunc) FetchOrBuild(ctx context.Context, req thumbnail.Request) (*thumbnail.Result, error) {
	return f(ctx, req)
}

type staticNames []string

func (s staticNames) Names(context.Context) ([]string, error) {
	return []string(s), nil
}
