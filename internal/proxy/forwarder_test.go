package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/mireapp/offline-proxy/internal/config"
	"github.com/mireapp/offline-proxy/internal/server"
)

const requestIDKey = "_offline_proxy_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)

	if err := forwarder.Handle(ctx, testRoute()); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "worker_handler_missing") {
		t.Fatalf("expected error body to mention worker_handler_missing, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "worker_handler_missing") {
		t.Fatalf("expected log to mention worker_handler_missing, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(server.ProxyHandlerFunc(func(fiber.Ctx, *server.ScopeRoute) error {
		panic("boom")
	}), logger)

	if err := forwarder.Handle(ctx, testRoute()); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "worker_handler_panic") {
		t.Fatalf("expected error body to mention worker_handler_panic, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "worker_handler_panic") {
		t.Fatalf("expected log to mention worker_handler_panic, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "panic-req" {
		t.Fatalf("expected request id header panic-req, got %s", got)
	}
}

func testRoute() *server.ScopeRoute {
	return &server.ScopeRoute{
		Config: config.ScopeConfig{
			Name:   "test",
			Domain: "test.local",
		},
	}
}
