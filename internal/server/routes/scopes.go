package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mireapp/offline-proxy/internal/logging"
	"github.com/mireapp/offline-proxy/internal/server"
	"github.com/mireapp/offline-proxy/internal/worker"
)

// RegisterScopeRoutes 暴露 /-/scopes 诊断接口与 /-/message 控制通道，
// 供 SRE 查询各 Scope 的代际状态，并让页面发送 SKIP_WAITING。
func RegisterScopeRoutes(app *fiber.App, registry *server.ScopeRegistry, logger *logrus.Logger) {
	if app == nil || registry == nil || logger == nil {
		return
	}

	app.Get("/-/scopes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"scopes": encodeScopes(registry.List())})
	})

	app.Get("/-/scopes/:name", func(c fiber.Ctx) error {
		route, err := lookupScope(c, registry)
		if route == nil {
			return err
		}
		payload := encodeScope(route)
		caches, cacheErr := listCaches(c, route.Controller)
		if cacheErr != nil {
			logger.WithError(cacheErr).WithFields(logging.LifecycleFields("diagnostics", route.Config.Name, route.Scope.Registry.Version)).
				Warn("cache_listing_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_listing_failed"})
		}
		payload.Caches = caches
		return c.JSON(payload)
	})

	app.Post("/-/scopes/:name/update", func(c fiber.Ctx) error {
		route, err := lookupScope(c, registry)
		if route == nil {
			return err
		}
		if route.Controller == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "scope_not_started"})
		}
		if err := route.Controller.Update(c.Context()); err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":  "update_failed",
				"detail": err.Error(),
				"status": route.Controller.Status(),
			})
		}
		return c.JSON(route.Controller.Status())
	})

	app.Post("/-/message", func(c fiber.Ctx) error {
		route, ok := server.RouteFromContext(c)
		if !ok || route.Controller == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "scope_not_found"})
		}
		fields := logging.LifecycleFields("message", route.Config.Name, route.Scope.Registry.Version)
		fields["request_id"] = server.RequestID(c)

		msg, err := worker.ParseMessage(c.Body())
		if err != nil {
			logger.WithError(err).WithFields(fields).Warn("message_ignored")
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"applied": false})
		}
		applied, err := route.Controller.HandleMessage(c.Context(), msg)
		if err != nil {
			logger.WithError(err).WithFields(fields).Warn("message_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"applied": applied})
	})
}

type scopePayload struct {
	Name      string         `json:"name"`
	Domain    string         `json:"domain"`
	Upstream  string         `json:"upstream"`
	Port      int            `json:"port"`
	AuthMode  string         `json:"auth_mode"`
	APIPrefix string         `json:"api_prefix"`
	Precache  []string       `json:"precache"`
	Started   bool           `json:"started"`
	Status    *worker.Status `json:"status,omitempty"`
	Caches    []cachePayload `json:"caches,omitempty"`
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

func lookupScope(c fiber.Ctx, registry *server.ScopeRegistry) (*server.ScopeRoute, error) {
	name := strings.TrimSpace(c.Params("name"))
	if name == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scope_name_required"})
	}
	route, ok := registry.LookupName(name)
	if !ok {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "scope_not_found"})
	}
	return route, nil
}

func encodeScopes(routes []*server.ScopeRoute) []scopePayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]scopePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeScope(route))
	}
	return result
}

func encodeScope(route *server.ScopeRoute) scopePayload {
	payload := scopePayload{
		Name:      route.Config.Name,
		Domain:    route.Scope.Origin,
		Upstream:  route.Config.Upstream,
		Port:      route.ListenPort,
		AuthMode:  route.Config.AuthMode(),
		APIPrefix: route.Scope.APIPrefix,
		Precache:  append([]string(nil), route.Scope.Manifest...),
	}
	if route.Controller != nil {
		status := route.Controller.Status()
		payload.Started = true
		payload.Status = &status
	}
	return payload
}

// listCaches 按创建顺序列出 Scope 的缓存名与条目数。
func listCaches(c fiber.Ctx, ctrl *worker.Controller) ([]cachePayload, error) {
	if ctrl == nil {
		return nil, nil
	}
	storage := ctrl.Storage()
	names, err := storage.Keys(c.Context())
	if err != nil {
		return nil, err
	}
	registry := ctrl.Scope().Registry
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		cache, err := storage.Open(c.Context(), name)
		if err != nil {
			return nil, err
		}
		keys, err := cache.Keys(c.Context())
		if err != nil {
			return nil, err
		}
		result = append(result, cachePayload{Name: name, Entries: len(keys), Current: registry.IsCurrent(name)})
	}
	return result, nil
}
