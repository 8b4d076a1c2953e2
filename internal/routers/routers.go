// Package routers wires the HTTP surface onto the echo server.
package routers

import (
	"net/http"

	"raggate-api/internal/providers"
	"raggate-api/internal/routes/chat"
	"raggate-api/internal/shared"

	"github.com/labstack/echo/v4"
)

// GatewayRouter exposes the normalized wire protocol.
type GatewayRouter struct {
	dispatcher *chat.Dispatcher
	registry   *providers.Registry
}

func RegisterGatewayRoutes(e *echo.Group, dispatcher *chat.Dispatcher, registry *providers.Registry) {
	gr := &GatewayRouter{dispatcher: dispatcher, registry: registry}

	v1 := e.Group("/v1")
	v1.POST("/chat/completions", gr.dispatcher.Handle)
	v1.GET("/models", gr.GetModels)
}

type modelList struct {
	Object string         `json:"object"`
	Data   []shared.Model `json:"data"`
}

// GetModels lists the model ids the routing table can dispatch.
func (gr *GatewayRouter) GetModels(c echo.Context) error {
	ids := gr.registry.Models()
	models := make([]shared.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, shared.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: "raggate",
		})
	}
	return c.JSON(http.StatusOK, modelList{Object: "list", Data: models})
}
