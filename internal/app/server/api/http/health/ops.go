package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check endpoint",
		Description: "Returns the health status of the service",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) dbCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-db-check",
		Method:      http.MethodGet,
		Path:        "/health/db",
		Summary:     "Database health check",
		Description: "Verifies that the database connection is alive",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
