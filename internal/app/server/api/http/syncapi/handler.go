package syncapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pushOpsOp(), h.pushOps)
	huma.Register(api, h.pullRefsOp(), h.pullRefs)
}

func (h *Handler) pushOps(ctx context.Context, input *pushOpsInput) (*pushOpsOutput, error) {
	response, err := h.service.ProcessPushOps(ctx, input.Body)
	if err != nil {
		return &pushOpsOutput{
			Body: sync.PushOpsResponse{
				OK:    false,
				Error: err.Error(),
			},
		}, nil
	}

	return &pushOpsOutput{
		Body: *response,
	}, nil
}

func (h *Handler) pullRefs(ctx context.Context, input *pullRefsInput) (*pullRefsOutput, error) {
	response, err := h.service.GetRefs(ctx, input.Since)
	if err != nil {
		return &pullRefsOutput{
			Body: sync.PullRefsResponse{
				OK:    false,
				Error: err.Error(),
			},
		}, nil
	}

	return &pullRefsOutput{
		Body: *response,
	}, nil
}
