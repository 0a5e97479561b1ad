package syncapi

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) pushOpsOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-push-ops",
		Method:      http.MethodPost,
		Path:        "/sync/push_ops",
		Summary:     "Принять пакет операций устройства",
		Description: "Применяет операции ровно один раз и возвращает подтвержденные и отклоненные идентификаторы",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pullRefsOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pull-refs",
		Method:      http.MethodGet,
		Path:        "/sync/pull_refs",
		Summary:     "Отдать справочные данные",
		Description: "Возвращает товары, категории и способы оплаты, при наличии since — инкрементально",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}
