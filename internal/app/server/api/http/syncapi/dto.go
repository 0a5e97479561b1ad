package syncapi

import (
	"time"

	"possync/internal/domain/sync"
)

type pushOpsInput struct {
	Body sync.PushOpsRequest
}

type pushOpsOutput struct {
	Body sync.PushOpsResponse
}

type pullRefsInput struct {
	Since time.Time `query:"since" required:"false" doc:"Возвращать только записи, измененные после этого момента (RFC3339)"`
}

type pullRefsOutput struct {
	Body sync.PullRefsResponse
}
