package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	syncdomain "possync/internal/domain/sync"
)

type httpClient struct {
	client    *http.Client
	config    *config.Config
	log       *slog.Logger
	baseURL   string
	userAgent string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) (*httpClient, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &httpClient{
		client:    client,
		config:    cfg,
		log:       log,
		baseURL:   cfg.APIBaseURL,
		userAgent: "PosSync-Client/1.0",
	}, nil
}

// HealthCheck проверяет доступность сервера
func (h *httpClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("сервер недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус: %d", resp.StatusCode)
	}
	return nil
}

// PushOps отправляет пакет операций. Таймаут или 5xx — ошибка: никакое
// подтверждение не предполагается, пока сервер явно не перечислил acked.
func (h *httpClient) PushOps(ctx context.Context, req syncdomain.PushOpsRequest) (*syncdomain.PushOpsResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+"/sync/push_ops", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	h.setHeaders(request)

	h.log.Debug("pushing ops", "count", len(req.Ops), "device", req.DeviceID)

	response, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 500 {
		return nil, fmt.Errorf("server returned status: %d", response.StatusCode)
	}

	var result syncdomain.PushOpsResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		if result.Error != "" {
			return nil, fmt.Errorf("server error: %s", result.Error)
		}
		return nil, fmt.Errorf("server returned status: %d", response.StatusCode)
	}

	return &result, nil
}

// PullRefs запрашивает справочные данные; ненулевое since дает
// инкрементальный ответ
func (h *httpClient) PullRefs(ctx context.Context, since time.Time) (*syncdomain.PullRefsResponse, error) {
	endpoint := h.baseURL + "/sync/pull_refs"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	request, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	h.setHeaders(request)

	response, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		h.log.Debug("pull_refs failed", "status", response.StatusCode, "body", string(body))
		return nil, fmt.Errorf("server returned status: %d", response.StatusCode)
	}

	var result syncdomain.PullRefsResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("server error: %s", result.Error)
	}

	return &result, nil
}

func (h *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if h.config.TenantID != "" {
		req.Header.Set("X-Tenant-ID", h.config.TenantID)
	}
}
