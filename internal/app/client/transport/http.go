package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/exp/slog"
)

// HTTPTransport реализация Transport поверх net/http
type HTTPTransport struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	tokens    TokenSource
	userAgent string
}

// NewHTTP создает HTTP-транспорт. tokens может быть nil — тогда запросы
// уходят без аутентификации.
func NewHTTP(baseURL string, tokens TokenSource, log *slog.Logger) *HTTPTransport {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &HTTPTransport{
		client:    client,
		log:       log,
		baseURL:   baseURL,
		tokens:    tokens,
		userAgent: "TaleKeeper-Client/1.0",
	}
}

// Request выполняет запрос и декодирует ответ в out.
func (h *HTTPTransport) Request(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if err := h.authorize(ctx, req); err != nil {
		return err
	}

	h.log.Debug("Отправка запроса", "method", method, "url", req.URL.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}

	return h.parseResponse(resp, out)
}

// Upload загружает бинарные данные и возвращает URL ресурса.
func (h *HTTPTransport) Upload(ctx context.Context, data []byte, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", h.userAgent)
	if err := h.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: err.Error()}
	}

	var uploadResp struct {
		URL string `json:"url"`
	}
	if err := h.parseResponse(resp, &uploadResp); err != nil {
		return "", err
	}

	return uploadResp.URL, nil
}

// Delete удаляет удалённый ресурс.
func (h *HTTPTransport) Delete(ctx context.Context, path string) error {
	return h.Request(ctx, http.MethodDelete, path, nil, nil)
}

func (h *HTTPTransport) authorize(ctx context.Context, req *http.Request) error {
	if h.tokens == nil {
		return nil
	}
	token, err := h.tokens.CurrentToken(ctx)
	if err != nil {
		return &Error{Kind: KindUnauthorized, Message: err.Error()}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (h *HTTPTransport) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("ошибка чтения ответа: %v", err)}
	}

	h.log.Debug("Получен ответ", "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		return h.mapError(resp, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}

	return nil
}

// mapError переводит статус ответа в типизированную ошибку транспорта.
func (h *HTTPTransport) mapError(resp *http.Response, body []byte) error {
	var errResp struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields,omitempty"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error
	if msg == "" {
		msg = fmt.Sprintf("статус %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, Message: msg}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: msg}
	case resp.StatusCode == http.StatusConflict:
		// Сервер прикладывает свою актуальную версию записи.
		return &Error{Kind: KindUnknown, Message: msg, Conflict: body}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return &Error{Kind: KindValidation, Message: msg, Fields: errResp.Fields}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Message: msg, ResetAt: parseRateLimitReset(resp)}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServer, Message: msg}
	default:
		return &Error{Kind: KindUnknown, Message: msg}
	}
}

func parseRateLimitReset(resp *http.Response) time.Time {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Now().Add(time.Minute)
}
