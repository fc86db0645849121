package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/transport"
)

var (
	ErrNoSession = errors.New("no active session, login required")
)

// refreshAhead за сколько до истечения токен обновляется прозрачно.
const refreshAhead = 5 * time.Minute

// Token токен аутентификации с временем истечения.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired проверяет, истёк ли токен (с учётом опережающего окна).
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt.Add(-refreshAhead))
}

// Manager владеет текущей сессией: хранит токен в файле конфигурационной
// директории и прозрачно обновляет его до истечения. Реализует
// transport.TokenSource.
type Manager struct {
	auth      transport.Transport
	log       *slog.Logger
	tokenPath string

	mu    sync.Mutex
	token *Token
}

// New создает менеджер сессии. auth — транспорт без аутентификации,
// используемый только для login/refresh (иначе получился бы цикл).
func New(auth transport.Transport, tokenPath string, log *slog.Logger) *Manager {
	m := &Manager{
		auth:      auth,
		log:       log,
		tokenPath: tokenPath,
	}

	if token, err := m.loadToken(); err == nil {
		m.token = token
		log.Debug("Токен загружен из файла")
	}

	return m
}

// CurrentToken возвращает актуальный токен, при необходимости обновив его.
// Пустая сессия — ошибка ErrNoSession.
func (m *Manager) CurrentToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.AccessToken == "" {
		return "", ErrNoSession
	}

	if m.token.Expired(time.Now()) {
		if err := m.refreshLocked(ctx); err != nil {
			return "", fmt.Errorf("ошибка обновления токена: %w", err)
		}
	}

	return m.token.AccessToken, nil
}

// IsValid сообщает, есть ли действующая сессия (без сетевых вызовов).
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.AccessToken == "" {
		return false
	}
	// Токен с refresh-токеном считается действующим: обновимся прозрачно.
	if m.token.Expired(time.Now()) && m.token.RefreshToken == "" {
		return false
	}
	return true
}

// Refresh принудительно обновляет токен.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return ErrNoSession
	}
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.token.RefreshToken == "" {
		return ErrNoSession
	}

	req := struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: m.token.RefreshToken}

	var resp Token
	if err := m.auth.Request(ctx, http.MethodPost, "/api/v1/auth/refresh", req, &resp); err != nil {
		return err
	}

	m.token = &resp
	if err := m.saveToken(&resp); err != nil {
		m.log.Warn("Не удалось сохранить обновлённый токен", "error", err)
	}

	m.log.Debug("Токен обновлён", "expires_at", resp.ExpiresAt)
	return nil
}

// Login выполняет вход и сохраняет полученный токен.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var resp Token
	if err := m.auth.Request(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp); err != nil {
		return err
	}

	m.mu.Lock()
	m.token = &resp
	err := m.saveToken(&resp)
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	m.log.Info("Вход выполнен успешно", "email", email)
	return nil
}

// Logout сбрасывает сессию и удаляет файл токена.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
	if err := os.Remove(m.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}
	return nil
}

func (m *Manager) loadToken() (*Token, error) {
	data, err := os.ReadFile(m.tokenPath)
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("ошибка парсинга токена: %w", err)
	}
	return &token, nil
}

func (m *Manager) saveToken(token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации токена: %w", err)
	}
	return os.WriteFile(m.tokenPath, data, 0600)
}
