// Package health отдаёт состояние сервиса для оркестратора: /healthz, /livez, /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status: состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// FuncChecker оборачивает функцию проверки. Ошибка обязательного компонента
// делает сервис unhealthy, необязательного только degraded.
type FuncChecker struct {
	name     string
	fn       func(ctx context.Context) error
	optional bool
	timeout  time.Duration
}

// CheckerOption настраивает FuncChecker.
type CheckerOption func(*FuncChecker)

// Optional помечает компонент как необязательный (например, кэш).
func Optional() CheckerOption {
	return func(c *FuncChecker) {
		c.optional = true
	}
}

// WithTimeout ограничивает длительность проверки.
func WithTimeout(d time.Duration) CheckerOption {
	return func(c *FuncChecker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker создаёт проверку компонента name.
func NewChecker(name string, fn func(ctx context.Context) error, opts ...CheckerOption) *FuncChecker {
	c := &FuncChecker{name: name, fn: fn, timeout: defaultCheckTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name возвращает имя компонента.
func (c *FuncChecker) Name() string { return c.name }

// Check выполняет проверку с таймаутом.
func (c *FuncChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusUnhealthy
		if c.optional {
			check.Status = StatusDegraded
		}
	}
	return check
}

// Handler собирает проверки и отдаёт их по HTTP.
type Handler struct {
	mu           sync.RWMutex
	checkers     []Checker
	version      string
	startTime    time.Time
	shuttingDown atomic.Bool
}

// NewHandler создаёт handler для версии сборки version.
func NewHandler(version string) *Handler {
	return &Handler{version: version, startTime: time.Now()}
}

// Register добавляет проверку.
func (h *Handler) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// SetShuttingDown переводит readiness в 503, пока сервис дорабатывает запросы.
func (h *Handler) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// Run выполняет все проверки и сводит общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	for _, checker := range checkers {
		check := checker.Check(ctx)
		resp.Checks[checker.Name()] = check
		switch {
		case check.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case check.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// ServeHTTP отдаёт полный отчёт /healthz.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Live: liveness probe: процесс жив.
func Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready: readiness probe: обязательные компоненты доступны и сервис не останавливается.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	resp := h.Run(r.Context())
	if resp.Status == StatusUnhealthy {
		failed := make([]string, 0, len(resp.Checks))
		for name, check := range resp.Checks {
			if check.Status == StatusUnhealthy {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)
		http.Error(w, "not ready: "+strings.Join(failed, ","), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
