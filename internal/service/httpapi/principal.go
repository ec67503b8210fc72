package httpapi

import (
	"context"
	"net/http"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// Заголовки, которые выставляет шлюз идентификации.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderUserStatus     = "X-User-Status"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type principalKey struct{}

// principalMiddleware достаёт принципала из заголовков. Пустой статус считается active.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.Principal{
			ID:     r.Header.Get(HeaderUserID),
			Role:   domain.Role(r.Header.Get(HeaderUserRole)),
			Status: domain.UserStatus(r.Header.Get(HeaderUserStatus)),
		}
		if p.ID == "" || !p.Role.Valid() {
			respondMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if p.Status == "" {
			p.Status = domain.UserStatusActive
		}
		if !p.Active() {
			respondMessage(w, http.StatusForbidden, "Account is "+string(p.Status))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}
