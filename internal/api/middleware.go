package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/shaiso/Forge/internal/domain"
)

// RemoteUserHeader — заголовок доверенного прокси с идентичностью
// вызывающего. Прокси терминирует аутентификацию и выставляет заголовок;
// напрямую из внешней сети API недостижим.
const RemoteUserHeader = "X-Remote-User"

// Middleware — функция-обёртка для http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain применяет middleware в порядке слева направо.
// Chain(m1, m2)(handler) = m1(m2(handler))
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging логирует HTTP запросы.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Обёртка для захвата статуса ответа
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recovery восстанавливается после паники.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					InternalError(w, logger, nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Identity извлекает идентичность вызывающего из заголовка прокси и
// кладёт её в контекст запроса. Отсутствующий заголовок — анонимный
// вызывающий, не ошибка.
func Identity() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := domain.CallerContext{}
			if user := r.Header.Get(RemoteUserHeader); user != "" {
				caller = domain.CallerContext{Identity: user, Authenticated: true}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireUser отклоняет анонимные запросы с 401. disabled выключает
// проверку целиком (развёртывание без аутентифицирующего прокси).
func RequireUser(disabled bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !disabled && !CallerFrom(r.Context()).Authenticated {
				Unauthorized(w, "authentication is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Ключ контекста для идентичности вызывающего.
type ctxKey string

const ctxCaller ctxKey = "caller"

// WithCaller кладёт идентичность вызывающего в контекст.
func WithCaller(ctx context.Context, caller domain.CallerContext) context.Context {
	return context.WithValue(ctx, ctxCaller, caller)
}

// CallerFrom извлекает идентичность вызывающего из контекста.
// Без middleware Identity возвращает анонимного вызывающего.
func CallerFrom(ctx context.Context) domain.CallerContext {
	if caller, ok := ctx.Value(ctxCaller).(domain.CallerContext); ok {
		return caller
	}
	return domain.CallerContext{}
}

// responseWriter — обёртка для захвата статуса ответа.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader запоминает статус перед отправкой.
func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
