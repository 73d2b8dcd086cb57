package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cloudstore/internal/session"
)

// requestIDHeader はレスポンスにリクエストIDを返すヘッダー名。
const requestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// StatusRecorder はHTTPステータスの記録先。metrics.MetricsCollectorの部分集合。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user（認証済みの場合）を含む。
// セッションミドルウェアより内側に置くこと。
func NewLoggingMiddleware(logger *slog.Logger, recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := uuid.NewString()
			w.Header().Set(requestIDHeader, requestID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, requestID))

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// パニックした場合もログとメトリクスを残す。ステータスは外側の
			// リカバリーミドルウェアが返す500として扱う。
			completed := false
			defer func() {
				status := rec.statusCode
				if !completed {
					status = http.StatusInternalServerError
				}

				duration := time.Since(start)
				durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

				args := []any{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", status),
					slog.Float64("duration_ms", durationMs),
					slog.String("request_id", requestID),
				}
				if user, ok := session.UserFromContext(r.Context()); ok {
					args = append(args, slog.String("user", user))
				}

				level := slog.LevelInfo
				if status >= 500 {
					level = slog.LevelError
				} else if status >= 400 {
					level = slog.LevelWarn
				}

				logger.Log(r.Context(), level, "http_request", args...)

				if recorder != nil {
					recorder.RecordHTTPStatus(status)
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}

// RequestIDFromContext はロギングミドルウェアが採番したリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
