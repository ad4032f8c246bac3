package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"rel-graphql/internal/observability"
)

// GraphQLMetricsMiddleware times GraphQL requests and installs the request
// metrics on the context so resolvers can record per-root-field samples
// against the same instruments.
func GraphQLMetricsMiddleware(metrics *observability.RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// GET serves GraphiQL page loads; only posted operations count.
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.ContextWithRequestMetrics(r.Context(), metrics)
			r = r.WithContext(ctx)

			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			start := time.Now()

			operationType := "unknown"
			query, operationName := extractGraphQLRequest(r)
			if opType := requestOperationType(query, operationName); opType != "" {
				operationType = opType
			}

			wrapped := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			hasErrors := wrapped.statusCode >= 400 || responseHasGraphQLErrors(wrapped.body.Bytes())

			metrics.RecordRequest(ctx, duration, hasErrors, operationType)
		})
	}
}

// metricsResponseWriter captures the status code and a copy of the body so
// the middleware can spot GraphQL errors delivered with a 200.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
}

func (w *metricsResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	if len(b) > 0 {
		_, _ = w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// responseHasGraphQLErrors reports whether the response body carries a
// non-empty errors array.
func responseHasGraphQLErrors(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}

	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return false
	}
	if len(payload.Errors) == 0 {
		return false
	}

	errorsValue := bytes.TrimSpace(payload.Errors)
	if len(errorsValue) == 0 || bytes.Equal(errorsValue, []byte("null")) {
		return false
	}

	var errorsList []json.RawMessage
	if err := json.Unmarshal(errorsValue, &errorsList); err != nil {
		return false
	}
	return len(errorsList) > 0
}
