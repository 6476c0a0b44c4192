package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/logger"
)

// ScopeHeader carries the id of the scope that served a request.
const ScopeHeader = "X-Scope-ID"

// ScopeMiddleware opens a registry scope for every request, stores it in
// the request context and disposes it when the handler returns or panics.
// Handlers reach it with di.ScopeFromContext.
func ScopeMiddleware(reg *di.Registry, l logger.Logger) func(http.Handler) http.Handler {
	l = logger.OrNoop(l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := reg.CreateScope()
			defer func() {
				if err := scope.Dispose(r.Context()); err != nil {
					l.Warn("request scope dispose failed",
						logger.ScopeID(scope.ID()),
						logger.Error(err),
					)
				}
			}()

			ctx := di.ContextWithScope(r.Context(), scope)
			ctx = logger.WithScopeID(ctx, scope.ID())
			if reqID := middleware.GetReqID(ctx); reqID != "" {
				ctx = logger.WithRequestID(ctx, reqID)
			}

			w.Header().Set(ScopeHeader, scope.ID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
