package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/ledger"
)

// UserHeader carries the acting user. It is trusted as-is.
const UserHeader = "X-User-ID"

type ctxKey struct{}

// RequireUser rejects requests without a UserHeader and stores the user in
// the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, ledger.UserID(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) ledger.UserID {
	user, _ := ctx.Value(ctxKey{}).(ledger.UserID)
	return user
}

// RequestLogger logs one line per request through log.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
				}).Info("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
