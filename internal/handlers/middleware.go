package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Daneel-Li/clubpay/internal/services"
)

type Middleware func(http.HandlerFunc) http.HandlerFunc

// WithMidWare wraps finalHandler so that the last middleware runs first.
func WithMidWare(finalHandler http.HandlerFunc, middlwares ...Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := finalHandler
		for _, m := range middlwares {
			f = m(f)
		}
		f(w, r)
	}
}

// ApiAuthCheck requires the appKey header to equal apiKey. An empty apiKey
// turns the check off.
func ApiAuthCheck(apiKey string) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" && r.Header.Get("appKey") != apiKey {
				http.Error(w, "Invalid appKey", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		}
	}
}

// JWTMiddleware resolves the Authorization token to a user id and stores it
// in the request context under "userid".
func JWTMiddleware(jwt services.JWTService) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if len(tokenString) < 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userid, err := jwt.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			slog.Debug(fmt.Sprintf("[%s] %s userid:[%v]", r.Method, r.URL.Path, userid))
			ctx := context.WithValue(r.Context(), "userid", userid)
			h.ServeHTTP(w, r.WithContext(ctx))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs method, path, status and latency of every request.
func AccessLog(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "latency", time.Since(start))
	}
}
