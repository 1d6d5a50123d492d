package server

import (
	"context"
	"net/http"

	"github.com/kfsoftware/drivenet/auth"
	"github.com/kfsoftware/drivenet/config"
	"github.com/kfsoftware/drivenet/log"
	"github.com/lithammer/shortuuid/v3"
)

const requestIDHeader = "X-Request-Id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = shortuuid.New()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), config.RequestIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		w.Header().Set("Access-Control-Expose-Headers", "X-Total-Count, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(config.UserCtxKey).(*auth.Claims)
	return claims
}

// authenticated rejects requests without a valid, unexpired access token.
func (a *DriveNetAPIServer) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Issuer.VerifyAccess(auth.BearerToken(r), false)
		if err != nil {
			log.Debugf("rejected %s %s: %v", r.Method, r.URL.Path, err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), config.UserCtxKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// refreshable requires a valid refresh cookie together with an access token
// signed by this server, which may have expired.
func (a *DriveNetAPIServer) refreshable(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Issuer.VerifyRefresh(auth.RefreshCookie(r)); err != nil {
			log.Debugf("refresh rejected: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := a.Issuer.VerifyAccess(auth.BearerToken(r), true)
		if err != nil {
			log.Debugf("refresh rejected: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), config.UserCtxKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
