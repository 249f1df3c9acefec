package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type operatorContextKey struct{}

// Operator is the authenticated API caller.
type Operator struct {
	Name string
	Role string
}

func operatorFrom(ctx context.Context) *Operator {
	if v := ctx.Value(operatorContextKey{}); v != nil {
		return v.(*Operator)
	}
	return nil
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		caller := "-"
		if op := operatorFrom(r.Context()); op != nil {
			caller = op.Name
		}
		s.logger.Printf("RESP %s %s caller=%s status=%d dur=%s bytes=%d",
			r.Method, r.URL.Path, caller, rec.status, time.Since(start), rec.size)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// withAPIKey authenticates the X-Api-Key header against the configured
// operator key hashes. With no operators configured the API runs open, which
// is the single-node development default.
func (s *Server) withAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.Auth.Operators) == 0 {
			ctx := context.WithValue(r.Context(), operatorContextKey{}, &Operator{Name: "anonymous", Role: "admin"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		key := strings.TrimSpace(r.Header.Get("X-Api-Key"))
		if key == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		op := s.matchOperator(key)
		if op == nil {
			s.logger.Printf("AUTH fail %s %s", r.Method, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey{}, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) matchOperator(key string) *Operator {
	for _, candidate := range s.cfg.Auth.Operators {
		if bcrypt.CompareHashAndPassword([]byte(candidate.KeyHash), []byte(key)) == nil {
			role := candidate.Role
			if role == "" {
				role = "viewer"
			}
			return &Operator{Name: candidate.Name, Role: role}
		}
	}
	return nil
}

// requirePermission enforces the casbin policy for the operator's role.
func (s *Server) requirePermission(obj, act string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			op := operatorFrom(r.Context())
			if op == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			allowed, err := s.enforcer.Enforce(op.Role, obj, act)
			if err != nil || !allowed {
				s.logger.Printf("PERM fail %s %s caller=%s role=%s need=%s:%s",
					r.Method, r.URL.Path, op.Name, op.Role, obj, act)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}
