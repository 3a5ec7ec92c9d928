package http

import (
	"net/http"
	"strconv"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/middleware"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
)

func queryString(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

// queryInt returns nil for a missing or non-numeric value.
func queryInt(r *http.Request, key string) *int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func queryBool(r *http.Request, key string) *bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return &b
		}
	}
	return nil
}

func queryPage(r *http.Request) (page, limit int) {
	if p := queryInt(r, "page"); p != nil && *p > 0 {
		page = *p
	}
	if l := queryInt(r, "limit"); l != nil && *l > 0 {
		limit = *l
	}
	return page, limit
}

// actorOrAbort writes a 401 and returns false when the request carries no actor.
func actorOrAbort(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return auth.Actor{}, false
	}
	return actor, true
}
