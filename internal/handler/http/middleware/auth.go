package middleware

import (
	"context"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/go-chi/jwtauth/v5"
)

type actorKey struct{}

// AuthRequired rejects requests without a valid access token and stores the
// caller's Actor in the request context.
func AuthRequired(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())

			if err != nil {
				response.Unauthorized(w, err.Error())
				return
			}

			if token == nil {
				response.HandleError(w, auth.ErrInvalidToken)
				return
			}

			claims, err := token.AsMap(r.Context())
			if err != nil {
				response.HandleError(w, auth.ErrInvalidToken)
				return
			}
			tokenType, ok := claims[jwt.ClaimType].(string)
			if tokenType != jwt.TokenTypeAccess || !ok {
				response.HandleError(w, auth.ErrInvalidToken)
				return
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				response.HandleError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		}
		return http.HandlerFunc(hfn)
	}
}

func actorFromClaims(claims map[string]interface{}) (auth.Actor, error) {
	userID, _ := claims[jwt.ClaimUserID].(string)
	role, _ := claims[jwt.ClaimRole].(string)
	if userID == "" || role == "" {
		return auth.Actor{}, auth.ErrMissingActor
	}

	actor := auth.Actor{UserID: userID, Role: policy.Role(role)}
	if clientID, ok := claims[jwt.ClaimClientID].(string); ok && clientID != "" {
		actor.ClientID = &clientID
	}
	return actor, nil
}

// ActorFromContext returns the Actor stored by AuthRequired.
func ActorFromContext(ctx context.Context) (auth.Actor, error) {
	actor, ok := ctx.Value(actorKey{}).(auth.Actor)
	if !ok {
		return auth.Actor{}, auth.ErrMissingActor
	}
	return actor, nil
}

// WithActor stores actor in ctx. Handlers read it back with ActorFromContext.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}
