package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	actorKey        contextKey = "actor"
	rateSubjectKey  contextKey = "rate_subject"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetActor stores the authenticated identity on ctx.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the identity set by Authenticate.
func GetActor(r *http.Request) (string, bool) {
	actor, ok := r.Context().Value(actorKey).(string)
	return actor, ok && actor != ""
}

func setRateSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, rateSubjectKey, subject)
}

func getRateSubject(r *http.Request) (string, bool) {
	subject, ok := r.Context().Value(rateSubjectKey).(string)
	return subject, ok
}

// SetScopes stores granted scopes on ctx.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}
