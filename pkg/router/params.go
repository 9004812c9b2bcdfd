package router

import (
	"context"
	"net/http"
)

type paramsKey struct{}

// Params holds the values of a route's named parameters.
type Params map[string]string

// Get returns the value of key, or "" when the route has no such
// parameter.
func (p Params) Get(key string) string {
	return p[key]
}

// WithParams returns a context carrying params.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// ParamsFromContext extracts the parameters of the matched route.
func ParamsFromContext(ctx context.Context) (Params, bool) {
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// Param returns one parameter of the route r matched.
func Param(r *http.Request, key string) string {
	params, _ := ParamsFromContext(r.Context())
	return params.Get(key)
}
