package router

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Route is a registered handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler

	segments []segment
}

type segmentKind int

const (
	literal segmentKind = iota
	param
	wildcard
)

type segment struct {
	kind segmentKind
	text string
}

// Router dispatches requests to the first route whose method and pattern
// match.
type Router struct {
	mu         sync.RWMutex
	routes     []Route
	middleware []Middleware
	notFound   http.Handler
}

// New creates a Router that answers unmatched paths with 404 and matched
// paths with the wrong method with 405.
func New() *Router {
	return &Router{notFound: http.NotFoundHandler()}
}

// GET registers a GET route.
func (r *Router) GET(pattern string, handler http.Handler) {
	r.Handle(http.MethodGet, pattern, handler)
}

// POST registers a POST route.
func (r *Router) POST(pattern string, handler http.Handler) {
	r.Handle(http.MethodPost, pattern, handler)
}

// DELETE registers a DELETE route.
func (r *Router) DELETE(pattern string, handler http.Handler) {
	r.Handle(http.MethodDelete, pattern, handler)
}

// Handle registers handler for method and pattern. It panics on a
// malformed pattern.
func (r *Router) Handle(method, pattern string, handler http.Handler) {
	segments, err := compile(pattern)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route{Method: method, Pattern: pattern, Handler: handler, segments: segments})
}

// HandleFunc registers a handler function.
func (r *Router) HandleFunc(method, pattern string, fn http.HandlerFunc) {
	r.Handle(method, pattern, fn)
}

func compile(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("router: pattern %q must start with /", pattern)
	}
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	if parts[0] == "" {
		return nil, nil
	}
	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":") && len(part) > 1:
			segments = append(segments, segment{param, part[1:]})
		case strings.HasPrefix(part, "*"):
			if i != len(parts)-1 {
				return nil, fmt.Errorf("router: wildcard must end pattern %q", pattern)
			}
			name := part[1:]
			if name == "" {
				name = "wildcard"
			}
			segments = append(segments, segment{wildcard, name})
		case part == "":
			return nil, fmt.Errorf("router: empty segment in pattern %q", pattern)
		default:
			segments = append(segments, segment{literal, part})
		}
	}
	return segments, nil
}

// match returns the parameters of path under segments, or nil. A wildcard
// captures the rest of the path with its leading slash.
func match(segments []segment, path string) Params {
	rest := strings.TrimPrefix(path, "/")
	params := Params{}
	for _, seg := range segments {
		if seg.kind == wildcard {
			params[seg.text] = "/" + rest
			return params
		}
		if rest == "" {
			return nil
		}
		part, tail, _ := strings.Cut(rest, "/")
		switch seg.kind {
		case literal:
			if part != seg.text {
				return nil
			}
		case param:
			params[seg.text] = part
		}
		rest = tail
	}
	if strings.Trim(rest, "/") != "" {
		return nil
	}
	return params
}

// ServeHTTP runs the global middleware around the matched route.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	routes := r.routes
	middleware := r.middleware
	notFound := r.notFound
	r.mu.RUnlock()

	var handler http.Handler
	var allowed []string
	for _, route := range routes {
		params := match(route.segments, req.URL.Path)
		if params == nil {
			continue
		}
		if route.Method != req.Method {
			allowed = append(allowed, route.Method)
			continue
		}
		req = req.WithContext(WithParams(req.Context(), params))
		handler = route.Handler
		break
	}
	if handler == nil {
		if len(allowed) > 0 {
			slices.Sort(allowed)
			allow := strings.Join(slices.Compact(allowed), ", ")
			handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Allow", allow)
				http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			})
		} else {
			handler = notFound
		}
	}

	Chain(middleware...)(handler).ServeHTTP(w, req)
}

// Use appends global middleware. It runs for unmatched requests too.
func (r *Router) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middlewares...)
}

// SetNotFoundHandler replaces the 404 handler.
func (r *Router) SetNotFoundHandler(handler http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = handler
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes)
}
