package router

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const pathParamsContextKey = contextKey("pathParams")

// SimpleRouter matches routes in registration order.
type SimpleRouter struct {
	routes []route
}

// route stores information for a single route
type route struct {
	method   string   // e.g., "GET", "POST"; empty matches any method
	segments []string // Pattern split on "/"; "{name}" segments capture a value
	prefix   string   // Set for prefix routes instead of segments
	handler  http.Handler
}

func New() *SimpleRouter {
	return &SimpleRouter{}
}

// Handle adds a route for method and pattern. A pattern segment written as
// {name} matches any single non-empty segment and is available through Param.
func (r *SimpleRouter) Handle(method, pattern string, handler http.Handler) {
	r.routes = append(r.routes, route{
		method:   method,
		segments: split(pattern),
		handler:  handler,
	})
}

// HandleFunc is Handle for plain functions.
func (r *SimpleRouter) HandleFunc(method, pattern string, fn func(http.ResponseWriter, *http.Request)) {
	r.Handle(method, pattern, http.HandlerFunc(fn))
}

// HandlePrefix adds a route matching every path under prefix.
// Note: More specific paths should generally be registered *before* broader prefixes
func (r *SimpleRouter) HandlePrefix(method, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/" // Ensure prefix paths end with a slash for clarity
	}
	r.routes = append(r.routes, route{
		method:  method,
		prefix:  prefix,
		handler: handler,
	})
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match reports whether path fits the pattern and returns the captured parameters.
func (rt route) match(path []string) (map[string]string, bool) {
	if len(path) != len(rt.segments) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range rt.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if path[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:len(seg)-1]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// ServeHTTP makes SimpleRouter implement http.Handler. A path that matches
// only routes of other methods gets 405.
func (r *SimpleRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := split(req.URL.Path)
	methodMismatch := false

	for _, rt := range r.routes {
		var params map[string]string
		if rt.prefix != "" {
			if !strings.HasPrefix(req.URL.Path, rt.prefix) {
				continue
			}
		} else {
			p, ok := rt.match(path)
			if !ok {
				continue
			}
			params = p
		}

		if rt.method != "" && rt.method != req.Method {
			methodMismatch = true
			continue
		}

		if params != nil {
			req = req.WithContext(context.WithValue(req.Context(), pathParamsContextKey, params))
		}
		rt.handler.ServeHTTP(w, req)
		return
	}

	if methodMismatch {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	http.NotFound(w, req)
}

// Param returns the path parameter name captured by ServeHTTP, or "".
func Param(ctx context.Context, name string) string {
	params, ok := ctx.Value(pathParamsContextKey).(map[string]string)
	if !ok {
		return ""
	}
	return params[name]
}
