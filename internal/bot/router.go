// Package bot turns inbound chat messages into commands against the
// directory, registry and survey services.
package bot

import (
	"context"
	"regexp"
	"strings"

	"feedbot/internal/gateway"
)

// CommandAnswer names the fallback route taken by text matching no command
const CommandAnswer = "answer"

// HandlerFunc handles one inbound message
type HandlerFunc func(ctx context.Context, in gateway.Inbound) error

type route struct {
	name    string
	pattern *regexp.Regexp
	handler HandlerFunc
}

// Router selects the handler of the first route whose pattern matches the
// message text. Routes are tested in registration order.
type Router struct {
	routes   []route
	fallback HandlerFunc
}

// NewRouter creates a router sending unmatched text to fallback
func NewRouter(fallback HandlerFunc) *Router {
	return &Router{fallback: fallback}
}

// Handle appends a route. pattern must compile.
func (r *Router) Handle(name, pattern string, h HandlerFunc) {
	r.routes = append(r.routes, route{
		name:    name,
		pattern: regexp.MustCompile(pattern),
		handler: h,
	})
}

// Match returns the name and handler for text
func (r *Router) Match(text string) (string, HandlerFunc) {
	for _, rt := range r.routes {
		if rt.pattern.MatchString(text) {
			return rt.name, rt.handler
		}
	}
	return CommandAnswer, r.fallback
}

// Commands returns the route names in match order
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.name)
	}
	return names
}

// Argument strips the leading command from text and trims the rest
func Argument(text, command string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, command))
}
