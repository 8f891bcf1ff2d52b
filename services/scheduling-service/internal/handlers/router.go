package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// API builds the versioned API router. authn must place a tenancy principal on the context;
// the after middlewares run once it has, so they may key on the verified organization.
func API(authn func(http.Handler) http.Handler, sched *SchedulingHandler, hrs *HoursHandler, after ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)
	r.Use(after...)
	sched.Routes(r)
	hrs.Routes(r)
	return r
}
