package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdview/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// hist may be nil when history is disabled.
func NewRouter(sess *session.Session, hist History, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(sess, hist)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Document.
	r.Get("/status", h.Status)
	r.Post("/open", h.Open)
	r.Post("/reload", h.Reload)
	r.Post("/convert", h.Convert)

	// Tags.
	r.Get("/tags", h.ListTags)
	r.Post("/tags", h.AddTag)
	r.Delete("/tags", h.DeleteTag)
	r.Post("/tags/jump", h.Jump)

	// History.
	r.Get("/recent", h.Recent)
	r.Delete("/recent", h.ForgetRecent)
	r.Get("/history/search", h.SearchHistory)
	r.Get("/conversions", h.Conversions)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewViewRouter serves the page and its assets. The page is not behind
// auth: a browser cannot attach a bearer token to a plain navigation.
func NewViewRouter(sess *session.Session) chi.Router {
	v := NewViewHandler(sess)

	r := chi.NewRouter()
	r.Get("/", v.Page)
	r.Get(AssetPrefix+"*", v.Asset)
	return r
}
