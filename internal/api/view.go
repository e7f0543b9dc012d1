package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdview/internal/session"
	"github.com/starford/mdview/internal/storage"
)

// AssetPrefix is where files next to the current document are served.
const AssetPrefix = "/doc/assets/"

// ViewHandler serves the rendered page and the files it references.
type ViewHandler struct {
	sess *session.Session
}

// NewViewHandler creates a handler backed by the session's current document.
func NewViewHandler(sess *session.Session) *ViewHandler {
	return &ViewHandler{sess: sess}
}

// Page handles GET /.
func (h *ViewHandler) Page(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sess.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "viewer unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(snap.Page))
}

// Asset handles GET /doc/assets/*, resolving the path against the current
// document's directory.
func (h *ViewHandler) Asset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sess.Snapshot(r.Context())
	if err != nil || snap.Current == "" {
		http.NotFound(w, r)
		return
	}
	fsys, err := storage.NewFS(filepath.Dir(snap.Current))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	abs, err := fsys.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, statErr := os.Stat(abs)
	if statErr != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
