package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/session"
)

// History is the read side of the open/conversion history.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Document, error)
	Search(ctx context.Context, query string, limit int) ([]history.Document, error)
	Conversions(ctx context.Context, limit int) ([]history.Conversion, error)
	Forget(ctx context.Context, path string) error
}

// Handler holds API route handlers.
type Handler struct {
	sess *session.Session
	hist History
}

// NewHandler creates a new Handler. hist may be nil when history is disabled.
func NewHandler(sess *session.Session, hist History) *Handler {
	return &Handler{sess: sess, hist: hist}
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

// Status handles GET /api/status.
//
//	@Summary		Current document and status line
//	@Tags			view
//	@Produce		json
//	@Success		200	{object}	session.Snapshot
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sess.Snapshot(r.Context())
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Open handles POST /api/open.
//
//	@Summary		Open a Markdown document
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenRequest	true	"Document to open"
//	@Success		202		{object}	TaskResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/open [post]
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.sess.Open(r.Context(), req.Path)
	if err != nil {
		writeError(w, "open", err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: id.String()})
}

// Reload handles POST /api/reload.
//
//	@Summary		Reload the current document
//	@Tags			view
//	@Produce		json
//	@Success		202	{object}	TaskResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	id, err := h.sess.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: id.String()})
}

// Convert handles POST /api/convert.
//
//	@Summary		Convert the current document
//	@Tags			convert
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConvertRequest	true	"Target format and optional output path"
//	@Success		202		{object}	TaskResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/convert [post]
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.sess.Convert(r.Context(), req.Format, req.Output)
	if err != nil {
		writeError(w, "convert", err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: id.String()})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List every tag, document by document
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	listings, err := h.sess.Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: toListings(listings)})
}

// AddTag handles POST /api/tags.
//
//	@Summary		Tag a scroll position in the current document
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddTagRequest	true	"Tag name and scroll offset"
//	@Success		201		{object}	AddTagResponse
//	@Success		200		{object}	AddTagResponse	"Duplicate, nothing added"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [post]
func (h *Handler) AddTag(w http.ResponseWriter, r *http.Request) {
	var req AddTagRequest
	if !decode(w, r, &req) {
		return
	}
	added, err := h.sess.AddTag(r.Context(), req.Name, req.Position)
	if err != nil {
		writeError(w, "add tag", err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, AddTagResponse{Added: added})
}

// DeleteTag handles DELETE /api/tags?name=.
//
//	@Summary		Delete a tag from the current document
//	@Tags			tags
//	@Param			name	query	string	true	"Tag name"
//	@Success		204		"Tag deleted"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [delete]
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'name' is required"))
		return
	}
	if err := h.sess.DeleteTag(r.Context(), name); err != nil {
		writeError(w, "delete tag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Jump handles POST /api/tags/jump.
//
//	@Summary		Scroll the view to a tag
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		JumpRequest	true	"Listing display text"
//	@Success		200		{object}	JumpResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/jump [post]
func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	var req JumpRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := h.sess.Jump(r.Context(), req.Text)
	if err != nil {
		writeError(w, "jump", err)
		return
	}
	writeJSON(w, http.StatusOK, JumpResponse{Position: pos})
}

// Recent handles GET /api/recent.
//
//	@Summary		Recently opened documents
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	map[string][]history.Document
//	@Security		BearerAuth
//	@Router			/recent [get]
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("history disabled"))
		return
	}
	docs, err := h.hist.Recent(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, "recent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

// ForgetRecent handles DELETE /api/recent.
//
//	@Summary		Remove a document from the history
//	@Tags			history
//	@Param			path	query	string	true	"Document path"
//	@Success		204
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recent [delete]
func (h *Handler) ForgetRecent(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("history disabled"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return
	}
	if err := h.hist.Forget(r.Context(), path); err != nil {
		writeError(w, "forget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchHistory handles GET /api/history/search.
//
//	@Summary		Search opened documents by path or title
//	@Tags			history
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string][]history.Document
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/search [get]
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("history disabled"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	docs, err := h.hist.Search(r.Context(), q, queryLimit(r))
	if err != nil {
		writeError(w, "search history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

// Conversions handles GET /api/conversions.
//
//	@Summary		Latest conversions and their outcomes
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	map[string][]history.Conversion
//	@Security		BearerAuth
//	@Router			/conversions [get]
func (h *Handler) Conversions(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("history disabled"))
		return
	}
	convs, err := h.hist.Conversions(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, "conversions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversions": nonNil(convs)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
