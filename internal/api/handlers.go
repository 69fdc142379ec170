package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workspace.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workspace.Service) *Handler {
	return &Handler{svc: svc}
}

// elementID extracts the identifier from the URL. Supports encoded colons
// from OpenAPI clients (e.g. R%3APurpose).
func elementID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListElements handles GET /api/elements.
//
//	@Summary		List elements in canonical order
//	@Tags			elements
//	@Produce		json
//	@Param			document	query		string	false	"Filter by document path"
//	@Param			kind		query		string	false	"Filter by kind name or prefix"
//	@Success		200			{object}	ElementListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements [get]
func (h *Handler) ListElements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.ListElements(r.Context(), q.Get("document"), q.Get("kind"))
	if err != nil {
		writeError(w, "list elements", err)
		return
	}
	writeJSON(w, http.StatusOK, ElementListResponse{Elements: items, Total: len(items)})
}

// GetElement handles GET /api/elements/{id}.
//
//	@Summary		Get a single element by identifier
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Element identifier"
//	@Success		200	{object}	ElementDetail
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id} [get]
func (h *Handler) GetElement(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetElement(r.Context(), elementID(r))
	if err != nil {
		writeError(w, "get element", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// References handles GET /api/elements/{id}/references.
//
//	@Summary		Outgoing references of an element
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Element identifier"
//	@Success		200	{object}	IdentifierListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id}/references [get]
func (h *Handler) References(w http.ResponseWriter, r *http.Request) {
	id := elementID(r)
	refs, err := h.svc.References(r.Context(), id)
	if err != nil {
		writeError(w, "references", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifierListResponse{Identifier: id, Identifiers: refs})
}

// Backlinks handles GET /api/elements/{id}/backlinks.
//
//	@Summary		Elements referencing an identifier
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Element identifier"
//	@Success		200	{object}	IdentifierListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := elementID(r)
	bl, err := h.svc.Backlinks(r.Context(), id)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifierListResponse{Identifier: id, Identifiers: bl})
}

// ReplaceBody handles PUT /api/elements/{id}/body.
//
//	@Summary		Replace an element body and persist the document
//	@Tags			elements
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Element identifier"
//	@Param			body	body		ReplaceBodyRequest	true	"New body"
//	@Success		200		{object}	patch.Result
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/elements/{id}/body [put]
func (h *Handler) ReplaceBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ReplaceBodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("body is required"))
		return
	}
	res, err := h.svc.ReplaceBody(r.Context(), elementID(r), *req.Body)
	if err != nil {
		writeError(w, "replace body", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search.
//
//	@Summary		Rank elements by identifier and title
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, SearchResponse{Results: h.svc.Search(r.Context(), q, limit)})
}

// FullText handles GET /api/fulltext.
//
//	@Summary		Full-text search across element bodies
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	FullTextResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fulltext [get]
func (h *Handler) FullText(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.svc.FullText(r.Context(), q, limit)
	if err != nil {
		writeError(w, "fulltext", err)
		return
	}
	writeJSON(w, http.StatusOK, FullTextResponse{Results: hits})
}

// Validation handles GET /api/validation.
//
//	@Summary		List duplicate, unresolved, failed and malformed entries
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	ValidationResponse
//	@Security		BearerAuth
//	@Router			/validation [get]
func (h *Handler) Validation(w http.ResponseWriter, r *http.Request) {
	issues := h.svc.Validate(r.Context())
	resp := ValidationResponse{Issues: issues}
	for _, is := range issues {
		if is.Severity == apperr.SeverityError {
			resp.Errors++
		} else {
			resp.Warnings++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/stats.
//
//	@Summary		Index counts and reference cycles
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:  h.svc.Stats(r.Context()),
		Cycles: h.svc.Cycles(r.Context()),
	})
}
