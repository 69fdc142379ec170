package api

import (
	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/fulltext"
	"github.com/starford/specdex/internal/index"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/workspace"
)

// ReplaceBodyRequest is the request body for replacing an element body.
type ReplaceBodyRequest struct {
	Body *string `json:"body" example:"New body text referencing C:Foo." validate:"required"`
}

// ElementDetail is the full element response type (aliased from the domain layer).
type ElementDetail = workspace.ElementDetail

// ElementListResponse wraps element listings.
type ElementListResponse struct {
	Elements []models.Element `json:"elements" validate:"required"`
	Total    int              `json:"total" example:"42" validate:"required"`
}

// IdentifierListResponse wraps reference and backlink listings.
type IdentifierListResponse struct {
	Identifier  string              `json:"identifier" example:"C:Foo" validate:"required"`
	Identifiers []models.Identifier `json:"identifiers" validate:"required"`
}

// SearchResponse wraps identifier and title search results.
type SearchResponse struct {
	Results []index.Match `json:"results" validate:"required"`
}

// FullTextResponse wraps body search hits.
type FullTextResponse struct {
	Results []fulltext.Hit `json:"results" validate:"required"`
}

// ValidationResponse lists workspace issues.
type ValidationResponse struct {
	Issues   []apperr.Issue `json:"issues" validate:"required"`
	Errors   int            `json:"errors" example:"1"`
	Warnings int            `json:"warnings" example:"3"`
}

// StatsResponse summarises the index.
type StatsResponse struct {
	index.Stats
	Cycles [][]models.Identifier `json:"cycles"`
}
