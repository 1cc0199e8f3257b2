// Package backend is the client side of the Element Backend Service
// contract.
package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
)

// Backend is the remote CRUD service for typed elements. Implementations
// return *element.Error for every failure.
type Backend interface {
	// Create persists a new element. The returned record carries the
	// server-assigned id.
	Create(ctx context.Context, typeTag string, attrs map[string]any) (element.Record, error)

	// Update sends only the changed attributes and returns the full
	// record as the backend now holds it.
	Update(ctx context.Context, typeTag, id string, changed map[string]any) (element.Record, error)

	// Delete removes an element. Deleting a missing id succeeds.
	Delete(ctx context.Context, typeTag, id string) error

	// List fetches one page. An empty req.TypeTag lists every type.
	List(ctx context.Context, req query.Request) (query.Page, error)
}

// ErrorEnvelope is the backend's error body.
type ErrorEnvelope struct {
	StatusCategory string            `json:"statusCategory"`
	Title          string            `json:"title"`
	Detail         string            `json:"detail,omitempty"`
	FieldErrors    map[string]string `json:"fieldErrors,omitempty"`
}

// EnvelopeFor renders err as an envelope. Non-taxonomy errors become
// server failures.
func EnvelopeFor(err error) (ErrorEnvelope, int) {
	var e *element.Error
	if !errors.As(err, &e) {
		return ErrorEnvelope{
			StatusCategory: element.CategoryServer,
			Title:          "internal error",
			Detail:         err.Error(),
		}, http.StatusInternalServerError
	}
	return ErrorEnvelope{
		StatusCategory: e.Kind.Category(),
		Title:          e.Title,
		Detail:         e.Detail,
		FieldErrors:    e.FieldErrors,
	}, e.Kind.HTTPStatus()
}

// CreateRequest is the create body.
type CreateRequest struct {
	TypeTag    string         `json:"typeTag" validate:"required,alphanum,max=128"`
	Attributes map[string]any `json:"attributes" validate:"required"`
}
