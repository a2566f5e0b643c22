package http

import (
	"context"
	"net/http"
)

// bodyMode says whether an endpoint decodes a JSON request body.
type bodyMode int

const (
	noBody bodyMode = iota
	requiredBody
	optionalBody
)

func decodeBody[Req any](w http.ResponseWriter, r *http.Request, mode bodyMode) (Req, bool) {
	switch mode {
	case requiredBody:
		return readJSON[Req](w, r)
	case optionalBody:
		return readOptionalJSON[Req](w, r)
	default:
		var zero Req
		return zero, true
	}
}

// byID serves a route on the resource named by the {id} URL parameter.
// Domain errors are mapped by writeDomainError, with notFound as the 404
// message.
func byID[Req, Res any](status int, mode bodyMode, notFound string, fn func(ctx context.Context, id string, req Req) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}
		req, ok := decodeBody[Req](w, r, mode)
		if !ok {
			return
		}
		res, err := fn(r.Context(), id, req)
		if err != nil {
			writeDomainError(w, err, notFound)
			return
		}
		writeJSON(w, status, res)
	}
}

func handleGet[T any](get func(ctx context.Context, id string) (*T, error), notFound string) http.HandlerFunc {
	return byID(http.StatusOK, noBody, notFound, func(ctx context.Context, id string, _ struct{}) (*T, error) {
		return get(ctx, id)
	})
}

// handleListByID answers an empty JSON array rather than null.
func handleListByID[T any](list func(ctx context.Context, id string) ([]T, error), notFound string) http.HandlerFunc {
	return byID(http.StatusOK, noBody, notFound, func(ctx context.Context, id string, _ struct{}) ([]T, error) {
		items, err := list(ctx, id)
		if items == nil {
			items = []T{}
		}
		return items, err
	})
}

func handleAction[Req, Res any](status int, mode bodyMode, fn func(ctx context.Context, id string, req Req) (*Res, error), notFound string) http.HandlerFunc {
	return byID(status, mode, notFound, fn)
}

// handleCommand serves a body-less POST such as cosign or wake.
func handleCommand[Res any](fn func(ctx context.Context, id string) (*Res, error), notFound string) http.HandlerFunc {
	return byID(http.StatusOK, noBody, notFound, func(ctx context.Context, id string, _ struct{}) (*Res, error) {
		return fn(ctx, id)
	})
}

// handleCreate decodes the body, creates the resource and answers 201.
func handleCreate[Req, Res any](create func(ctx context.Context, req Req) (*Res, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		res, err := create(r.Context(), req)
		if err != nil {
			writeDomainError(w, err, notFound)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
