package gateway

import (
	"context"
	"net/http"
	"net/url"
)

// Call executes req and decodes the reply into T.
func Call[T any](ctx context.Context, d Doer, req Request) (T, error) {
	var out T
	resp, err := d.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if _, discard := any(&out).(*struct{}); discard {
		return out, nil
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Get issues a GET with optional query parameters.
func Get[T any](ctx context.Context, d Doer, path string, q url.Values) (T, error) {
	return Call[T](ctx, d, Request{Method: http.MethodGet, Path: path, Query: q})
}

// Post issues a POST with a JSON body.
func Post[T any](ctx context.Context, d Doer, path string, body any) (T, error) {
	return Call[T](ctx, d, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT with a JSON body.
func Put[T any](ctx context.Context, d Doer, path string, body any) (T, error) {
	return Call[T](ctx, d, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH with a JSON body.
func Patch[T any](ctx context.Context, d Doer, path string, body any) (T, error) {
	return Call[T](ctx, d, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE; body may be nil.
func Delete[T any](ctx context.Context, d Doer, path string, body any) (T, error) {
	return Call[T](ctx, d, Request{Method: http.MethodDelete, Path: path, Body: body})
}
