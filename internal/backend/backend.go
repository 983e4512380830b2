// Package backend is the typed client of the nomadrise REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// API groups the resource clients.
type API struct {
	Auth          *Auth
	Scholarships  *Scholarships
	Contents      *Resource[model.Content]
	Organizations *Resource[model.Organization]
	Sponsors      *Resource[model.Sponsor]
	Users         *Users
}

// New wires every resource. Public reads go through pub, everything else through authed.
func New(pub gateway.Doer, authed gateway.Doer, store tokenstore.Store) *API {
	return &API{
		Auth:          NewAuth(pub, store),
		Scholarships:  &Scholarships{Resource: NewResource[model.Scholarship](pub, authed, "/scholarships/")},
		Contents:      NewResource[model.Content](pub, authed, "/contents/"),
		Organizations: NewResource[model.Organization](pub, authed, "/organizations/"),
		Sponsors:      NewResource[model.Sponsor](pub, authed, "/sponsors/"),
		Users:         &Users{api: authed},
	}
}

// Resource is a backend collection with list/get/create/update/delete.
type Resource[T any] struct {
	read  gateway.Doer
	write gateway.Doer
	path  string // collection path with trailing slash
}

// NewResource binds a collection path. read serves List/Get, write the mutations.
func NewResource[T any](read, write gateway.Doer, path string) *Resource[T] {
	return &Resource[T]{read: read, write: write, path: path}
}

func (r *Resource[T]) item(id int64) string {
	return r.path + strconv.FormatInt(id, 10) + "/"
}

// List returns the whole collection.
func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	return listOf[T](ctx, r.read, r.path, nil)
}

// Get returns one record. A missing record is errs.ErrNotFound.
func (r *Resource[T]) Get(ctx context.Context, id int64) (T, error) {
	return gateway.Get[T](ctx, r.read, r.item(id), nil)
}

// Create posts a new record.
func (r *Resource[T]) Create(ctx context.Context, v T) (T, error) {
	return gateway.Post[T](ctx, r.write, r.path, v)
}

// Update replaces a record with PUT. patch may be a partial payload.
func (r *Resource[T]) Update(ctx context.Context, id int64, patch any) (T, error) {
	return gateway.Put[T](ctx, r.write, r.item(id), patch)
}

// Delete removes a record.
func (r *Resource[T]) Delete(ctx context.Context, id int64) error {
	_, err := gateway.Delete[struct{}](ctx, r.write, r.item(id), nil)
	return err
}

// listOf accepts either a bare JSON array or a paginated envelope.
func listOf[T any](ctx context.Context, d gateway.Doer, path string, q url.Values) ([]T, error) {
	resp, err := d.Do(ctx, gateway.Request{Method: http.MethodGet, Path: path, Query: q})
	if err != nil {
		return nil, err
	}
	if !resp.JSON {
		return nil, fmt.Errorf("list %s: %w", path, gateway.BadBody(resp, errors.New("non-JSON body")))
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []T{}, nil
	}
	if body[0] == '[' {
		var out []T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("list %s: %w", path, gateway.BadBody(resp, err))
		}
		return out, nil
	}
	var page model.Page[T]
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, gateway.BadBody(resp, err))
	}
	if page.Results == nil {
		return []T{}, nil
	}
	return page.Results, nil
}
