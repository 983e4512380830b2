package backend

import (
	"context"
	"strconv"

	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/model"
)

// Users is the authenticated user-account API.
type Users struct {
	api gateway.Doer
}

// Me returns the current user.
func (u *Users) Me(ctx context.Context) (model.User, error) {
	return gateway.Get[model.User](ctx, u.api, "/users/me/", nil)
}

// Get returns a user by id.
func (u *Users) Get(ctx context.Context, id int64) (model.User, error) {
	return gateway.Get[model.User](ctx, u.api, "/users/"+strconv.FormatInt(id, 10)+"/", nil)
}

// List returns all users visible to the caller.
func (u *Users) List(ctx context.Context) ([]model.User, error) {
	return listOf[model.User](ctx, u.api, "/users/", nil)
}

// UpdateProfile patches name and/or email.
func (u *Users) UpdateProfile(ctx context.Context, id int64, p model.ProfileUpdate) (model.User, error) {
	return gateway.Patch[model.User](ctx, u.api, "/users/"+strconv.FormatInt(id, 10)+"/", p)
}
