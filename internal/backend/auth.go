package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// Auth covers login, registration, token checks and OAuth sync.
type Auth struct {
	pub   gateway.Doer
	store tokenstore.Store
}

// NewAuth binds the auth calls to store. The web server builds one per session.
func NewAuth(pub gateway.Doer, store tokenstore.Store) *Auth {
	return &Auth{pub: pub, store: store}
}

// Store returns the token store updated by login and logout.
func (a *Auth) Store() tokenstore.Store { return a.store }

// Login exchanges username/password at /token/ and stores the pair.
func (a *Auth) Login(ctx context.Context, username, password string) (model.TokenPair, error) {
	pair, err := gateway.Post[model.TokenPair](ctx, a.pub, "/token/", model.Credentials{Username: username, Password: password})
	if err != nil {
		return model.TokenPair{}, err
	}
	if pair.Access == "" {
		return model.TokenPair{}, errors.New("login: empty access token")
	}
	if err := a.store.SetTokens(ctx, pair); err != nil {
		return model.TokenPair{}, fmt.Errorf("store tokens: %w", err)
	}
	return pair, nil
}

// LoginEmail authenticates at /auth/login/ and stores the pair.
func (a *Auth) LoginEmail(ctx context.Context, email, password string) (model.LoginResponse, error) {
	out, err := gateway.Post[model.LoginResponse](ctx, a.pub, "/auth/login/", model.EmailLogin{Email: email, Password: password})
	if err != nil {
		return model.LoginResponse{}, err
	}
	if out.Access == "" {
		return model.LoginResponse{}, errors.New("login: empty access token")
	}
	if err := a.store.SetTokens(ctx, model.TokenPair{Access: out.Access, Refresh: out.Refresh}); err != nil {
		return model.LoginResponse{}, fmt.Errorf("store tokens: %w", err)
	}
	return out, nil
}

// Register creates an account. Tokens are stored when the backend returns them.
func (a *Auth) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error) {
	if req.Email == "" || req.Password == "" {
		return model.RegisterResponse{}, fmt.Errorf("%w: email and password are required", errs.ErrValidation)
	}
	out, err := gateway.Post[model.RegisterResponse](ctx, a.pub, "/auth/register/", req)
	if err != nil {
		return model.RegisterResponse{}, err
	}
	if out.Access != "" {
		if err := a.store.SetTokens(ctx, model.TokenPair{Access: out.Access, Refresh: out.Refresh}); err != nil {
			return model.RegisterResponse{}, fmt.Errorf("store tokens: %w", err)
		}
	}
	return out, nil
}

// Verify reports whether the backend accepts token.
func (a *Auth) Verify(ctx context.Context, token string) bool {
	_, err := gateway.Post[struct{}](ctx, a.pub, "/token/verify/", map[string]string{"token": token})
	return err == nil
}

// Logout forgets the stored pair.
func (a *Auth) Logout(ctx context.Context) error { return a.store.ClearTokens(ctx) }

// SyncUser resolves an OAuth identity to a backend user. Implements oauthsync.Syncer.
func (a *Auth) SyncUser(ctx context.Context, req model.SyncRequest) (model.SyncResult, error) {
	return gateway.Post[model.SyncResult](ctx, a.pub, "/auth/sync/", req)
}

// UserByProvider looks up a synced identity. Unknown identities return nil, nil.
func (a *Auth) UserByProvider(ctx context.Context, provider, accountID string) (*model.SyncResult, error) {
	q := url.Values{"provider": {provider}, "provider_account_id": {accountID}}
	out, err := gateway.Get[model.SyncResult](ctx, a.pub, "/auth/user/", q)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAccount asks the backend to delete the account and forgets the pair.
func (a *Auth) DeleteAccount(ctx context.Context, req model.DeleteAccountRequest) (string, error) {
	out, err := gateway.Delete[struct {
		Message string `json:"message"`
	}](ctx, a.pub, "/auth/delete/", req)
	if err != nil {
		return "", err
	}
	if err := a.store.ClearTokens(ctx); err != nil {
		return out.Message, fmt.Errorf("clear tokens: %w", err)
	}
	return out.Message, nil
}
