// Package model defines the payloads exchanged with the backend API and the web layer.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// TokenPair is the backend access/refresh pair. Refresh is never sent as a bearer.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty reports whether no access token is present.
func (p TokenPair) Empty() bool { return p.Access == "" }

// Identity is the per-session view of who is signed in.
type Identity struct {
	Provider          string // google, facebook, apple, credentials
	ProviderAccountID string
	BackendUserID     int64 // 0 until linked
}

// Linked reports whether the identity resolved to a backend user.
func (i Identity) Linked() bool { return i.BackendUserID != 0 }

// SyncRequest is the OAuth identity sent to /auth/sync/.
type SyncRequest struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Image             string `json:"image"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
}

// SyncResult is the backend user resolved for an OAuth identity.
type SyncResult struct {
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	Created bool   `json:"created"` // false when the identity was already known
}

// Credentials is the username/password pair accepted by /token/.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EmailLogin is the payload of /auth/login/.
type EmailLogin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginUser is the user summary returned with an email login.
type LoginUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// LoginResponse is returned by /auth/login/.
type LoginResponse struct {
	Access  string    `json:"access"`
	Refresh string    `json:"refresh"`
	User    LoginUser `json:"user"`
}

// RegisterRequest is the payload of /auth/register/.
type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// RegisterResponse may carry a token pair when the backend logs the user in immediately.
type RegisterResponse struct {
	Access  string     `json:"access,omitempty"`
	Refresh string     `json:"refresh,omitempty"`
	User    *LoginUser `json:"user,omitempty"`
	Message string     `json:"message,omitempty"`
}

// DeleteAccountRequest is the body of DELETE /auth/delete/.
type DeleteAccountRequest struct {
	Email             string `json:"email"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
}

// Scholarship mirrors the backend scholarship record.
type Scholarship struct {
	ID                 int64  `json:"id,omitempty"`
	URL                string `json:"url"`
	Org                string `json:"org"`
	OrgName            string `json:"org_name,omitempty"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	StudyLevel         string `json:"study_level"`
	FieldOfStudy       string `json:"field_of_study"`
	Coverage           string `json:"coverage"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	ApplicationOpenAt  string `json:"application_open_at"`
	ApplicationCloseAt string `json:"application_close_at"`
	ApplicationURL     string `json:"application_url"`
	IsActive           bool   `json:"is_active"`
	CreatedAt          string `json:"created_at,omitempty"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

// ScholarshipFilter narrows the scholarship list. Zero values are not sent.
type ScholarshipFilter struct {
	StudyLevel   string
	FieldOfStudy string
	IsActive     *bool
	Search       string
}

// Page is the paginated list envelope used by some backend endpoints.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Content is a static content block.
type Content struct {
	ID          int64  `json:"id,omitempty"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Organization is a scholarship provider.
type Organization struct {
	ID          int64  `json:"id,omitempty"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Website     string `json:"website"`
	LogoURL     string `json:"logo_url"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Sponsor is an organization sponsoring the site.
type Sponsor struct {
	ID          int64  `json:"id,omitempty"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Website     string `json:"website"`
	LogoURL     string `json:"logo_url"`
	Tier        string `json:"tier,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// User is a backend account.
type User struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Provider        string `json:"provider,omitempty"`
	ProviderUserID  string `json:"provider_user_id,omitempty"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// ProfileUpdate is a partial user update.
type ProfileUpdate struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Deletion request statuses.
const (
	DeletionPending   = "pending"
	DeletionCompleted = "completed"
)

// DeletionRequest is a user's request to purge their data, stored until processed.
type DeletionRequest struct {
	ID          uuid.UUID // PK
	RequestID   string    // DR-<unix ms>, returned to the user
	UserID      string    // session subject
	UserEmail   string
	Provider    string
	RequestedAt time.Time
	Status      string
	IP          string
	UserAgent   string
	CreatedAt   time.Time
}
