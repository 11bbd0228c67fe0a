package core

import (
	"context"
	"time"
)

const (
	usersCollection = "users"
	friendsSub      = "friends"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// DefaultSearchLimit caps the number of users returned by SearchUsers.
	DefaultSearchLimit = 50
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	FCMToken  string    `json:"fcmToken,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser holds what is needed to create an account.
// Password is the plain text password; it is hashed before it is stored.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// ProfileUpdate lists the fields a user may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Name     *string
	PhotoURL *string
	FCMToken *string
}

type UserStore interface {
	// CreateUser stores a new user. The email is trimmed and lower-cased
	// before it is stored. It returns ErrEmailTaken if the email is already
	// registered.
	CreateUser(ctx context.Context, u NewUser) (*User, error)

	// GetUserByID returns ErrUserNotFound if the user does not exist.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail returns ErrUserNotFound if no user has registered email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUsersByIDs returns the users that exist among ids, in no particular order.
	GetUsersByIDs(ctx context.Context, ids ...string) ([]User, error)

	// ComparePassword looks the user up by email and checks the password.
	// It returns ErrBadCredentials when either the user does not exist or
	// the password does not match.
	ComparePassword(ctx context.Context, email, password string) (*User, error)

	// UpdateProfile applies the non nil fields of update and returns the
	// updated user. It returns ErrNoValidFields when update is empty.
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error)

	// SearchUsers returns up to limit users whose name starts with q,
	// ignoring case. An empty q returns no users.
	SearchUsers(ctx context.Context, q string, limit int) ([]User, error)

	// SetOnline records the presence of a user. Going offline also
	// records the last seen time, which is returned.
	SetOnline(ctx context.Context, id string, online bool) (time.Time, error)
}
