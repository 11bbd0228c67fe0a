package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/putto11262002/roomchat/pkg/docstore"
	"golang.org/x/crypto/bcrypt"
)

const userEmailsCollection = "userEmails"

type userDoc struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	NameLower    string `json:"nameLower"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	FCMToken     string `json:"fcmToken,omitempty"`
	IsOnline     bool   `json:"isOnline"`
	LastSeen     int64  `json:"lastSeen"`
	CreatedAt    int64  `json:"createdAt"`
}

func (d userDoc) toUser() User {
	return User{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Role:      d.Role,
		PhotoURL:  d.PhotoURL,
		FCMToken:  d.FCMToken,
		IsOnline:  d.IsOnline,
		LastSeen:  fromMillis(d.LastSeen),
		CreatedAt: fromMillis(d.CreatedAt),
	}
}

// emailDoc indexes users by normalized email.
type emailDoc struct {
	UserID string `json:"userId"`
}

type DocUserStore struct {
	docs docstore.Store
}

func NewDocUserStore(docs docstore.Store) *DocUserStore {
	return &DocUserStore{docs: docs}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *DocUserStore) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	email := NormalizeEmail(u.Email)

	var existing emailDoc
	err := s.docs.Get(ctx, userEmailsCollection, email, &existing)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("Get(email): %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := u.Role
	if role == "" {
		role = RoleUser
	}
	now := time.Now()
	name := strings.TrimSpace(u.Name)
	doc := userDoc{
		ID:           newID(),
		Name:         name,
		NameLower:    strings.ToLower(name),
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		LastSeen:     toMillis(now),
		CreatedAt:    toMillis(now),
	}

	err = s.docs.Batch().
		Set(usersCollection, doc.ID, doc).
		Set(userEmailsCollection, email, emailDoc{UserID: doc.ID}).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("Commit(create user): %w", err)
	}

	user := doc.toUser()
	return &user, nil
}

func (s *DocUserStore) getDoc(ctx context.Context, id string) (*userDoc, error) {
	var doc userDoc
	if err := s.docs.Get(ctx, usersCollection, id, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("Get(user): %w", err)
	}
	return &doc, nil
}

func (s *DocUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	doc, err := s.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	user := doc.toUser()
	return &user, nil
}

func (s *DocUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var idx emailDoc
	if err := s.docs.Get(ctx, userEmailsCollection, NormalizeEmail(email), &idx); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("Get(email): %w", err)
	}
	return s.GetUserByID(ctx, idx.UserID)
}

func (s *DocUserStore) GetUsersByIDs(ctx context.Context, ids ...string) ([]User, error) {
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUserByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

func (s *DocUserStore) ComparePassword(ctx context.Context, email, password string) (*User, error) {
	var idx emailDoc
	if err := s.docs.Get(ctx, userEmailsCollection, NormalizeEmail(email), &idx); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("Get(email): %w", err)
	}

	doc, err := s.getDoc(ctx, idx.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	user := doc.toUser()
	return &user, nil
}

func (s *DocUserStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	fields := make(map[string]any)
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, ValidationError("Name cannot be empty", nil)
		}
		fields["name"] = name
		fields["nameLower"] = strings.ToLower(name)
	}
	if update.PhotoURL != nil {
		fields["photoUrl"] = *update.PhotoURL
	}
	if update.FCMToken != nil {
		fields["fcmToken"] = *update.FCMToken
	}
	if len(fields) == 0 {
		return nil, ErrNoValidFields
	}

	if err := s.docs.Update(ctx, usersCollection, id, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("Update(user): %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *DocUserStore) SearchUsers(ctx context.Context, q string, limit int) ([]User, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []User{}, nil
	}
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}

	docs, err := s.docs.Query(ctx, usersCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("nameLower", docstore.Prefix, q)},
		OrderBy: []docstore.Order{{Field: "nameLower"}},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("Query(users): %w", err)
	}
	return decodeUsers(docs)
}

func (s *DocUserStore) SetOnline(ctx context.Context, id string, online bool) (time.Time, error) {
	now := time.Now().UTC()
	fields := map[string]any{"isOnline": online}
	if !online {
		fields["lastSeen"] = toMillis(now)
	}
	if err := s.docs.Update(ctx, usersCollection, id, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return time.Time{}, ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("Update(presence): %w", err)
	}
	return now, nil
}

func decodeUsers(docs []docstore.Document) ([]User, error) {
	raw, err := docstore.DecodeAll[userDoc](docs, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]User, 0, len(raw))
	for _, d := range raw {
		users = append(users, d.toUser())
	}
	return users, nil
}
