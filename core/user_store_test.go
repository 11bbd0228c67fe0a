package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	t.Run("create user successfully", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		u, err := f.users.CreateUser(f.ctx, NewUser{Name: " Alice ", Email: " Alice@Example.com ", Password: testPassword})
		require.Nil(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "Alice", u.Name)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.Equal(t, RoleUser, u.Role)
		assert.False(t, u.CreatedAt.IsZero())

		got, err := f.users.GetUserByEmail(f.ctx, "ALICE@example.com")
		require.Nil(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("email taken", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()
		seedUsers(f, "alice")

		_, err := f.users.CreateUser(f.ctx, NewUser{Name: "Other", Email: "ALICE@example.com", Password: testPassword})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestComparePassword(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice")

	u, err := f.users.ComparePassword(f.ctx, "alice@example.com", testPassword)
	require.Nil(t, err)
	assert.Equal(t, users[0].ID, u.ID)

	_, err = f.users.ComparePassword(f.ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = f.users.ComparePassword(f.ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestUpdateProfile(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice")

	name := "Alicia"
	photo := "https://example.com/a.png"
	u, err := f.users.UpdateProfile(f.ctx, users[0].ID, ProfileUpdate{Name: &name, PhotoURL: &photo})
	require.Nil(t, err)
	assert.Equal(t, name, u.Name)
	assert.Equal(t, photo, u.PhotoURL)

	_, err = f.users.UpdateProfile(f.ctx, users[0].ID, ProfileUpdate{})
	assert.ErrorIs(t, err, ErrNoValidFields)

	_, err = f.users.UpdateProfile(f.ctx, "missing", ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSearchUsers(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	seedUsers(f, "Alice", "Alfred", "Bob")

	testCases := []struct {
		name     string
		q        string
		expected []string
	}{
		{name: "prefix ignoring case", q: "al", expected: []string{"Alfred", "Alice"}},
		{name: "full name", q: "bob", expected: []string{"Bob"}},
		{name: "no match", q: "zed", expected: []string{}},
		{name: "empty query", q: "  ", expected: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			users, err := f.users.SearchUsers(f.ctx, tc.q, 0)
			require.Nil(t, err)
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			assert.Equal(t, tc.expected, names)
		})
	}
}

func TestSetOnline(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice")

	_, err := f.users.SetOnline(f.ctx, users[0].ID, true)
	require.Nil(t, err)
	u, err := f.users.GetUserByID(f.ctx, users[0].ID)
	require.Nil(t, err)
	assert.True(t, u.IsOnline)

	lastSeen, err := f.users.SetOnline(f.ctx, users[0].ID, false)
	require.Nil(t, err)
	u, err = f.users.GetUserByID(f.ctx, users[0].ID)
	require.Nil(t, err)
	assert.False(t, u.IsOnline)
	assert.Equal(t, lastSeen.UnixMilli(), u.LastSeen.UnixMilli())

	_, err = f.users.SetOnline(f.ctx, "missing", true)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
