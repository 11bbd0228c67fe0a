package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type AuthHandler struct {
	auth  core.AuthStore
	users core.UserStore
}

func NewAuthHandler(auth core.AuthStore, users core.UserStore) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

type RegisterPayload struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

type LoginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshPayload struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) error {
	var payload RegisterPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	res, err := h.auth.Register(r.Context(), core.NewUser{
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
		Role:     payload.Role,
	})
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusCreated, res, "User registered successfully")
}

func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) error {
	var payload LoginPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	res, err := h.auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, res, "Login successful")
}

func (h *AuthHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) error {
	var payload RefreshPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	pair, err := h.auth.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, pair, "")
}

func (h *AuthHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.users.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, user, "")
}

func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) error {
	if err := h.auth.Logout(r.Context(), core.SessionFromRequest(r)); err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, nil, "Logout successful")
}
