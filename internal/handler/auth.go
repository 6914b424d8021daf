package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/service"
)

const stateCookie = "oauth_state"

// MarketplaceCredential is the seller credential behind the consent flow.
type MarketplaceCredential interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
	Expiry() time.Time
}

// TokenMaintainer exposes the background refresh loop.
type TokenMaintainer interface {
	RefreshNow(ctx context.Context) error
	Status() service.MaintainerStatus
}

// AuthHandler handles the marketplace consent flow and credential status.
type AuthHandler struct {
	cred       MarketplaceCredential
	maintainer TokenMaintainer
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(cred MarketplaceCredential, maintainer TokenMaintainer) *AuthHandler {
	return &AuthHandler{cred: cred, maintainer: maintainer}
}

// MarketplaceRedirect sends the seller to the marketplace consent page.
func (h *AuthHandler) MarketplaceRedirect(c echo.Context) error {
	state := generateState()
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	return c.Redirect(http.StatusTemporaryRedirect, h.cred.AuthCodeURL(state))
}

// MarketplaceCallback exchanges the authorization code and stores the token.
func (h *AuthHandler) MarketplaceCallback(c echo.Context) error {
	if err := validateOAuthState(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("%w: missing code parameter", domain.ErrInvalidInput)
	}

	if err := h.cred.Exchange(c.Request().Context(), code); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]any{
		"authorized": true,
		"expiry":     h.cred.Expiry(),
	})
}

type credentialStatus struct {
	Expiry     time.Time                 `json:"expiry"`
	Maintainer *service.MaintainerStatus `json:"maintainer,omitempty"`
}

// Status reports the token expiry and the maintainer's last attempts.
func (h *AuthHandler) Status(c echo.Context) error {
	st := credentialStatus{Expiry: h.cred.Expiry()}
	if h.maintainer != nil {
		ms := h.maintainer.Status()
		st.Maintainer = &ms
	}
	return JSON(c, http.StatusOK, st)
}

// Refresh forces a token refresh outside the maintainer schedule.
func (h *AuthHandler) Refresh(c echo.Context) error {
	if h.maintainer == nil {
		return fmt.Errorf("%w: token maintainer is not running", domain.ErrConflict)
	}
	if err := h.maintainer.RefreshNow(c.Request().Context()); err != nil {
		return err
	}
	return h.Status(c)
}

func generateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-state"
	}
	return base64.URLEncoding.EncodeToString(b)
}

func validateOAuthState(c echo.Context) error {
	cookie, err := c.Cookie(stateCookie)
	if err != nil {
		return fmt.Errorf("missing oauth_state cookie")
	}

	queryState := c.QueryParam("state")
	if queryState == "" || queryState != cookie.Value {
		return fmt.Errorf("state mismatch")
	}

	return nil
}
