package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/magiclink"
	"github.com/dukerupert/fairway/internal/middleware"
	"github.com/dukerupert/fairway/internal/throttle"
)

const (
	refreshCookieName = "fairway_refresh"
	refreshCookiePath = "/auth"
	defaultFlow       = "otp"
)

// IssueLimits bounds how often a single email may request links.
type IssueLimits struct {
	MaxAttempts int
	Window      time.Duration
	Cooldown    time.Duration
}

type AuthHandler struct {
	issuer   *magiclink.Issuer
	redeemer *magiclink.Redeemer
	sessions *auth.Sessions
	guard    *throttle.Guard
	limits   IssueLimits
	pages    *pages
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewAuthHandler(issuer *magiclink.Issuer, redeemer *magiclink.Redeemer, sessions *auth.Sessions, guard *throttle.Guard, limits IssueLimits, clock clockwork.Clock, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		issuer:   issuer,
		redeemer: redeemer,
		sessions: sessions,
		guard:    guard,
		limits:   limits,
		pages:    loadPages(),
		clock:    clock,
		logger:   logger,
	}
}

type magicLinkRequest struct {
	magiclink.ProfileInput
	Flow        string `json:"flow"`
	Destination string `json:"destination"`
}

type magicLinkResponse struct {
	Email           string    `json:"email"`
	Flow            string    `json:"flow"`
	ExpiresAt       time.Time `json:"expires_at"`
	CooldownSeconds int       `json:"cooldown_seconds"`
}

// RequestMagicLink issues a link for the submitted profile. A running resend
// cooldown or an exhausted per-email budget short-circuits with 429 before
// anything is written.
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Flow == "" {
		req.Flow = defaultFlow
	}
	intent := magiclink.NewEntryIntent(req.ProfileInput)
	if intent.Email == "" {
		respondError(w, h.logger, "request magic link", apperr.Validation("email", "is required"))
		return
	}

	if wait := h.cooldownRemaining(r, intent.Email); wait > 0 {
		writeRetry(w, wait, "please wait before requesting another link")
		return
	}
	limited, err := h.guard.IsRateLimited(r.Context(), intent.Email, h.limits.MaxAttempts, h.limits.Window)
	if err != nil {
		h.logger.Warn("rate limit check failed", "error", err)
	} else if limited {
		writeRetry(w, int(h.limits.Window.Seconds()), "too many sign-in requests for this email, try again later")
		return
	}

	iss, err := h.issuer.Issue(r.Context(), req.Flow, intent, req.Destination)
	if err != nil {
		respondError(w, h.logger, "request magic link", err)
		return
	}

	if err := h.guard.StartCooldown(r.Context(), intent.Email, h.limits.Cooldown); err != nil {
		h.logger.Warn("start cooldown failed", "error", err)
	}

	writeJSON(w, http.StatusAccepted, magicLinkResponse{
		Email:           iss.Email,
		Flow:            iss.Flow,
		ExpiresAt:       iss.ExpiresAt,
		CooldownSeconds: int(h.limits.Cooldown.Seconds()),
	})
}

func (h *AuthHandler) cooldownRemaining(r *http.Request, email string) int {
	secs, err := h.guard.RemainingSeconds(r.Context(), email)
	if err != nil {
		h.logger.Warn("cooldown check failed", "error", err)
		return 0
	}
	return secs
}

// Callback is the landing page for a clicked magic link. On success it sets
// the session cookies and redirects to the destination stored with the
// token; the redirect query parameter is never trusted.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	red, err := h.redeemer.Redeem(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		status := statusFor(err)
		msg, ok := apperr.Public(err)
		if !ok || status == http.StatusInternalServerError {
			h.logger.Error("redeem magic link", "error", err)
			status = http.StatusInternalServerError
			msg = "We could not sign you in right now. Please request a new link."
		}
		h.pages.render(w, status, page{Title: "Sign-in link", Heading: "We could not sign you in", Message: msg}, h.logger)
		return
	}

	h.setSessionCookies(w, r, red.Credentials)
	http.Redirect(w, r, red.Destination, http.StatusSeeOther)
}

type redeemRequest struct {
	Token string `json:"token"`
}

// Redeem is the JSON form of Callback for clients that hold the token.
func (h *AuthHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	red, err := h.redeemer.Redeem(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		respondError(w, h.logger, "redeem magic link", err)
		return
	}

	h.setSessionCookies(w, r, red.Credentials)
	writeJSON(w, http.StatusOK, map[string]any{
		"credentials": red.Credentials,
		"player":      red.Player,
		"destination": red.Destination,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RefreshToken == "" {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			req.RefreshToken = c.Value
		}
	}
	if req.RefreshToken == "" {
		respondError(w, h.logger, "refresh session", auth.ErrUnauthenticated)
		return
	}

	creds, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			h.clearSessionCookies(w)
		}
		respondError(w, h.logger, "refresh session", err)
		return
	}

	h.setSessionCookies(w, r, creds)
	writeJSON(w, http.StatusOK, creds)
}

// Logout revokes the caller's session. It runs behind RequireAuth.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, h.logger, "logout", auth.ErrUnauthenticated)
		return
	}
	if err := h.sessions.Revoke(r.Context(), ac.SessionID); err != nil {
		respondError(w, h.logger, "logout", err)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, r *http.Request, c *auth.Credentials) {
	now := h.clock.Now()
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookieName,
		Value:    c.AccessToken,
		Path:     "/",
		MaxAge:   int(c.AccessExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    c.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(c.RefreshExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{middleware.AccessCookieName, "/"},
		{refreshCookieName, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Expires:  time.Unix(0, 0),
		})
	}
}

func writeRetry(w http.ResponseWriter, seconds int, msg string) {
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               msg,
		"retry_after_seconds": seconds,
	})
}
