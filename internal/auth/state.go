package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"time"
)

// OAuth state cookies protect the mail connect flow against CSRF: the state
// sent to the provider must come back unchanged in the callback and match
// the cookie set on the way out.

const stateCookiePrefix = "oauth_state_"

const stateTTL = 10 * time.Minute

// NewState returns an unguessable state value.
func NewState() string {
	return rand.Text()
}

// SetStateCookie remembers state for the named flow (e.g. "gmail").
// SameSite=Lax lets the cookie ride along on the provider's top-level
// redirect back to us.
func SetStateCookie(w http.ResponseWriter, flow, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookiePrefix + flow,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ConsumeState reports whether got matches the stored state and clears the
// cookie either way, so a state value is single-use.
func ConsumeState(w http.ResponseWriter, r *http.Request, flow, got string) bool {
	name := stateCookiePrefix + flow
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(got)) == 1
}
