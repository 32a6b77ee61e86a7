// settings.go -- Preference endpoints that write through the identity cache.
package auth

import (
	"net/http"
	"strconv"

	"github.com/MGallo-Code/mangatracker/internal/cache"
	"github.com/MGallo-Code/mangatracker/internal/session"
)

const maxTheme = 127

// SetTheme handles POST /api/settings/theme?value=N.
// Logged-in users get the theme persisted and their cached record patched;
// anonymous visitors keep it in the session.
func (h *AuthHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("value")
	if raw == "" {
		BadRequest(w, r, "query parameter value is missing")
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxTheme {
		BadRequest(w, r, "query parameter value is invalid")
		return
	}
	theme := int16(n)

	sess, ok := session.FromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errMissingSession)
		return
	}

	if userID := sess.UserID(); userID != 0 {
		if err := h.PS.UpdateUserTheme(r.Context(), userID, theme); err != nil {
			InternalServerError(w, r, err)
			return
		}
		h.ModifyCacheUser(userID, cache.UserPatch{Theme: &theme})
		logInfo(r, "theme updated", "user_id", userID, "theme", theme)
	} else {
		sess.SetTheme(theme)
	}
	OK(w, "theme updated")
}
