package httpapi

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorize checks the static API token against the Authorization
// header, or the token query parameter for clients that cannot set
// headers (the websocket endpoint). An empty configured token disables
// the gate entirely.
func authorize(r *http.Request, configuredToken string) *authError {
	if configuredToken == "" {
		return nil
	}
	presented := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		presented = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if presented == "" {
		presented = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if presented == "" {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	if !hmac.Equal([]byte(presented), []byte(configuredToken)) {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "token mismatch",
		}
	}
	return nil
}
