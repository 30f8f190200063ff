package mail

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTransportConfigured is returned when neither an explicit account, a
// default account, nor the environment fallback resolves to a transport.
var ErrNoTransportConfigured = errors.New("no mail transport configured")

// AuthError means the provider rejected the configured credentials. It always
// carries an actionable remediation hint and triggers cache invalidation so a
// corrected credential takes effect on the next attempt.
type AuthError struct {
	Provider Provider
	Hint     string
	Err      error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s authentication failed", e.Provider)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers network and timeout failures that are safe to retry
// with the same inputs. The engine itself never auto-retries.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("mail: %s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is authentication-class.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// isSMTPAuthReply matches server replies that indicate rejected credentials
// (5.7.x enhanced codes, 535/534/530 replies, and the usual provider text).
func isSMTPAuthReply(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"535 ", "534 ", "530 ", "5.7.8", "5.7.3", "authentication failed", "username and password not accepted", "invalid credentials"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
