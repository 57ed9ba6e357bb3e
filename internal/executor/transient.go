package executor

import "strings"

// DefaultTransientPatterns are the failure substrings that downgrade a fatal
// execution error to a warning. These cover known flaky upstream conditions
// so CI does not flap on third-party instability. The list is a default;
// deployments can override it through configuration.
var DefaultTransientPatterns = []string{
	// rate limiting
	"429",
	"too many requests",
	"rate limit",
	// timeouts
	"timeout",
	"timed out",
	"etimedout",
	// connection failures
	"econnreset",
	"econnrefused",
	"socket hang up",
	// temporary account conditions
	"insufficient balance",
	// credential refresh churn
	"unable to refresh",
	"refresh token",
	// upstream 5xx
	"502",
	"503",
	"504",
	"internal server error",
}

// IsTransient reports whether the extracted error message matches any of the
// given patterns, case-insensitively. An empty pattern list matches nothing.
func IsTransient(message string, patterns []string) bool {
	msg := strings.ToLower(message)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
