package backup

import (
	"net/url"
	"regexp"
)

var credentialsRe = regexp.MustCompile(`//[^\s"'@]*(?:@[^\s"'@]*)*@`)

// RedactConnectionString hides the userinfo of a URL style connection string.
// It matches up to the last '@' before whitespace or a quote, so unescaped
// '@' and '/' in a password are covered too.
func RedactConnectionString(s string) string {
	return credentialsRe.ReplaceAllString(s, "//***:***@")
}

// stripPassword removes the password but keeps the user, so the string can
// be handed to a dump tool whose password travels in the environment.
func stripPassword(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
