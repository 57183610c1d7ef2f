package domain

import "strings"

// NormalizeHostname canonicalizes a hostname for binding and comparison:
// trim, lowercase, strip one leading "www.".
func NormalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	return strings.TrimPrefix(h, "www.")
}

// NormalizeEmail canonicalizes an email address. OTP hashing and lookup
// must both go through this or comparisons silently fail.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasMailbox reports whether the value looks like a deliverable address.
// The billing provider already validated it; this only guards against
// empty or junk values reaching the mailer.
func HasMailbox(email string) bool {
	return strings.Contains(email, "@")
}
