package ratelimit

import "strings"

// KeyForSupplier builds the limiter key for one supplier email and mutation kind.
// Emails are keyed as given, matching the exact-match authorization rule.
func KeyForSupplier(email, operation string) string {
	if email == "" {
		return ""
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return "s:" + email
	}
	return "s:" + email + ":" + operation
}
