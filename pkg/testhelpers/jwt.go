// Package testhelpers provides fakes and fixtures for dashboard-gateway tests.
package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestIDToken creates an unsigned Google-style ID token (alg: none)
// for tests that run with signature verification disabled.
func GenerateTestIDToken(email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"iss":"https://accounts.google.com","sub":"test-%s","aud":"test-client","email":"%s","email_verified":true}`,
		email, email)

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// BearerHeader returns the Authorization header value for email.
func BearerHeader(email string) string {
	return "Bearer " + GenerateTestIDToken(email)
}
