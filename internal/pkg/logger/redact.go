package logger

import "strings"

// RedactEmail masks an address for logging, keeping the first two
// characters of the local part and the domain:
// "john.doe@example.com" -> "jo***@example.com", "ab@example.com" -> "***@example.com".
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	name, domain := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}
