// Package redact strips credentials, storage locations and other internals
// from text before it is logged or returned to a client.
package redact

import "regexp"

// Placeholders substituted for redacted text.
const (
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules keep later ones from seeing secrets in
// a form they would only partially match.
var rules = []rule{
	// Azure connection strings and SAS tokens.
	{
		regexp.MustCompile(`(?i)\b(AccountKey|SharedAccessSignature|sig)=[^;&\s]+`),
		"$1=" + RedactedKeyPlaceholder,
	},
	// user:password@ in postgres://, redis:// and similar URLs.
	{
		regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/\s:@]*:[^@\s/]*@`),
		"$1" + RedactedCredentialPlaceholder + "@",
	},
	// AWS access key ids.
	{
		regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
		RedactedKeyPlaceholder,
	},
	// key=value secrets.
	{
		regexp.MustCompile(
			`(?i)\b(password|passwd|pwd|secret|secret_access_key|api[_-]?key|token)(\s*[=:]\s*)['"]?[^'"&;\s]{3,}['"]?`,
		),
		"$1$2" + RedactedCredentialPlaceholder,
	},
	// Goroutine dumps run to the end of the message.
	{
		regexp.MustCompile(`(?:\bpanic:|goroutine \d+ \[)[\s\S]*`),
		RedactedStackPlaceholder,
	},
	{
		regexp.MustCompile(`\b(?:SELECT|INSERT INTO|UPDATE|DELETE FROM)\s[^;\n]*`),
		RedactedSQLPlaceholder,
	},
	// Object store locations.
	{
		regexp.MustCompile(`\b(s3|azblob|file)://[^\s"':]+`),
		"$1://" + RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(`(/[\w.-]+){2,}`),
		RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`),
		RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}
	for _, r := range rules {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
