package providers

import (
	"regexp"
	"strconv"
	"strings"
)

// SDKs report failures as text such as "error, status code: 429, message: ...".
var (
	statusPattern     = regexp.MustCompile(`(?i)(?:status(?: code)?|http)[:\s]+([1-5]\d\d)\b|\b(4\d\d|5\d\d)\b`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]after[:\s]+([^\s,;]+)`)
)

// extractErrorMetadata pulls an HTTP status and Retry-After hint out of an
// SDK error message so engine.WrapLLMError can classify it.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	msg := err.Error()

	var status int
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code := m[1]
		if code == "" {
			code = m[2]
		}
		status, _ = strconv.Atoi(code)
	}

	var retryAfter string
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		retryAfter = strings.TrimRight(m[1], ".")
	}
	return status, retryAfter
}
