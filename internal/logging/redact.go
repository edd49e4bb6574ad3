package logging

import (
	"log/slog"
	"regexp"

	"github.com/m-mizutani/masq"
)

// SecretTag marks struct fields that must never reach a log record:
//
//	Credential string `masq:"secret"`
const SecretTag = "secret"

// inlineSecretPattern matches "credential=<value>" style fragments that end up
// inside error strings or free-form values.
var inlineSecretPattern = regexp.MustCompile(`(?i)(credential|password|token)\s*[:=]\s*\S+`)

func newRedactAttr() func([]string, slog.Attr) slog.Attr {
	return masq.New(
		masq.WithTag(SecretTag),
		masq.WithFieldName("Credential"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("password"),
		masq.WithFieldName("token"),
		masq.WithRegex(inlineSecretPattern),
	)
}
