// Package config loads nvplug.yaml for nvplug serve, triggers and
// sessions.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// reference matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var reference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in input.
//
// ${VAR} becomes the value of VAR, or "" when unset. ${VAR:-default}
// takes default when VAR is unset or empty. ${VAR:?message} fails with
// message instead, so a config can demand a secret without a fallback.
// Every failing reference is reported.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := reference.ReplaceAllStringFunc(input, func(ref string) string {
		m := reference.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if op == "?" {
			if arg == "" {
				arg = "required"
			}
			errs = append(errs, fmt.Errorf("${%s}: %s", name, arg))
			return ""
		}
		return arg
	})
	return out, errors.Join(errs...)
}
