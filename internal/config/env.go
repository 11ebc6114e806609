package config

import (
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sm := envVarPattern.FindStringSubmatch(match)
		name := sm[1]
		hasDefault := sm[2] != ""
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return sm[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
