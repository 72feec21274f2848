package composefile

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// composeDocument is the minimal shape a compose file must have.
// Service bodies are kept opaque; the compose tooling validates them fully.
type composeDocument struct {
	Services map[string]yaml.Node `yaml:"services"`
	Volumes  map[string]yaml.Node `yaml:"volumes"`
	Networks map[string]yaml.Node `yaml:"networks"`
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateCompose checks that content parses as YAML and declares at least
// one service.
func ValidateCompose(content string) error {
	var doc composeDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if len(doc.Services) == 0 {
		return fmt.Errorf("%w: compose file declares no services", ErrInvalidContent)
	}
	return nil
}

// ValidateEnv checks that content consists of KEY=VALUE lines.
// Blank lines and '#' comments are allowed.
func ValidateEnv(content string) error {
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, found := strings.Cut(trimmed, "=")
		if !found {
			return fmt.Errorf("%w: line %d is not KEY=VALUE", ErrInvalidContent, i+1)
		}
		if !envKeyPattern.MatchString(strings.TrimSpace(key)) {
			return fmt.Errorf("%w: line %d has invalid key %q", ErrInvalidContent, i+1, key)
		}
	}
	return nil
}
