package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom
// rules.
//
// Struct tag validation comes from go-playground/validator; rules that
// cannot be expressed in tags are checked in validateCustomRules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.Collab.Enabled && !cfg.Adapters.REST.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Adapters.Collab.Enabled && cfg.Adapters.REST.Enabled &&
		cfg.Adapters.Collab.Port == cfg.Adapters.REST.Port {
		return fmt.Errorf("adapters: collab and rest adapters configured on the same port %d",
			cfg.Adapters.Collab.Port)
	}

	if cfg.Directory.Type == "neo4j" {
		if uri, _ := cfg.Directory.Neo4j["uri"].(string); uri == "" {
			return fmt.Errorf("directory.neo4j: uri is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
