package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	switch cfg.Images.Type {
	case "filesystem":
		var fsCfg struct {
			Path string `mapstructure:"path"`
		}
		if err := mapstructure.Decode(cfg.Images.Filesystem, &fsCfg); err != nil {
			return fmt.Errorf("images.filesystem: %w", err)
		}
		if fsCfg.Path == "" {
			return errors.New("images.filesystem.path: must not be empty")
		}
	case "s3":
		var s3Cfg struct {
			Bucket string `mapstructure:"bucket"`
			Region string `mapstructure:"region"`
		}
		if err := mapstructure.Decode(cfg.Images.S3, &s3Cfg); err != nil {
			return fmt.Errorf("images.s3: %w", err)
		}
		if s3Cfg.Bucket == "" {
			return errors.New("images.s3.bucket: must not be empty")
		}
		if s3Cfg.Region == "" {
			return errors.New("images.s3.region: must not be empty")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
