package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/h5fs/pkg/store/hdf5"
	"github.com/mitchellh/mapstructure"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Mount.Cache.TTL < 0 || cfg.Mount.Cache.MaxEntries < 0 {
		return fmt.Errorf("mount.cache: ttl and max_entries must not be negative")
	}

	if cfg.Store.Type == "hdf5" {
		var hdf5Cfg hdf5.HDF5StoreConfig
		if err := mapstructure.Decode(cfg.Store.HDF5, &hdf5Cfg); err != nil {
			return fmt.Errorf("store.hdf5: %w", err)
		}
		if hdf5Cfg.Path == "" {
			return fmt.Errorf("store.hdf5: path is required")
		}
	}

	if cfg.Store.Type == "badger" {
		var badgerCfg struct {
			DBPath   string `mapstructure:"db_path"`
			InMemory bool   `mapstructure:"in_memory"`
		}
		if err := mapstructure.Decode(cfg.Store.Badger, &badgerCfg); err != nil {
			return fmt.Errorf("store.badger: %w", err)
		}
		if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
			return fmt.Errorf("store.badger: db_path is required")
		}

		// A persistent index over volatile payloads would dangle after a restart
		if cfg.Content.Type == "memory" && !badgerCfg.InMemory {
			return fmt.Errorf("content: type memory cannot back a persistent badger store (set store.badger.in_memory or choose filesystem/s3)")
		}

		if cfg.Content.Type == "s3" {
			var s3Cfg S3Options
			if err := mapstructure.Decode(cfg.Content.S3, &s3Cfg); err != nil {
				return fmt.Errorf("content.s3: %w", err)
			}
			if s3Cfg.Bucket == "" {
				return fmt.Errorf("content.s3: bucket is required")
			}
			if s3Cfg.Region == "" {
				return fmt.Errorf("content.s3: region is required")
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
