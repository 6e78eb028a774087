package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above each top-level key of a generated
// config file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, or a file path)",
	"server":  "Server: graceful shutdown timeout and the optional Prometheus exporter",
	"mount": "Mount: presentation is npy (datasets as <name>.npy with a synthesized header)\n" +
		"or raw (datasets as <name>, payload bytes only). The mountpoint is usually\n" +
		"given on the command line: h5fs mount <mountpoint>. cache.enabled keeps\n" +
		"lookups and listings in memory for cache.ttl (at most cache.max_entries)",
	"store": "Data Store: badger (persistent, built with `h5fs import`) or memory\n" +
		"(ephemeral; set memory.source to a directory of .npy files to seed it)",
	"content": "Payload storage for the badger store: filesystem, s3 or memory.\n" +
		"s3 keys: region, bucket, key_prefix, endpoint, access_key_id,\n" +
		"secret_access_key, max_retries, force_path_style, requests_per_second, burst",
}

// InitConfig writes a default configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: File exists (without force) or write failure
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a file header and a
// comment above every section.
func generateYAMLWithComments(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# h5fs configuration file\n" +
		"#\n" +
		"# Every key can be overridden with an H5FS_ environment variable,\n" +
		"# e.g. H5FS_LOGGING_LEVEL=DEBUG.\n\n"
	return append([]byte(header), body...), nil
}
