package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoMount Configuration File
#
# Values may be overridden with DITTOMOUNT_* environment variables,
# e.g. DITTOMOUNT_DEVICE_ADDRESS=10.0.0.5
`

// InitConfig writes a sample configuration to the default location.
//
// Returns the path of the written file. An existing file is only replaced
// when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above each section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	addSection(root, "logging", "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file)",
		mapping(
			scalar("level", cfg.Logging.Level),
			scalar("format", cfg.Logging.Format),
			scalar("output", cfg.Logging.Output),
		))

	addSection(root, "device", "Device address and the host pairing record used for lockdown sessions",
		mapping(
			scalar("address", cfg.Device.Address),
			scalar("lockdown_port", cfg.Device.LockdownPort),
			scalar("label", cfg.Device.Label),
			scalar("pairing_record", cfg.Device.PairingRecord),
		))

	addSection(root, "connection", "Timeouts and upload tuning; 0 disables read/write timeouts and the rate limit",
		mapping(
			scalar("dial_timeout", duration(cfg.Connection.DialTimeout)),
			scalar("read_timeout", duration(cfg.Connection.ReadTimeout)),
			scalar("write_timeout", duration(cfg.Connection.WriteTimeout)),
			scalar("upload_rate_limit", cfg.Connection.UploadRateLimit),
			scalar("upload_chunk_size", cfg.Connection.UploadChunkSize),
		))

	images := mapping(scalar("type", cfg.Images.Type))
	if len(cfg.Images.Filesystem) > 0 {
		node, err := encodeNode(cfg.Images.Filesystem)
		if err != nil {
			return "", err
		}
		images.Content = append(images.Content, keyNode("filesystem"), node)
	}
	if len(cfg.Images.S3) > 0 {
		node, err := encodeNode(cfg.Images.S3)
		if err != nil {
			return "", err
		}
		images.Content = append(images.Content, keyNode("s3"), node)
	}
	addSection(root, "images", "Image source: filesystem (path) or s3 (bucket, region, key_prefix, endpoint)", images)

	addSection(root, "metrics", "Prometheus endpoint served by the watch command",
		mapping(
			scalar("enabled", cfg.Metrics.Enabled),
			scalar("port", cfg.Metrics.Port),
		))

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.String(), nil
}

type pair [2]*yaml.Node

func addSection(root *yaml.Node, name, comment string, value *yaml.Node) {
	key := keyNode(name)
	key.HeadComment = comment
	root.Content = append(root.Content, key, value)
}

func mapping(pairs ...pair) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pairs {
		node.Content = append(node.Content, p[0], p[1])
	}
	return node
}

func scalar(key string, value any) pair {
	node, err := encodeNode(value)
	if err != nil {
		node = &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprint(value)}
	}
	return pair{keyNode(key), node}
}

func keyNode(name string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
}

func encodeNode(value any) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return nil, fmt.Errorf("failed to encode %v: %w", value, err)
	}
	return &node, nil
}

// duration keeps durations human readable instead of nanosecond integers.
func duration(d time.Duration) string {
	return d.String()
}
