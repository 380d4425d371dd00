package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const starterHeader = `# jump configuration
# Each chain is a list of hops. The first hop is dialed directly and every
# following hop is reached through the one before it.
`

// StarterConfig returns the config written by 'jump init' for the given
// chain. A nil chain yields an example gateway/target pair.
func StarterConfig(name string, chain Chain) *Config {
	cfg := DefaultConfig()
	if chain == nil {
		chain = Chain{
			{Host: "gateway.example.com", User: "${USER}", Agent: true},
			{Host: "10.0.0.5", User: "deploy", KeyFile: "~/.ssh/id_ed25519"},
		}
	}
	cfg.Chains[name] = chain
	cfg.Default = name
	return cfg
}

// WriteStarter writes cfg to path. It refuses to overwrite an existing file
// unless force is set.
func WriteStarter(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists", path)
	}

	var buf strings.Builder
	buf.WriteString(starterHeader)
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// Hops may carry passwords.
	if err := os.WriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// AddChain adds or replaces a chain in the config file at configPath.
// It preserves the existing YAML structure and comments.
func AddChain(configPath, name string, chain Chain) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse as yaml.Node to preserve structure
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid YAML document structure")
	}
	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping at document root")
	}

	var chainNode yaml.Node
	if err := chainNode.Encode(chain); err != nil {
		return fmt.Errorf("failed to encode chain: %w", err)
	}

	chainsNode := findMapValue(docNode, "chains")
	if chainsNode == nil || chainsNode.Kind != yaml.MappingNode {
		fresh := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if chainsNode == nil {
			docNode.Content = append(docNode.Content, scalar("chains"), fresh)
		} else {
			// chains: with no value parses as null.
			*chainsNode = *fresh
		}
		chainsNode = findMapValue(docNode, "chains")
	}

	if existing := findMapValue(chainsNode, name); existing != nil {
		*existing = chainNode
	} else {
		chainsNode.Content = append(chainsNode.Content, scalar(name), &chainNode)
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(configPath, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return valueNode
		}
	}

	return nil
}
