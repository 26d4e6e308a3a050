package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoSync Configuration File
#
# Generated by 'dittosync init'. Every value below is the default.
# Environment variables override this file: DITTOSYNC_<SECTION>_<KEY>,
# for example DITTOSYNC_PROVIDER_PORT=7500.
`

// sectionComments are attached above the matching key of the generated file.
var sectionComments = map[string]string{
	"logging":                     "Logging: level is DEBUG, INFO, WARN or ERROR; format is text or json",
	"server":                      "Server-wide settings",
	"server.metrics":              "Prometheus /metrics endpoint",
	"content":                     "Where replicated files live: filesystem, memory or s3",
	"content.s3":                  "Only used when type is s3 (bucket, region, endpoint, key_prefix, ...)",
	"checksum":                    "Checksum cache: memory, or badger to survive restarts",
	"provider":                    "Provider listener used by 'dittosync serve'",
	"provider.port":               "-1 binds an ephemeral port",
	"provider.idle_timeout":       "Drop a requester that sends nothing for this long",
	"provider.stall_timeout":      "Abort an upload whose payload stops making progress",
	"provider.not_found_reply":    "Answer a get for a missing file with notFound instead of silence",
	"provider.enumerate_interval": "Pause between announcements when answering list",
	"requester":                   "Requester settings used by 'dittosync fetch' and 'dittosync push'",
	"requester.address":           "Default provider address (host:port)",
}

// InitConfig writes a commented default configuration file to the default
// location and returns its path.
//
// Fails if the file already exists, unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented default configuration file to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML using the mapstructure key
// names, with a header and per-section comments.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root, err := toNode(reflect.ValueOf(*cfg), "")
	if err != nil {
		return "", fmt.Errorf("failed to build config document: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(configHeader)
	sb.WriteString("\n")

	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return sb.String(), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// toNode converts a config value into a YAML node. prefix is the dotted key
// path used to look up comments.
func toNode(v reflect.Value, prefix string) (*yaml.Node, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		v = v.Elem()
	}

	if v.Type() == durationType {
		return scalar(time.Duration(v.Int()).String()), nil
	}

	switch v.Kind() {
	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			key := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
			if key == "" || key == "-" {
				continue
			}
			if err := appendPair(node, key, v.Field(i), prefix); err != nil {
				return nil, err
			}
		}
		return node, nil

	case reflect.Map:
		node := &yaml.Node{Kind: yaml.MappingNode}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := appendPair(node, key, v.MapIndex(reflect.ValueOf(key)), prefix); err != nil {
				return nil, err
			}
		}
		return node, nil

	default:
		node := &yaml.Node{}
		if err := node.Encode(v.Interface()); err != nil {
			return nil, err
		}
		return node, nil
	}
}

func appendPair(node *yaml.Node, key string, value reflect.Value, prefix string) error {
	path := key
	if prefix != "" {
		path = prefix + "." + key
	}

	keyNode := scalar(key)
	keyNode.HeadComment = sectionComments[path]

	valueNode, err := toNode(value, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	node.Content = append(node.Content, keyNode, valueNode)
	return nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
