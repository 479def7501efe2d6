package serverapi

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries all runtime settings. Values load from a YAML file when
// one is given; environment variables fill anything the file left empty.
type Config struct {
	DatabaseURL  string `json:"database_url" yaml:"database_url"`
	Port         string `json:"port" yaml:"port"`
	Addr         string `json:"addr" yaml:"addr"`
	NATSURL      string `json:"nats_url" yaml:"nats_url"`
	NATSUser     string `json:"nats_user" yaml:"nats_user"`
	NATSPassword string `json:"nats_password" yaml:"nats_password"`
	KVAddr       string `json:"kv_addr" yaml:"kv_addr"`
	KVPassword   string `json:"kv_password" yaml:"kv_password"`

	// BackendKind selects the execution backend: "http" or "ollama".
	BackendKind string `json:"backend_kind" yaml:"backend_kind"`
	BackendURL  string `json:"backend_url" yaml:"backend_url"`
	// BackendTokenSecret unseals stored backend credentials.
	BackendTokenSecret string `json:"backend_token_secret" yaml:"backend_token_secret"`
	DefaultModel       string `json:"default_model" yaml:"default_model"`

	Token string `json:"token" yaml:"token"`
}

// LoadConfig fills cfg from environment variables, matching each json tag
// against the lowercased variable name.
func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}

// LoadConfigFile reads a YAML config file over cfg. Missing file is not an
// error so env-only deployments work without one.
func LoadConfigFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
