package envstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EndpointKey is the canonical project endpoint variable.
const EndpointKey = "AIFOUNDRY_PROJECT_ENDPOINT"

// endpointAliases are alternative names azd environments use for the endpoint.
var endpointAliases = []string{"projectEndpoint", "PROJECT_ENDPOINT"}

type azdConfig struct {
	Defaults struct {
		Environment string `json:"environment"`
	} `json:"defaults"`
	DefaultEnvironment string `json:"defaultEnvironment"`
}

// DetectAzdEnvName returns the active azd environment name from AZURE_ENV_NAME
// or <root>/.azure/config.json, or "" when none is configured.
func DetectAzdEnvName(root string) string {
	if name := strings.TrimSpace(os.Getenv("AZURE_ENV_NAME")); name != "" {
		return name
	}
	data, err := os.ReadFile(filepath.Join(root, ".azure", "config.json"))
	if err != nil {
		return ""
	}
	var cfg azdConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	if cfg.Defaults.Environment != "" {
		return cfg.Defaults.Environment
	}
	return cfg.DefaultEnvironment
}

// CandidatePaths lists the env files to load, lowest precedence first:
// the explicit file, the azd environment file, then <root>/.env.
func CandidatePaths(explicit, root string) []string {
	var paths []string
	if strings.TrimSpace(explicit) != "" {
		paths = append(paths, explicit)
	}
	if name := DetectAzdEnvName(root); name != "" {
		paths = append(paths, filepath.Join(root, ".azure", name, ".env"))
	}
	return append(paths, filepath.Join(root, ".env"))
}

// LoadEnvFiles applies each existing file to the process environment in
// order, later files overriding earlier values. Missing files are skipped.
// It returns the files that were loaded.
func LoadEnvFiles(logger *slog.Logger, paths ...string) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var loaded []string
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", path, err)
		}
		logger.Info("Loading environment values", "path", path)
		for key, value := range values {
			if existing, ok := os.LookupEnv(key); ok && existing != "" && existing != value {
				logger.Debug("Overriding environment variable", "key", key)
			}
			if err := os.Setenv(key, value); err != nil {
				return loaded, fmt.Errorf("set %s: %w", key, err)
			}
		}
		loaded = append(loaded, path)
	}
	ApplyEndpointAlias()
	return loaded, nil
}

// ApplyEndpointAlias copies an aliased endpoint variable to EndpointKey when
// the canonical one is unset.
func ApplyEndpointAlias() {
	if os.Getenv(EndpointKey) != "" {
		return
	}
	for _, alias := range endpointAliases {
		if v := os.Getenv(alias); v != "" {
			_ = os.Setenv(EndpointKey, v)
			return
		}
	}
}
