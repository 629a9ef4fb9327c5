// Package config – loader.go handles loading configuration from YAML files
// with credential management via environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads and parses a YAML configuration file. Loads .env files first,
// expands environment variables, then resolves unset secrets from well-known
// env vars. Returns an error if any ${VAR:?error} variable is missing.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// LoadOrDefault loads the config from path when given, otherwise returns
// defaults resolved from environment variables alone.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	loadEnvFiles()
	cfg := Default()
	resolveSecrets(cfg)
	return cfg, nil
}

// Parse parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"agribot.yaml",
		"agribot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
// godotenv does NOT overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// secretEnvVars maps config fields that may be left empty in YAML to the
// environment variables they resolve from.
func resolveSecrets(cfg *Config) {
	resolve := func(dst *string, envVars ...string) {
		if *dst != "" && !isEnvReference(*dst) {
			return
		}
		for _, name := range envVars {
			if val := os.Getenv(name); val != "" {
				*dst = val
				return
			}
		}
		if isEnvReference(*dst) {
			// Unresolved placeholder — treat as unset.
			*dst = ""
		}
	}

	resolve(&cfg.WPP.BaseURL, "WPPCONNECT_BASE_URL")
	resolve(&cfg.WPP.Session, "WPPCONNECT_SESSION_NAME")
	resolve(&cfg.WPP.Token, "WPPCONNECT_TOKEN")
	resolve(&cfg.WPP.SecretKey, "WPPCONNECT_SECRET_KEY")
	resolve(&cfg.LLM.APIKey, "GROQ_API_KEY")
	resolve(&cfg.Language.APIKey, "SARVAM_AI_API_KEY")
	resolve(&cfg.Tools.SerpAPIKey, "SERPAPI_API_KEY")
	resolve(&cfg.Tools.OpenWeatherMapKey, "OPENWEATHERMAP_API_KEY")
	resolve(&cfg.Tools.TavilyKey, "TAVILY_API_KEY")

	cfg.WPP.BaseURL = strings.TrimRight(cfg.WPP.BaseURL, "/")
}

// isEnvReference reports whether a value still looks like an unexpanded
// environment variable reference.
func isEnvReference(v string) bool {
	return strings.HasPrefix(v, "${") || strings.HasPrefix(v, "$")
}

// expandEnvVarsWithValidation expands env references and surfaces
// ${VAR:?error} failures as errors.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	if idx := strings.Index(result, "ERROR:"); idx != -1 {
		rest := result[idx+6:]
		colonIdx := strings.Index(rest, ":")
		if colonIdx == -1 {
			return "", fmt.Errorf("config error: malformed error marker")
		}
		varName := rest[:colonIdx]
		errorMsg := rest[colonIdx+1:]
		if nl := strings.IndexByte(errorMsg, '\n'); nl != -1 {
			errorMsg = errorMsg[:nl]
		}
		if errorMsg == "" {
			errorMsg = "required environment variable not set"
		}
		return "", fmt.Errorf("config error: %s - %s", varName, errorMsg)
	}
	return result, nil
}

// expandEnvVars replaces env references with their values.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)

		var varName, modifierType, modifierValue, bareVar string
		if len(submatches) >= 2 {
			varName = submatches[1]
		}
		if len(submatches) >= 3 {
			modifierType = submatches[2]
		}
		if len(submatches) >= 4 {
			modifierValue = submatches[3]
		}
		if len(submatches) >= 5 {
			bareVar = submatches[4]
		}

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if varName != "" {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			if modifierType == "?" {
				errorMsg := modifierValue
				if errorMsg == "" {
					errorMsg = "required environment variable not set"
				}
				return "ERROR:" + varName + ":" + errorMsg
			}
			if modifierType == "-" {
				return modifierValue
			}
			return match
		}

		return match
	})
}
