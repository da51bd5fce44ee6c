// Package settings resolves process-level settings from defaults, a .env file
// at the project root and the environment, in increasing precedence.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/throw-if-null/vibe/internal/api"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/paths"
)

var ErrInvalid = errors.New("invalid settings")

type Settings struct {
	AppName          string        `json:"app_name"`
	Debug            bool          `json:"debug"`
	LogLevel         string        `json:"log_level"`
	Environment      string        `json:"environment"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	AssistantCommand string        `json:"assistant_command"`
	AllowedTools     string        `json:"assistant_allowed_tools"`
	CheckShell       string        `json:"check_shell"`
	CheckTimeout     time.Duration `json:"check_timeout"`
	OTLPEndpoint     string        `json:"otel_exporter_otlp_endpoint"`
}

// MarshalJSON writes CheckTimeout in time.ParseDuration form so printed
// settings can be pasted back into .env.
func (s Settings) MarshalJSON() ([]byte, error) {
	type plain Settings
	return json.Marshal(struct {
		plain
		CheckTimeout string `json:"check_timeout"`
	}{plain: plain(s), CheckTimeout: s.CheckTimeout.String()})
}

func Default() Settings {
	return Settings{
		AppName:          "vibe",
		LogLevel:         "INFO",
		Environment:      "development",
		Host:             api.DefaultHost,
		Port:             api.DefaultPort,
		AssistantCommand: "claude",
		AllowedTools:     "Bash,Read,Edit",
		CheckShell:       "/bin/sh",
	}
}

// Level returns the effective minimum log level. Debug forces DEBUG.
func (s Settings) Level() logging.Level {
	if s.Debug {
		return logging.LevelDebug
	}
	lvl, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return lvl
}

// Load reads <root>/.env (if present) and the process environment.
func Load(root string) (Settings, error) {
	return LoadFrom(paths.EnvPath(root), os.Environ())
}

// LoadFrom resolves settings from envFile and environ ("KEY=value" pairs).
// Keys are matched case-insensitively and unknown keys are ignored. A missing
// envFile is not an error.
func LoadFrom(envFile string, environ []string) (Settings, error) {
	values := map[string]string{}
	if envFile != "" {
		fileVals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("%w: reading %s: %v", ErrInvalid, envFile, err)
		}
		for k, v := range fileVals {
			values[strings.ToLower(k)] = v
		}
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		values[strings.ToLower(k)] = v
	}
	return fromValues(values)
}

func fromValues(values map[string]string) (Settings, error) {
	s := Default()
	if v, ok := values["app_name"]; ok {
		s.AppName = v
	}
	if v, ok := values["debug"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Settings{}, fmt.Errorf("%w: DEBUG: %q is not a boolean", ErrInvalid, v)
		}
		s.Debug = b
	}
	if v, ok := values["log_level"]; ok {
		level := strings.ToUpper(strings.TrimSpace(v))
		switch level {
		case "CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG":
			s.LogLevel = level
		default:
			return Settings{}, fmt.Errorf("%w: LOG_LEVEL must be one of CRITICAL, ERROR, WARNING, INFO, DEBUG; got %q", ErrInvalid, v)
		}
	}
	if v, ok := values["environment"]; ok {
		s.Environment = v
	}
	if v, ok := values["host"]; ok {
		s.Host = v
	}
	if v, ok := values["port"]; ok {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || p < 0 || p > 65535 {
			return Settings{}, fmt.Errorf("%w: PORT: %q is not a valid port", ErrInvalid, v)
		}
		s.Port = p
	}
	if v, ok := values["assistant_command"]; ok && strings.TrimSpace(v) != "" {
		s.AssistantCommand = v
	}
	if v, ok := values["assistant_allowed_tools"]; ok {
		s.AllowedTools = v
	}
	if v, ok := values["check_shell"]; ok && strings.TrimSpace(v) != "" {
		s.CheckShell = v
	}
	if v, ok := values["check_timeout"]; ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			return Settings{}, fmt.Errorf("%w: CHECK_TIMEOUT: %q is not a valid duration", ErrInvalid, v)
		}
		s.CheckTimeout = d
	}
	if v, ok := values["otel_exporter_otlp_endpoint"]; ok {
		s.OTLPEndpoint = v
	}
	return s, nil
}
