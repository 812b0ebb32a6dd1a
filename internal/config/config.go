/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted as YAML in the user scope.
// Environment variables are read-only overrides applied at load time.
// The recognizer API key is never written to the file; it lives in the OS keychain.
type AppConfig struct {
	ConfigVersion int              `yaml:"config_version"`
	Canvas        CanvasConfig     `yaml:"canvas"`
	Backend       BackendConfig    `yaml:"backend"`
	Server        ServerConfig     `yaml:"server"`
	Recognizer    RecognizerConfig `yaml:"recognizer"`
	Prompt        PromptConfig     `yaml:"prompt"`
	Logging       LoggingConfig    `yaml:"logging"`
}

type CanvasConfig struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	PenWidth float64 `yaml:"pen_width"`
}

// BackendConfig is where the desktop client submits drawings.
type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	CachePath     string `yaml:"cache_path"` // empty disables the result cache
	MaxImageWidth int    `yaml:"max_image_width"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// RecognizerConfig points at an OpenAI-compatible chat completions API.
type RecognizerConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type PromptConfig struct {
	Macros string `yaml:"macros"`
	Text   string `yaml:"text"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// DefaultMacros are offered in the macro box on first start.
const DefaultMacros = `\newcommand{\R}{\mathbb{R}}
\newcommand{\vct}[1]{\mathbf{#1}}
\newcommand{\gvct}[1]{\boldsymbol{#1}}
\newcommand{\mat}[1]{\mathbf{#1}}
\newcommand{\gmat}[1]{\boldsymbol{#1}}`

// DefaultPrompt is the extra instruction appended to every recognition request.
const DefaultPrompt = `Vectors and matrices should be expressed using \vct (for Latin vectors), \gvec (for Greek vectors), \mat (for Latin matrices), and \gmat (for Greek matrices). ` + "\n" +
	`Characters with double lines should be interpreted as vectors if they are lowercase letters, and as matrices if they are uppercase letters. `

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Canvas:        CanvasConfig{Width: 1200, Height: 400, PenWidth: 4},
		Backend:       BackendConfig{BaseURL: "http://localhost:5000", TimeoutMs: 60000},
		Server:        ServerConfig{Addr: ":5000", MaxImageWidth: 2400, MaxBodyBytes: 16 << 20},
		Recognizer:    RecognizerConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o", MaxTokens: 512, TimeoutMs: 60000},
		Prompt:        PromptConfig{Macros: DefaultMacros, Text: DefaultPrompt},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile         = "MSK_CONFIG_FILE"
	EnvBackendURL         = "MSK_BACKEND_URL"
	EnvBackendTimeoutMs   = "MSK_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsecure = "MSK_TLS_INSECURE"
	EnvServerAddr         = "MSK_SERVER_ADDR"
	EnvCachePath          = "MSK_CACHE_PATH"
	EnvModel              = "MSK_MODEL"
	EnvRecognizerURL      = "MSK_RECOGNIZER_URL"
	EnvAPIKey             = "MSK_API_KEY"
	EnvOpenAIKey          = "OPENAI_API_KEY"

	EnvLogLevel  = "MSK_LOG_LEVEL"
	EnvLogFormat = "MSK_LOG_FORMAT"
	EnvLogSource = "MSK_LOG_SOURCE"
	EnvLogFile   = "MSK_LOG_FILE"
)

// ConfigPath returns the per-user config file path. MSK_CONFIG_FILE wins if set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "MathSketch")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "MathSketch")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "mathsketch")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "mathsketch")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present) over the defaults and applies
// environment overrides. The recognizer API key is returned separately.
// A malformed file is reported, but the defaults are still returned.
func Load() (AppConfig, string, error) {
	cfg, err := LoadFile()
	applyEnvOverrides(&cfg)
	return cfg, apiKey(), err
}

// LoadFile is the defaults merged with the config file, without environment
// overrides. It is what Save should be given when rewriting the file.
func LoadFile() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	return cfg, nil
}

// Save writes the user config YAML and stores apiKey in the OS keychain when non-empty.
func Save(cfg AppConfig, key string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if key != "" {
		if err := tokenStore.Set(keyringService, keyringAPIKey, key); err != nil {
			return fmt.Errorf("store api key: %w", err)
		}
	}
	return nil
}

func apiKey() string {
	for _, env := range []string{EnvAPIKey, EnvOpenAIKey} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	k, _ := tokenStore.Get(keyringService, keyringAPIKey)
	return k
}

func mergeInto(dst, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}

	if src.Canvas.Width > 0 {
		dst.Canvas.Width = src.Canvas.Width
	}
	if src.Canvas.Height > 0 {
		dst.Canvas.Height = src.Canvas.Height
	}
	if src.Canvas.PenWidth > 0 {
		dst.Canvas.PenWidth = src.Canvas.PenWidth
	}

	setString(&dst.Backend.BaseURL, src.Backend.BaseURL)
	setInt(&dst.Backend.TimeoutMs, src.Backend.TimeoutMs)
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure

	setString(&dst.Server.Addr, src.Server.Addr)
	setString(&dst.Server.CachePath, src.Server.CachePath)
	setInt(&dst.Server.MaxImageWidth, src.Server.MaxImageWidth)
	if src.Server.MaxBodyBytes > 0 {
		dst.Server.MaxBodyBytes = src.Server.MaxBodyBytes
	}

	setString(&dst.Recognizer.BaseURL, src.Recognizer.BaseURL)
	setString(&dst.Recognizer.Model, src.Recognizer.Model)
	setInt(&dst.Recognizer.MaxTokens, src.Recognizer.MaxTokens)
	setInt(&dst.Recognizer.TimeoutMs, src.Recognizer.TimeoutMs)

	// Empty prompt texts in the file keep the defaults.
	if src.Prompt.Macros != "" {
		dst.Prompt.Macros = src.Prompt.Macros
	}
	if src.Prompt.Text != "" {
		dst.Prompt.Text = src.Prompt.Text
	}

	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	setString(&dst.Logging.File, src.Logging.File)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func applyEnvOverrides(cfg *AppConfig) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	if v := env(EnvBackendURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := env(EnvBackendTimeoutMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := env(EnvBackendTLSInsecure); v != "" {
		cfg.Backend.TLSInsecure = truthy(v)
	}
	if v := env(EnvServerAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := env(EnvCachePath); v != "" {
		cfg.Server.CachePath = v
	}
	if v := env(EnvModel); v != "" {
		cfg.Recognizer.Model = v
	}
	if v := env(EnvRecognizerURL); v != "" {
		cfg.Recognizer.BaseURL = v
	}
	if v := env(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := env(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := env(EnvLogSource); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := env(EnvLogFile); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"backend.base_url":     EnvBackendURL,
	"backend.timeout_ms":   EnvBackendTimeoutMs,
	"backend.tls_insecure": EnvBackendTLSInsecure,
	"server.addr":          EnvServerAddr,
	"server.cache_path":    EnvCachePath,
	"recognizer.model":     EnvModel,
	"recognizer.base_url":  EnvRecognizerURL,
	"logging.level":        EnvLogLevel,
	"logging.format":       EnvLogFormat,
	"logging.source":       EnvLogSource,
	"logging.file":         EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by the environment.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// EnvOverrides lists the config keys currently set from the environment, sorted.
func EnvOverrides() []string {
	var keys []string
	for _, k := range slices.Sorted(maps.Keys(envKeys)) {
		if _, ok := EnvOverrideFor(k); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Timeout returns the backend request timeout, falling back to the default.
func (b BackendConfig) Timeout() time.Duration {
	ms := b.TimeoutMs
	if ms <= 0 {
		ms = Defaults().Backend.TimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Timeout returns the recognizer request timeout, falling back to the default.
func (r RecognizerConfig) Timeout() time.Duration {
	ms := r.TimeoutMs
	if ms <= 0 {
		ms = Defaults().Recognizer.TimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}
