package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Duration is a time.Duration that unmarshals from either a JSON number
// of milliseconds or a Go duration string such as "30m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a number or string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
	Dir    string `json:"dir,omitempty"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Backend is "memory" or "file".
	Backend string `json:"backend,omitempty"`
	// Dir is the file backend's root directory.
	Dir string `json:"dir,omitempty"`
}

// CacheConfig selects the recovery cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend,omitempty"`
	// Size bounds the memory backend's entry count.
	Size int `json:"size,omitempty"`

	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty"`
}

// SessionDefaults fills unset fields on new sessions.
type SessionDefaults struct {
	Timeout        Duration `json:"timeout,omitempty"`
	MaxMessages    int      `json:"maxMessages,omitempty"`
	MaxAttachments int      `json:"maxAttachments,omitempty"`
	BlockedTools   []string `json:"blockedTools,omitempty"`
	AllowedTools   []string `json:"allowedTools,omitempty"`
}

// RetryConfig tunes one retry policy.
type RetryConfig struct {
	MaxRetries      int      `json:"maxRetries,omitempty"`
	BaseDelay       Duration `json:"baseDelay,omitempty"`
	MaxDelay        Duration `json:"maxDelay,omitempty"`
	ExponentialBase float64  `json:"exponentialBase,omitempty"`
	Jitter          *bool    `json:"jitter,omitempty"`
}

// RecoveryConfig tunes checkpoints and event replay.
type RecoveryConfig struct {
	CheckpointTTL Duration `json:"checkpointTTL,omitempty"`
	BufferTTL     Duration `json:"bufferTTL,omitempty"`
	BufferCap     int      `json:"bufferCap,omitempty"`
	ReconnectTTL  Duration `json:"reconnectTTL,omitempty"`
}

// ApprovalConfig tunes the tool approval gate.
type ApprovalConfig struct {
	DecisionTTL Duration `json:"decisionTTL,omitempty"`
}

// Config is the engine configuration.
type Config struct {
	Log      LogConfig       `json:"log,omitempty"`
	Storage  StorageConfig   `json:"storage,omitempty"`
	Cache    CacheConfig     `json:"cache,omitempty"`
	Session  SessionDefaults `json:"session,omitempty"`
	Agent    RetryConfig     `json:"agentRetry,omitempty"`
	Tool     RetryConfig     `json:"toolRetry,omitempty"`
	Recovery RecoveryConfig  `json:"recovery,omitempty"`
	Approval ApprovalConfig  `json:"approval,omitempty"`
	// MaxSteps caps agent round-trips within one turn.
	MaxSteps int `json:"maxSteps,omitempty"`
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/agentcore/)
// 2. Project config (.agentcore/ or the directory itself)
// 3. AGENTCORE_CONFIG file
// 4. AGENTCORE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "agentcore.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "agentcore.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".agentcore")
		loadOnce(filepath.Join(directory, "agentcore.json"), directory)
		loadOnce(filepath.Join(directory, "agentcore.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "agentcore.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "agentcore.jsonc"), projectConfigDir)
	}

	// 3. AGENTCORE_CONFIG file override
	if configPath := os.Getenv("AGENTCORE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. AGENTCORE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("AGENTCORE_CONFIG_CONTENT"); configContent != "" {
		var inline Config
		if err := json.Unmarshal([]byte(configContent), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
	if source.Log.Dir != "" {
		target.Log.Dir = source.Log.Dir
	}

	if source.Storage.Backend != "" {
		target.Storage.Backend = source.Storage.Backend
	}
	if source.Storage.Dir != "" {
		target.Storage.Dir = source.Storage.Dir
	}

	if source.Cache.Backend != "" {
		target.Cache.Backend = source.Cache.Backend
	}
	if source.Cache.Size > 0 {
		target.Cache.Size = source.Cache.Size
	}
	if source.Cache.RedisAddr != "" {
		target.Cache.RedisAddr = source.Cache.RedisAddr
	}
	if source.Cache.RedisPassword != "" {
		target.Cache.RedisPassword = source.Cache.RedisPassword
	}
	if source.Cache.RedisDB != 0 {
		target.Cache.RedisDB = source.Cache.RedisDB
	}

	if source.Session.Timeout > 0 {
		target.Session.Timeout = source.Session.Timeout
	}
	if source.Session.MaxMessages > 0 {
		target.Session.MaxMessages = source.Session.MaxMessages
	}
	if source.Session.MaxAttachments > 0 {
		target.Session.MaxAttachments = source.Session.MaxAttachments
	}
	if len(source.Session.BlockedTools) > 0 {
		target.Session.BlockedTools = append(target.Session.BlockedTools, source.Session.BlockedTools...)
	}
	if len(source.Session.AllowedTools) > 0 {
		target.Session.AllowedTools = append(target.Session.AllowedTools, source.Session.AllowedTools...)
	}

	mergeRetry(&target.Agent, &source.Agent)
	mergeRetry(&target.Tool, &source.Tool)

	if source.Recovery.CheckpointTTL > 0 {
		target.Recovery.CheckpointTTL = source.Recovery.CheckpointTTL
	}
	if source.Recovery.BufferTTL > 0 {
		target.Recovery.BufferTTL = source.Recovery.BufferTTL
	}
	if source.Recovery.BufferCap > 0 {
		target.Recovery.BufferCap = source.Recovery.BufferCap
	}
	if source.Recovery.ReconnectTTL > 0 {
		target.Recovery.ReconnectTTL = source.Recovery.ReconnectTTL
	}

	if source.Approval.DecisionTTL > 0 {
		target.Approval.DecisionTTL = source.Approval.DecisionTTL
	}
	if source.MaxSteps > 0 {
		target.MaxSteps = source.MaxSteps
	}
}

func mergeRetry(target, source *RetryConfig) {
	if source.MaxRetries > 0 {
		target.MaxRetries = source.MaxRetries
	}
	if source.BaseDelay > 0 {
		target.BaseDelay = source.BaseDelay
	}
	if source.MaxDelay > 0 {
		target.MaxDelay = source.MaxDelay
	}
	if source.ExponentialBase > 0 {
		target.ExponentialBase = source.ExponentialBase
	}
	if source.Jitter != nil {
		target.Jitter = source.Jitter
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("AGENTCORE_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if dir := os.Getenv("AGENTCORE_DATA_DIR"); dir != "" {
		config.Storage.Dir = dir
	}
	if backend := os.Getenv("AGENTCORE_STORAGE"); backend != "" {
		config.Storage.Backend = backend
	}
	if backend := os.Getenv("AGENTCORE_CACHE"); backend != "" {
		config.Cache.Backend = backend
	}
	if addr := os.Getenv("AGENTCORE_REDIS_ADDR"); addr != "" {
		config.Cache.RedisAddr = addr
		if config.Cache.Backend == "" {
			config.Cache.Backend = "redis"
		}
	}
	if pw := os.Getenv("AGENTCORE_REDIS_PASSWORD"); pw != "" {
		config.Cache.RedisPassword = pw
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
