// Package config loads the server configuration: defaults, then an optional
// YAML file checked against an embedded JSON schema, then command-line
// overrides.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"goldprime.ai/internal/auth"
	"goldprime.ai/internal/protocol"
)

//go:embed config.schema.json
var schemaJSON string

const schemaURL = "config.schema.json"

var ErrUnknownOverride = errors.New("config: unknown override")

type Config struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// HTTPAddr serves the observer feed and admin API; empty disables it.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	FrameMS             int    `yaml:"frame_ms" json:"frame_ms"`
	SnapshotEveryFrames uint64 `yaml:"snapshot_every_frames" json:"snapshot_every_frames"`
	LoadLatestSnapshot  bool   `yaml:"load_latest_snapshot" json:"load_latest_snapshot"`

	DataDir       string `yaml:"data_dir" json:"data_dir"`
	AccountingDir string `yaml:"accounting_dir" json:"accounting_dir"`
	DisableDB     bool   `yaml:"disable_db" json:"disable_db"`

	AdminToken        string `yaml:"admin_token" json:"admin_token"`
	AdminAddress      string `yaml:"admin_address" json:"admin_address"`
	ChallengeLength   int    `yaml:"challenge_length" json:"challenge_length"`
	MaxHandshakeBytes int    `yaml:"max_handshake_bytes" json:"max_handshake_bytes"`
	JWTKeyFile        string `yaml:"jwt_key_file" json:"jwt_key_file"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

func Defaults() Config {
	return Config{
		ListenAddr:          fmt.Sprintf(":%d", protocol.DefaultPort),
		HTTPAddr:            fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort+1),
		FrameMS:             50,
		SnapshotEveryFrames: 6000,
		LoadLatestSnapshot:  true,
		DataDir:             "./data",
		AccountingDir:       "./accounting",
		AdminToken:          auth.DefaultAdminToken,
		AdminAddress:        auth.DefaultAdminAddress,
		ChallengeLength:     auth.DefaultChallengeLen,
		MaxHandshakeBytes:   150,
		LogLevel:            "info",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := checkSchema(b); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// checkSchema validates the YAML document as JSON, so the schema sees the
// same number types a JSON document would have.
func checkSchema(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not JSON-compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return err
	}
	s, err := jsonschema.CompileString(schemaURL, schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}

// Validate checks the rules the schema cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}
	if c.FrameMS <= 0 {
		return fmt.Errorf("frame_ms must be positive, got %d", c.FrameMS)
	}
	if c.ChallengeLength <= 0 {
		return fmt.Errorf("challenge_length must be positive, got %d", c.ChallengeLength)
	}
	// A hex signature with prefix and newline is 133 bytes.
	if c.MaxHandshakeBytes < 133 {
		return fmt.Errorf("max_handshake_bytes %d cannot hold a signature", c.MaxHandshakeBytes)
	}
	if len(c.AdminAddress) > protocol.AddressLen || !strings.HasPrefix(c.AdminAddress, "0x") {
		return fmt.Errorf("admin_address %q is not a 0x address", c.AdminAddress)
	}
	if strings.ContainsAny(c.AdminToken, "\r\n") {
		return errors.New("admin_token must be a single line")
	}
	if _, ok := slog.LevelFromString(c.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.DataDir == "" || c.AccountingDir == "" {
		return errors.New("data_dir and accounting_dir are required")
	}
	return nil
}

func (c Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameMS) * time.Millisecond
}

func (c Config) Level() slog.Level {
	l, _ := slog.LevelFromString(c.LogLevel)
	return l
}

// JWTKeyPath defaults to a key file in the data dir.
func (c Config) JWTKeyPath() string {
	if c.JWTKeyFile != "" {
		return c.JWTKeyFile
	}
	return filepath.Join(c.DataDir, "admin_jwt.key")
}

// Override sets one field by its command-line flag name.
func (c *Config) Override(name, value string) error {
	switch name {
	case "listen":
		c.ListenAddr = value
	case "http":
		c.HTTPAddr = value
	case "data":
		c.DataDir = value
	case "accounting":
		c.AccountingDir = value
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "disable_db":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("disable_db: %w", err)
		}
		c.DisableDB = b
	case "load_latest_snapshot":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("load_latest_snapshot: %w", err)
		}
		c.LoadLatestSnapshot = b
	case "frame_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("frame_ms: %w", err)
		}
		c.FrameMS = n
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOverride, name)
	}
	return nil
}
