// Package config handles configuration loading, validation, and persistence
// for the GalaxyGate login gateway.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultLoginPort  = 44453
	DefaultZonePort   = 44463
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure for GalaxyGate.
type Config struct {
	mu   sync.RWMutex
	path string

	Server   ServerConfig   `json:"server"`
	Protocol ProtocolConfig `json:"protocol"`
	Galaxy   GalaxyConfig   `json:"galaxy"`
	Accounts AccountsConfig `json:"accounts"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains the UDP listener settings.
type ServerConfig struct {
	Name        string `json:"name"`
	BindAddress string `json:"bind_address"`
	LoginPort   int    `json:"login_port"`
	MaxSessions int    `json:"max_sessions"`
}

// ProtocolConfig contains tunables for the session layer. Durations are
// expressed in the unit named by the JSON key.
type ProtocolConfig struct {
	CRCSeed            uint32 `json:"crc_seed"`
	MaxPacketSize      int    `json:"max_packet_size"`
	TickIntervalMs     int    `json:"tick_interval_ms"`
	RetransmitDelayMs  int    `json:"retransmit_delay_ms"`
	MaxRetransmits     int    `json:"max_retransmits"`
	IdleTimeoutSec     int    `json:"idle_timeout_sec"`
	FragmentTimeoutSec int    `json:"fragment_timeout_sec"`
	OutOfOrderWindow   int    `json:"out_of_order_window"`
}

// GalaxyConfig describes the galaxy clusters advertised to clients.
type GalaxyConfig struct {
	Clusters []ClusterConfig `json:"clusters"`
}

// ClusterConfig describes a single galaxy cluster entry.
type ClusterConfig struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	ZoneAddress string `json:"zone_address"`
	ZonePort    int    `json:"zone_port"`
	MaxPlayers  int    `json:"max_players"`
	Online      bool   `json:"online"`
	Recommended bool   `json:"recommended"`
}

// AccountsConfig contains account store settings.
type AccountsConfig struct {
	DatabasePath  string `json:"database_path"`
	AutoCreate    bool   `json:"auto_create"`
	MaxCharacters int    `json:"max_characters"`
}

// APIConfig contains REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	BindAddress    string   `json:"bind_address"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "GalaxyGate",
			BindAddress: "0.0.0.0",
			LoginPort:   DefaultLoginPort,
			MaxSessions: 1000,
		},
		Protocol: ProtocolConfig{
			CRCSeed:            0xDEAD,
			MaxPacketSize:      496,
			TickIntervalMs:     200,
			RetransmitDelayMs:  500,
			MaxRetransmits:     5,
			IdleTimeoutSec:     300,
			FragmentTimeoutSec: 10,
			OutOfOrderWindow:   128,
		},
		Galaxy: GalaxyConfig{
			Clusters: []ClusterConfig{
				{
					ID:          1,
					Name:        "GalaxyGate",
					ZoneAddress: "",
					ZonePort:    DefaultZonePort,
					MaxPlayers:  3000,
					Online:      true,
					Recommended: true,
				},
			},
		},
		Accounts: AccountsConfig{
			DatabasePath:  "data/accounts.db",
			AutoCreate:    true,
			MaxCharacters: 2,
		},
		API: APIConfig{
			Enabled:        true,
			BindAddress:    "0.0.0.0",
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   100,
			TLSEnabled:     false,
			TLSCertFile:    "config/api-cert.pem",
			TLSKeyFile:     "config/api-key.pem",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			UseTLS:      false,
			TopicPrefix: "galaxygate",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetProtocol returns a copy of the protocol configuration.
func (c *Config) GetProtocol() ProtocolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Protocol
}

// GetGalaxy returns a copy of the galaxy configuration.
func (c *Config) GetGalaxy() GalaxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.Galaxy
	out.Clusters = make([]ClusterConfig, len(c.Galaxy.Clusters))
	copy(out.Clusters, c.Galaxy.Clusters)
	return out
}

// GetAccounts returns a copy of the accounts configuration.
func (c *Config) GetAccounts() AccountsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Accounts
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.API
	out.AllowedOrigins = make([]string, len(c.API.AllowedOrigins))
	copy(out.AllowedOrigins, c.API.AllowedOrigins)
	return out
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateServerField updates a specific field in the server section by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current section to map
	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	// Update field
	m[key] = value

	// Unmarshal back
	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.Server); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// UpdateProtocolField updates a specific field in the protocol section by its JSON key.
func (c *Config) UpdateProtocolField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Protocol)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.Protocol); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
