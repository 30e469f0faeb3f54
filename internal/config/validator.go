package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateProtocol(&cfg.Protocol, result)
	validateGalaxy(&cfg.Galaxy, result)
	validateAccounts(&cfg.Accounts, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	// Port conflict detection across listeners
	if cfg.API.Enabled && cfg.API.Port == cfg.Server.LoginPort {
		result.AddError("api.port", "API port conflicts with the login port")
	}

	return result
}

func validateServer(data *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Name) == "" {
		result.AddWarning("server.name", "server name is empty")
	}

	validatePort(data.LoginPort, "server.login_port", result)

	if data.BindAddress != "" && net.ParseIP(data.BindAddress) == nil {
		result.AddError("server.bind_address",
			fmt.Sprintf("invalid bind address: %s", data.BindAddress))
	}

	if data.MaxSessions < 1 {
		result.AddError("server.max_sessions", "must allow at least 1 session")
	}
	if data.MaxSessions > 10000 {
		result.AddWarning("server.max_sessions",
			fmt.Sprintf("high session limit (%d) may cause performance issues", data.MaxSessions))
	}
}

func validateProtocol(data *ProtocolConfig, result *ValidationResult) {
	if data.MaxPacketSize < 64 {
		result.AddError("protocol.max_packet_size", "packet size must be at least 64 bytes")
	}
	if data.MaxPacketSize > 1400 {
		result.AddWarning("protocol.max_packet_size",
			fmt.Sprintf("packet size (%d) exceeds a safe MTU and may fragment at the IP layer", data.MaxPacketSize))
	}

	if data.TickIntervalMs < 10 {
		result.AddError("protocol.tick_interval_ms", "tick interval must be at least 10ms")
	}
	if data.RetransmitDelayMs < data.TickIntervalMs {
		result.AddWarning("protocol.retransmit_delay_ms",
			"retransmit delay shorter than the tick interval will retransmit on every tick")
	}

	if data.MaxRetransmits < 1 {
		result.AddError("protocol.max_retransmits", "must allow at least 1 retransmit")
	}

	if data.IdleTimeoutSec < 10 {
		result.AddWarning("protocol.idle_timeout_sec", "idle timeout less than 10 seconds may drop slow clients")
	}

	if data.OutOfOrderWindow < 1 {
		result.AddError("protocol.out_of_order_window", "out-of-order window must be at least 1")
	}
	if data.OutOfOrderWindow > 32768 {
		result.AddError("protocol.out_of_order_window",
			"out-of-order window must not exceed half the sequence space (32768)")
	}
}

func validateGalaxy(data *GalaxyConfig, result *ValidationResult) {
	if len(data.Clusters) == 0 {
		result.AddError("galaxy.clusters", "at least one galaxy cluster is required")
		return
	}

	seen := make(map[uint32]string)
	for i, cluster := range data.Clusters {
		field := fmt.Sprintf("galaxy.clusters[%d]", i)

		if strings.TrimSpace(cluster.Name) == "" {
			result.AddError(field+".name", "cluster name is required")
		}

		if prev, dup := seen[cluster.ID]; dup {
			result.AddError(field+".id",
				fmt.Sprintf("cluster ID %d already used by %q", cluster.ID, prev))
		}
		seen[cluster.ID] = cluster.Name

		validatePort(cluster.ZonePort, field+".zone_port", result)

		if cluster.MaxPlayers < 1 {
			result.AddError(field+".max_players", "cluster must allow at least 1 player")
		}
	}
}

func validateAccounts(data *AccountsConfig, result *ValidationResult) {
	if strings.TrimSpace(data.DatabasePath) == "" {
		result.AddError("accounts.database_path", "account database path is required")
	}

	if data.MaxCharacters < 1 {
		result.AddWarning("accounts.max_characters", "max characters less than 1 blocks character creation")
	}
}

func validateAPI(data *APIConfig, result *ValidationResult) {
	if !data.Enabled {
		return
	}

	validatePort(data.Port, "api.port", result)

	if data.BindAddress != "" && net.ParseIP(data.BindAddress) == nil {
		result.AddError("api.bind_address",
			fmt.Sprintf("invalid bind address: %s", data.BindAddress))
	}

	if data.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if data.TLSEnabled {
		if strings.TrimSpace(data.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
}

func validateMQTT(data *MQTTConfig, result *ValidationResult) {
	if !data.Enabled {
		return
	}

	if strings.TrimSpace(data.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if data.Port < 1 || data.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if data.UseTLS && strings.TrimSpace(data.CAFile) == "" {
		result.AddWarning("mqtt.ca_file", "TLS enabled without a CA file, system roots will be used")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
