// Package events defines event types and enumerations for the GalaxyGate event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionEstablished EventType = "session_established"
	EventSessionClosed      EventType = "session_closed"
	EventSessionReplaced    EventType = "session_replaced"

	// Login events
	EventLoginAttempt   EventType = "login_attempt"
	EventLoginSuccess   EventType = "login_success"
	EventLoginFailure   EventType = "login_failure"
	EventAccountCreated EventType = "account_created"

	// Galaxy events
	EventClusterStatus EventType = "cluster_status"
	EventPlayerCount   EventType = "player_count"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// GatePhase represents the lifecycle phase of the gateway process.
type GatePhase int

const (
	GatePhaseStarting GatePhase = iota
	GatePhaseReady
	GatePhaseDraining
	GatePhaseStopped
)

// gatePhaseStrings maps GatePhase values to their lowercase JSON string representation.
var gatePhaseStrings = map[GatePhase]string{
	GatePhaseStarting: "starting",
	GatePhaseReady:    "ready",
	GatePhaseDraining: "draining",
	GatePhaseStopped:  "stopped",
}

// String returns the string representation of GatePhase.
func (p GatePhase) String() string {
	if str, ok := gatePhaseStrings[p]; ok {
		return str
	}
	return "starting"
}

// MarshalJSON serializes GatePhase as a JSON string (e.g. "ready").
func (p GatePhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// PopulationLevel represents how full a galaxy cluster is, as advertised
// to clients in the cluster list.
type PopulationLevel int

const (
	PopulationVeryLight PopulationLevel = iota
	PopulationLight
	PopulationMedium
	PopulationHeavy
	PopulationVeryHeavy
	PopulationExtremelyHeavy
	PopulationFull
)

// populationLevelStrings maps PopulationLevel values to their lowercase JSON string representation.
var populationLevelStrings = map[PopulationLevel]string{
	PopulationVeryLight:      "very_light",
	PopulationLight:          "light",
	PopulationMedium:         "medium",
	PopulationHeavy:          "heavy",
	PopulationVeryHeavy:      "very_heavy",
	PopulationExtremelyHeavy: "extremely_heavy",
	PopulationFull:           "full",
}

// String returns the string representation of PopulationLevel.
func (l PopulationLevel) String() string {
	if str, ok := populationLevelStrings[l]; ok {
		return str
	}
	return "very_light"
}

// MarshalJSON serializes PopulationLevel as a JSON string (e.g. "medium").
func (l PopulationLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionEstablishedPayload contains data emitted when a session handshake completes.
type SessionEstablishedPayload struct {
	SessionID uint32
	Endpoint  string
}

// SessionClosedPayload contains data emitted when a session is removed.
type SessionClosedPayload struct {
	SessionID uint32
	Endpoint  string
	Reason    string
	Duration  float64 // seconds
}

// SessionReplacedPayload is emitted when a reconnecting endpoint displaces a stale session.
type SessionReplacedPayload struct {
	OldSessionID uint32
	NewSessionID uint32
	Endpoint     string
}

// LoginAttemptPayload contains data from an inbound login request.
type LoginAttemptPayload struct {
	SessionID     uint32
	Username      string
	ClientVersion string
}

// LoginResultPayload contains the outcome of an authentication attempt.
type LoginResultPayload struct {
	SessionID uint32
	Username  string
	AccountID uint32
	Result    string
}

// AccountCreatedPayload is emitted when a new account is auto-created at login.
type AccountCreatedPayload struct {
	AccountID uint32
	Username  string
}

// ClusterStatusPayload contains status data for a galaxy cluster.
type ClusterStatusPayload struct {
	ClusterID      uint32
	Name           string
	CurrentPlayers uint32
	MaxPlayers     uint32
	Population     PopulationLevel
}

// PlayerCountPayload is emitted when the connected player count changes.
type PlayerCountPayload struct {
	Current uint32
	Peak    uint32
}

// NotifyMQTTPayload carries an arbitrary message destined for the telemetry broker.
type NotifyMQTTPayload struct {
	Topic string
	Data  interface{}
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
