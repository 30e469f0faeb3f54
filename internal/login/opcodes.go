// Package login implements the game-level login protocol that rides the
// reliable session layer. Game messages travel on data channel A framed as
// [operand count u16][game opcode u32][fields], all little-endian, with
// strings carried as u16 length-prefixed UTF-8.
package login

import "fmt"

// GameOpcode identifies a game-level message carried inside reliable data.
type GameOpcode uint32

const (
	// Client to server
	OpClientID      GameOpcode = 0x41131B75 // Credentials: username, password, client version
	OpEnumCluster   GameOpcode = 0xC11C63B9 // Request the galaxy cluster list
	OpClusterStatus GameOpcode = 0x3436AEB6 // Request a population refresh; also the reply opcode

	// Server to client
	OpClientToken       GameOpcode = 0xAAB296C6 // Successful login: account ID, session key, username
	OpIncorrectClientID GameOpcode = 0x43FD1C22 // Rejected login: result code and reason text
)

// gameOpcodeStrings maps game opcodes to their names for logging.
var gameOpcodeStrings = map[GameOpcode]string{
	OpClientID:          "client_id",
	OpEnumCluster:       "enum_cluster",
	OpClusterStatus:     "cluster_status",
	OpClientToken:       "client_token",
	OpIncorrectClientID: "incorrect_client_id",
}

// String returns the opcode name, or its hex value when unrecognized.
func (op GameOpcode) String() string {
	if name, ok := gameOpcodeStrings[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(op))
}
