package login

import (
	"fmt"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

// maxAdvertisedClusters bounds the cluster list reply; the count rides a
// single byte on the wire.
const maxAdvertisedClusters = 255

// SplitGameMessage reads the operand count and game opcode off a reliable
// payload and returns a reader positioned at the first field. The operand
// count is informational; clients disagree on whether the opcode itself is
// counted, so it is logged but never validated.
func SplitGameMessage(payload []byte) (GameOpcode, uint16, *protocol.PacketReader, error) {
	r := protocol.NewPacketReader(payload)
	operands, err := r.ReadUint16()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read operand count: %w", err)
	}
	raw, err := r.ReadUint32()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read game opcode: %w", err)
	}
	return GameOpcode(raw), operands, r, nil
}

// ClientIDRequest carries the credentials a client submits at login.
type ClientIDRequest struct {
	Username      string
	Password      string
	ClientVersion string
}

// ParseClientIDRequest decodes the fields of an OpClientID message from a
// reader already positioned past the opcode.
func ParseClientIDRequest(r *protocol.PacketReader) (*ClientIDRequest, error) {
	var req ClientIDRequest
	var err error
	if req.Username, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	if req.Password, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if req.ClientVersion, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("failed to read client version: %w", err)
	}
	return &req, nil
}

// Encode serializes the request the way a client would send it.
func (m *ClientIDRequest) Encode() []byte {
	return protocol.NewPacketBuilder().
		WriteUint16(3).
		WriteUint32(uint32(OpClientID)).
		WriteString(m.Username).
		WriteString(m.Password).
		WriteString(m.ClientVersion).
		Build()
}

// BuildClientToken builds the successful-login reply: the account ID, a
// fresh session key for the zone handoff, and the canonical username.
func BuildClientToken(accountID uint32, sessionKey, username string) []byte {
	return protocol.NewPacketBuilder().
		WriteUint16(3).
		WriteUint32(uint32(OpClientToken)).
		WriteUint32(accountID).
		WriteString(sessionKey).
		WriteString(username).
		Build()
}

// ParseClientToken decodes an OpClientToken reply body.
func ParseClientToken(r *protocol.PacketReader) (accountID uint32, sessionKey, username string, err error) {
	if accountID, err = r.ReadUint32(); err != nil {
		return 0, "", "", fmt.Errorf("failed to read account id: %w", err)
	}
	if sessionKey, err = r.ReadString(); err != nil {
		return 0, "", "", fmt.Errorf("failed to read session key: %w", err)
	}
	if username, err = r.ReadString(); err != nil {
		return 0, "", "", fmt.Errorf("failed to read username: %w", err)
	}
	return accountID, sessionKey, username, nil
}

// BuildLoginError builds the rejected-login reply carrying the result code
// and a human-readable reason.
func BuildLoginError(result account.LoginResult, reason string) []byte {
	return protocol.NewPacketBuilder().
		WriteUint16(2).
		WriteUint32(uint32(OpIncorrectClientID)).
		WriteUint32(uint32(result)).
		WriteString(reason).
		Build()
}

// ParseLoginError decodes an OpIncorrectClientID reply body.
func ParseLoginError(r *protocol.PacketReader) (account.LoginResult, string, error) {
	code, err := r.ReadUint32()
	if err != nil {
		return 0, "", fmt.Errorf("failed to read result code: %w", err)
	}
	reason, err := r.ReadString()
	if err != nil {
		return 0, "", fmt.Errorf("failed to read reason: %w", err)
	}
	return account.LoginResult(code), reason, nil
}

// ClusterEntry is one galaxy cluster as advertised in the cluster list.
type ClusterEntry struct {
	ID             uint32                 `json:"id"`
	Name           string                 `json:"name"`
	CurrentPlayers uint32                 `json:"current_players"`
	MaxPlayers     uint32                 `json:"max_players"`
	Online         bool                   `json:"online"`
	Recommended    bool                   `json:"recommended"`
	ZoneAddress    string                 `json:"zone_address"`
	ZonePort       uint16                 `json:"zone_port"`
	Population     events.PopulationLevel `json:"population"`
	MaxCharacters  uint32                 `json:"max_characters"`
	Distance       uint32                 `json:"distance"`
}

// BuildClusterStatus builds the cluster list reply sent for both
// OpEnumCluster and OpClusterStatus requests. Lists longer than 255
// entries are truncated to fit the one-byte count.
func BuildClusterStatus(entries []ClusterEntry) []byte {
	if len(entries) > maxAdvertisedClusters {
		entries = entries[:maxAdvertisedClusters]
	}
	b := protocol.NewPacketBuilder().
		WriteUint16(2).
		WriteUint32(uint32(OpClusterStatus)).
		WriteByte(byte(len(entries)))
	for _, e := range entries {
		b.WriteUint32(e.ID).
			WriteString(e.Name).
			WriteUint32(e.CurrentPlayers).
			WriteUint32(e.MaxPlayers).
			WriteUint32(boolWord(e.Online)).
			WriteUint32(boolWord(e.Recommended)).
			WriteString(e.ZoneAddress).
			WriteUint16(e.ZonePort).
			WriteUint32(uint32(e.Population)).
			WriteUint32(e.MaxCharacters).
			WriteUint32(e.Distance)
	}
	return b.Build()
}

// ParseClusterStatus decodes a cluster list reply body.
func ParseClusterStatus(r *protocol.PacketReader) ([]ClusterEntry, error) {
	count, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster count: %w", err)
	}
	entries := make([]ClusterEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var e ClusterEntry
		var online, recommended, population uint32
		if e.ID, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.Name, err = r.ReadString(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.CurrentPlayers, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.MaxPlayers, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if online, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if recommended, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.ZoneAddress, err = r.ReadString(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.ZonePort, err = r.ReadUint16(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if population, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.MaxCharacters, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		if e.Distance, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		e.Online = online != 0
		e.Recommended = recommended != 0
		e.Population = events.PopulationLevel(population)
		entries = append(entries, e)
	}
	return entries, nil
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
