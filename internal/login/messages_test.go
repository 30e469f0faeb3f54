package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

func TestSplitGameMessageRoundTrip(t *testing.T) {
	payload := (&ClientIDRequest{
		Username:      "alice",
		Password:      "hunter2",
		ClientVersion: "20050408-18:00",
	}).Encode()

	opcode, operands, r, err := SplitGameMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, OpClientID, opcode)
	assert.Equal(t, uint16(3), operands)

	req, err := ParseClientIDRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "hunter2", req.Password)
	assert.Equal(t, "20050408-18:00", req.ClientVersion)
}

func TestSplitGameMessageTruncated(t *testing.T) {
	_, _, _, err := SplitGameMessage([]byte{0x02})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)

	// Operand count present but opcode cut short.
	_, _, _, err = SplitGameMessage([]byte{0x02, 0x00, 0x75, 0x1B})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)
}

func TestParseClientIDRequestMissingFields(t *testing.T) {
	payload := protocol.NewPacketBuilder().
		WriteUint16(3).
		WriteUint32(uint32(OpClientID)).
		WriteString("alice").
		Build()

	opcode, _, r, err := SplitGameMessage(payload)
	require.NoError(t, err)
	require.Equal(t, OpClientID, opcode)

	_, err = ParseClientIDRequest(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)
}

func TestClientTokenRoundTrip(t *testing.T) {
	payload := BuildClientToken(1007, "00112233445566778899aabbccddeeff", "alice")

	opcode, operands, r, err := SplitGameMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, OpClientToken, opcode)
	assert.Equal(t, uint16(3), operands)

	accountID, key, username, err := ParseClientToken(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(1007), accountID)
	assert.Equal(t, "00112233445566778899aabbccddeeff", key)
	assert.Equal(t, "alice", username)
}

func TestLoginErrorRoundTrip(t *testing.T) {
	payload := BuildLoginError(account.LoginServerFull, "galaxy is full, try again later")

	opcode, _, r, err := SplitGameMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, OpIncorrectClientID, opcode)

	result, reason, err := ParseLoginError(r)
	require.NoError(t, err)
	assert.Equal(t, account.LoginServerFull, result)
	assert.Equal(t, "galaxy is full, try again later", reason)
}

func TestBuildClusterStatusLayout(t *testing.T) {
	payload := BuildClusterStatus([]ClusterEntry{{
		ID:             1,
		Name:           "Hub",
		CurrentPlayers: 42,
		MaxPlayers:     3000,
		Online:         true,
		Recommended:    true,
		ZoneAddress:    "10.0.0.5",
		ZonePort:       44463,
		Population:     events.PopulationLight,
		MaxCharacters:  2,
		Distance:       0,
	}})

	// Operand count, opcode, then the one-byte entry count.
	assert.Equal(t, []byte{0x02, 0x00}, payload[:2])
	assert.Equal(t, []byte{0xB6, 0xAE, 0x36, 0x34}, payload[2:6])
	assert.Equal(t, byte(1), payload[6])
	// First entry starts with the cluster ID and the length-prefixed name.
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, payload[7:11])
	assert.Equal(t, []byte{0x03, 0x00, 'H', 'u', 'b'}, payload[11:16])
}

func TestClusterStatusRoundTrip(t *testing.T) {
	in := []ClusterEntry{
		{
			ID:             1,
			Name:           "Hub",
			CurrentPlayers: 42,
			MaxPlayers:     3000,
			Online:         true,
			Recommended:    true,
			ZoneAddress:    "10.0.0.5",
			ZonePort:       44463,
			Population:     events.PopulationLight,
			MaxCharacters:  2,
		},
		{
			ID:          2,
			Name:        "Outer Rim",
			MaxPlayers:  500,
			ZoneAddress: "10.0.0.6",
			ZonePort:    44464,
			Population:  events.PopulationVeryLight,
			Distance:    100,
		},
	}

	opcode, _, r, err := SplitGameMessage(BuildClusterStatus(in))
	require.NoError(t, err)
	assert.Equal(t, OpClusterStatus, opcode)

	out, err := ParseClusterStatus(r)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBuildClusterStatusTruncatesToByteCount(t *testing.T) {
	entries := make([]ClusterEntry, 300)
	for i := range entries {
		entries[i] = ClusterEntry{ID: uint32(i), Name: "c"}
	}

	_, _, r, err := SplitGameMessage(BuildClusterStatus(entries))
	require.NoError(t, err)

	out, err := ParseClusterStatus(r)
	require.NoError(t, err)
	assert.Len(t, out, 255)
}

func TestParseClusterStatusTruncated(t *testing.T) {
	payload := BuildClusterStatus([]ClusterEntry{{ID: 1, Name: "Hub", ZoneAddress: "10.0.0.5"}})

	_, _, r, err := SplitGameMessage(payload[:len(payload)-3])
	require.NoError(t, err)

	_, err = ParseClusterStatus(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)
}
