package protocol

import "fmt"

// SessionRequest is the client hello (0x01).
// Format: [op:2][crc_length:4][connection_id:4][client_udp_size:4]
type SessionRequest struct {
	CRCLength     uint32
	ConnectionID  uint32
	ClientUDPSize uint32
}

// ParseSessionRequest decodes a session request body (opcode already split off).
func ParseSessionRequest(body []byte) (*SessionRequest, error) {
	r := NewPacketReader(body)
	msg := &SessionRequest{}

	var err error
	if msg.CRCLength, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session request crc length: %w", err)
	}
	if msg.ConnectionID, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session request connection id: %w", err)
	}
	if msg.ClientUDPSize, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session request udp size: %w", err)
	}
	return msg, nil
}

// Encode serializes the session request including its opcode.
func (m *SessionRequest) Encode() []byte {
	return NewPacket(OpSessionRequest).
		WriteUint32(m.CRCLength).
		WriteUint32(m.ConnectionID).
		WriteUint32(m.ClientUDPSize).
		Build()
}

// SessionResponse is the server handshake reply (0x02).
// Format: [op:2][connection_id:4][crc_seed:4][crc_length:1][compression:1][seed_size:1][max_packet:4]
type SessionResponse struct {
	ConnectionID  uint32
	CRCSeed       uint32
	CRCLength     uint8
	Compression   uint8
	SeedSize      uint8
	MaxPacketSize uint32
}

// BuildSessionResponse creates a session response packet. The crc length,
// compression flag and seed size bytes are fixed by the protocol.
func BuildSessionResponse(connectionID, crcSeed, maxPacketSize uint32) []byte {
	return NewPacket(OpSessionResponse).
		WriteUint32(connectionID).
		WriteUint32(crcSeed).
		WriteByte(2). // crc length in bytes
		WriteByte(1). // compression flag
		WriteByte(4). // seed size in bytes
		WriteUint32(maxPacketSize).
		Build()
}

// ParseSessionResponse decodes a session response body.
func ParseSessionResponse(body []byte) (*SessionResponse, error) {
	r := NewPacketReader(body)
	msg := &SessionResponse{}

	var err error
	if msg.ConnectionID, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session response connection id: %w", err)
	}
	if msg.CRCSeed, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session response crc seed: %w", err)
	}
	if msg.CRCLength, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("failed to parse session response crc length: %w", err)
	}
	if msg.Compression, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("failed to parse session response compression flag: %w", err)
	}
	if msg.SeedSize, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("failed to parse session response seed size: %w", err)
	}
	if msg.MaxPacketSize, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse session response max packet size: %w", err)
	}
	return msg, nil
}

// Disconnect is the session teardown notice (0x05).
// Format: [op:2][connection_id:4][reason:2]
type Disconnect struct {
	ConnectionID uint32
	Reason       DisconnectReason
}

// BuildDisconnect creates a disconnect packet.
func BuildDisconnect(connectionID uint32, reason DisconnectReason) []byte {
	return NewPacket(OpDisconnect).
		WriteUint32(connectionID).
		WriteUint16(uint16(reason)).
		Build()
}

// ParseDisconnect decodes a disconnect body. Some client builds omit the
// reason code, so a missing reason is tolerated and reads as zero.
func ParseDisconnect(body []byte) (*Disconnect, error) {
	r := NewPacketReader(body)
	msg := &Disconnect{}

	connectionID, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to parse disconnect connection id: %w", err)
	}
	msg.ConnectionID = connectionID

	if r.Remaining() >= 2 {
		reason, err := r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("failed to parse disconnect reason: %w", err)
		}
		msg.Reason = DisconnectReason(reason)
	}
	return msg, nil
}

// BuildPing creates a ping packet (0x06). Pings carry no body.
func BuildPing() []byte {
	return NewPacket(OpPing).Build()
}

// NetStatusRequest carries client-side traffic counters (0x07).
// Format: [op:2][client_tick:2][packets_sent:8][packets_received:8]
type NetStatusRequest struct {
	ClientTick      uint16
	PacketsSent     uint64
	PacketsReceived uint64
}

// ParseNetStatusRequest decodes a net status request body.
func ParseNetStatusRequest(body []byte) (*NetStatusRequest, error) {
	r := NewPacketReader(body)
	msg := &NetStatusRequest{}

	var err error
	if msg.ClientTick, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to parse net status client tick: %w", err)
	}
	if msg.PacketsSent, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status packets sent: %w", err)
	}
	if msg.PacketsReceived, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status packets received: %w", err)
	}
	return msg, nil
}

// Encode serializes the net status request including its opcode.
func (m *NetStatusRequest) Encode() []byte {
	return NewPacket(OpNetStatusReq).
		WriteUint16(m.ClientTick).
		WriteUint64(m.PacketsSent).
		WriteUint64(m.PacketsReceived).
		Build()
}

// NetStatusResponse echoes the client counters alongside the server's (0x08).
// Format: [op:2][client_tick:2][server_tick:4][client_sent:8][client_recv:8][server_sent:8][server_recv:8]
type NetStatusResponse struct {
	ClientTick            uint16
	ServerTick            uint32
	ClientPacketsSent     uint64
	ClientPacketsReceived uint64
	ServerPacketsSent     uint64
	ServerPacketsReceived uint64
}

// BuildNetStatusResponse creates a net status response packet.
func BuildNetStatusResponse(msg *NetStatusResponse) []byte {
	return NewPacket(OpNetStatusResp).
		WriteUint16(msg.ClientTick).
		WriteUint32(msg.ServerTick).
		WriteUint64(msg.ClientPacketsSent).
		WriteUint64(msg.ClientPacketsReceived).
		WriteUint64(msg.ServerPacketsSent).
		WriteUint64(msg.ServerPacketsReceived).
		Build()
}

// ParseNetStatusResponse decodes a net status response body.
func ParseNetStatusResponse(body []byte) (*NetStatusResponse, error) {
	r := NewPacketReader(body)
	msg := &NetStatusResponse{}

	var err error
	if msg.ClientTick, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to parse net status client tick: %w", err)
	}
	if msg.ServerTick, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse net status server tick: %w", err)
	}
	if msg.ClientPacketsSent, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status client sent: %w", err)
	}
	if msg.ClientPacketsReceived, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status client received: %w", err)
	}
	if msg.ServerPacketsSent, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status server sent: %w", err)
	}
	if msg.ServerPacketsReceived, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("failed to parse net status server received: %w", err)
	}
	return msg, nil
}

// BuildData creates a reliable data packet for a channel.
// Format: [op:2][sequence:2][payload...]
func BuildData(ch Channel, seq uint16, payload []byte) []byte {
	return NewPacket(ch.DataOpcode()).
		WriteSequence(seq).
		WriteBytes(payload).
		Build()
}

// BuildFragment creates a reliable data fragment for a channel.
// Format: [op:2][sequence:2][chunk...]
func BuildFragment(ch Channel, seq uint16, chunk []byte) []byte {
	return NewPacket(ch.FragmentOpcode()).
		WriteSequence(seq).
		WriteBytes(chunk).
		Build()
}

// BuildAck creates a channel acknowledgement.
// Format: [op:2][sequence:2]
func BuildAck(ch Channel, seq uint16) []byte {
	return NewPacket(ch.AckOpcode()).WriteSequence(seq).Build()
}

// BuildOutOfOrder creates an out-of-order report for a channel.
// Format: [op:2][sequence:2]
func BuildOutOfOrder(ch Channel, seq uint16) []byte {
	return NewPacket(ch.OutOfOrderOpcode()).WriteSequence(seq).Build()
}
