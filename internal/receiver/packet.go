package receiver

import (
	"encoding/binary"
	"fmt"
)

// packetHeaderSize is moduleId(u16) + projectionIndex(u32) + sampleOffset(u32),
// the fixed record header every detector module writes.
const packetHeaderSize = 2 + 4 + 4

// Packet is one decoded detector-module UDP/TCP record.
type Packet struct {
	ModuleID        uint16
	ProjectionIndex uint32
	SampleOffset    uint32
	Payload         []uint16
}

// decodePacket parses buf per the fixed wire layout: no negotiation, no
// versioning, decode by position.
func decodePacket(buf []byte) (Packet, error) {
	if len(buf) < packetHeaderSize {
		return Packet{}, fmt.Errorf("receiver: packet too short: %d bytes", len(buf))
	}
	body := buf[packetHeaderSize:]
	if len(body)%2 != 0 {
		return Packet{}, fmt.Errorf("receiver: payload length %d is not a whole number of u16 samples", len(body))
	}

	pkt := Packet{
		ModuleID:        binary.NativeEndian.Uint16(buf[0:2]),
		ProjectionIndex: binary.NativeEndian.Uint32(buf[2:6]),
		SampleOffset:    binary.NativeEndian.Uint32(buf[6:10]),
		Payload:         make([]uint16, len(body)/2),
	}
	for i := range pkt.Payload {
		pkt.Payload[i] = binary.NativeEndian.Uint16(body[i*2 : i*2+2])
	}
	return pkt, nil
}
