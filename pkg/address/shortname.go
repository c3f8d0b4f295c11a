package address

import (
	"encoding/binary"
	"fmt"

	levcan "github.com/samsamfire/golevcan"
)

// ShortName identifies a node on the bus, it is the payload of an
// address claim. NodeID is not part of the encoding, it travels as the
// claim source.
type ShortName struct {
	Configurable     bool
	Variables        bool
	SWUpdates        bool
	Events           bool
	FileServer       bool
	DynamicID        bool
	DeviceType       uint16 // 10 bits
	CodePage         uint16
	ManufacturerCode uint16 // 10 bits
	SerialNumber     uint32 // 22 bits
	NodeID           uint8
}

func flag(b bool, offset uint) uint64 {
	if b {
		return 1 << offset
	}
	return 0
}

// Encode returns the 64 bit wire representation
func (s ShortName) Encode() uint64 {
	return flag(s.Configurable, 0) |
		flag(s.Variables, 1) |
		flag(s.SWUpdates, 2) |
		flag(s.Events, 3) |
		flag(s.FileServer, 4) |
		flag(s.DynamicID, 5) |
		uint64(s.DeviceType&0x3FF)<<6 |
		uint64(s.CodePage)<<16 |
		uint64(s.ManufacturerCode&0x3FF)<<32 |
		uint64(s.SerialNumber&0x3FFFFF)<<42
}

// Decode a wire short name claimed by nodeId
func Decode(value uint64, nodeId uint8) ShortName {
	return ShortName{
		Configurable:     value&(1<<0) != 0,
		Variables:        value&(1<<1) != 0,
		SWUpdates:        value&(1<<2) != 0,
		Events:           value&(1<<3) != 0,
		FileServer:       value&(1<<4) != 0,
		DynamicID:        value&(1<<5) != 0,
		DeviceType:       uint16(value>>6) & 0x3FF,
		CodePage:         uint16(value >> 16),
		ManufacturerCode: uint16(value>>32) & 0x3FF,
		SerialNumber:     uint32(value>>42) & 0x3FFFFF,
		NodeID:           nodeId,
	}
}

// Bytes returns the little endian claim payload
func (s ShortName) Bytes() []byte {
	return binary.LittleEndian.AppendUint64(nil, s.Encode())
}

// Parse a claim payload
func Parse(data []byte, nodeId uint8) (ShortName, error) {
	if len(data) < 8 {
		return ShortName{}, fmt.Errorf("short name needs 8 bytes, got %d : %w", len(data), levcan.ErrData)
	}
	return Decode(binary.LittleEndian.Uint64(data), nodeId), nil
}

// Less reports whether s wins arbitration against other
func (s ShortName) Less(other ShortName) bool {
	return s.Encode() < other.Encode()
}

// Same reports whether both short names describe the same node, whatever its id
func (s ShortName) Same(other ShortName) bool {
	return s.Encode() == other.Encode()
}

func (s ShortName) String() string {
	return fmt.Sprintf("node %d (type %d, manufacturer %d, serial %d)", s.NodeID, s.DeviceType, s.ManufacturerCode, s.SerialNumber)
}
