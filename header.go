package levcan

import (
	"fmt"

	can "github.com/samsamfire/golevcan/pkg/can"
)

// Node addresses
const (
	NodeIDMin        = 0
	StaticIDMax      = 63
	DynamicIDMin     = 64
	DynamicIDMax     = 125
	NullAddress      = 126
	BroadcastAddress = 127
)

// Frame priorities, higher value wins arbitration
const (
	PriorityLow     uint8 = 0
	PriorityMid     uint8 = 1
	PriorityControl uint8 = 2
	PriorityHigh    uint8 = 3
)

// System message ids
const (
	SysAddressClaimed uint16 = 0x380 + iota
	SysNodeName
	SysDeviceName
	SysVendorName
	SysVendorCode
	SysHWVersion
	SysSWVersion
	SysSerialNumber
	SysParameters
	SysEvents
	SysTrace
	SysTraceRequest
	SysDateTime
	SysShutdown
)

const (
	SysFileServer uint16 = 0x390 + iota
	SysFileClient
	SysSWUpdate
)

// MaxMessageID is the largest id that fits in the header
const MaxMessageID = 0x3FF

// Identifier layout, LSB first
const (
	offsetSource   = 0
	offsetTarget   = 7
	offsetMsgID    = 14
	offsetEoM      = 24
	offsetParity   = 25
	offsetRTS      = 26
	offsetPriority = 27

	maskAddress  = 0x7F
	maskMsgID    = 0x3FF
	maskPriority = 0x3
)

// Header is the unpacked 29 bit identifier of a frame.
// Request travels as the CAN RTR bit.
type Header struct {
	Source   uint8
	Target   uint8
	MsgID    uint16
	EoM      bool
	Parity   bool
	RTS      bool // ready to send from a sender, clear to send from a receiver
	Priority uint8
	Request  bool
}

func bit(b bool, offset uint) uint32 {
	if b {
		return 1 << offset
	}
	return 0
}

// ID packs the header into a 29 bit identifier. Fields wider than their
// slot are truncated.
func (h Header) ID() uint32 {
	return uint32(h.Source&maskAddress)<<offsetSource |
		uint32(h.Target&maskAddress)<<offsetTarget |
		uint32(h.MsgID&maskMsgID)<<offsetMsgID |
		bit(h.EoM, offsetEoM) |
		bit(h.Parity, offsetParity) |
		bit(h.RTS, offsetRTS) |
		uint32(h.Priority&maskPriority)<<offsetPriority
}

// Unpack returns the header carried by a 29 bit identifier
func Unpack(id uint32, request bool) Header {
	return Header{
		Source:   uint8(id>>offsetSource) & maskAddress,
		Target:   uint8(id>>offsetTarget) & maskAddress,
		MsgID:    uint16(id>>offsetMsgID) & maskMsgID,
		EoM:      id&(1<<offsetEoM) != 0,
		Parity:   id&(1<<offsetParity) != 0,
		RTS:      id&(1<<offsetRTS) != 0,
		Priority: uint8(id>>offsetPriority) & maskPriority,
		Request:  request,
	}
}

// Frame builds an extended CAN frame carrying at most 8 bytes of data
func (h Header) Frame(data []byte) can.Frame {
	id := h.ID() | can.CanEffFlag
	if h.Request {
		id |= can.CanRtrFlag
	}
	frame := can.NewFrame(id, 0, uint8(min(len(data), 8)))
	copy(frame.Data[:], data)
	return frame
}

// HeaderOf returns the header of a received frame
func HeaderOf(frame can.Frame) Header {
	return Unpack(frame.ID&can.CanEffMask, frame.ID&can.CanRtrFlag != 0)
}

// Reply returns the header used to answer h : source and target swapped
func (h Header) Reply() Header {
	return Header{Source: h.Target, Target: h.Source, MsgID: h.MsgID, Priority: h.Priority}
}

func (h Header) String() string {
	return fmt.Sprintf("x%x %d->%d eom:%v par:%v rts:%v prio:%d req:%v",
		h.MsgID, h.Source, h.Target, h.EoM, h.Parity, h.RTS, h.Priority, h.Request)
}

// TargetFilter accepts every frame addressed to nodeId
func TargetFilter(nodeId uint8) can.Filter {
	return can.Filter{
		Ident: uint32(nodeId&maskAddress)<<offsetTarget | can.CanEffFlag,
		Mask:  maskAddress<<offsetTarget | can.CanEffFlag,
	}
}
