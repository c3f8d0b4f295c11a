package can

import (
	"fmt"
	"sync"
)

const CanEffFlag uint32 = 0x80000000
const CanRtrFlag uint32 = 0x40000000
const CanErrFlag uint32 = 0x20000000
const CanEffMask uint32 = 0x1FFFFFFF

// CAN bus errors
const (
	CanErrorTxWarning   = 0x0001 // CAN transmitter warning
	CanErrorTxPassive   = 0x0002 // CAN transmitter passive
	CanErrorTxBusOff    = 0x0004 // CAN transmitter bus off
	CanErrorTxOverflow  = 0x0008 // CAN transmitter overflow
	CanErrorRxWarning   = 0x0100 // CAN receiver warning
	CanErrorRxPassive   = 0x0200 // CAN receiver passive
	CanErrorRxOverflow  = 0x0800 // CAN receiver overflow
	CanErrorWarnPassive = 0x0303 // Combination
)

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// A Filter is one hardware acceptance register/mask pair.
// A frame is accepted when (frame.ID ^ Ident) & Mask == 0
type Filter struct {
	Ident uint32
	Mask  uint32
}

// Match reports whether id passes the filter
func (f Filter) Match(id uint32) bool {
	return (id^f.Ident)&f.Mask == 0
}

// FilterSetter is implemented by buses able to program acceptance filters.
// Buses that do not implement it receive everything.
type FilterSetter interface {
	SetFilters(filters []Filter) error
}

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

type NewInterfaceFunc func(channel string) (Bus, error)

var (
	registryMu        sync.Mutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Create a new CAN bus with given interface
// Currently supported : socketcan, virtualcan, loopback
func NewBus(canInterface string, channel string, bitrate int) (Bus, error) {
	registryMu.Lock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel)
}
