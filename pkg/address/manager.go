// Package address implements node id claiming and the table of nodes
// present on the bus.
package address

import (
	"sync"
	"sync/atomic"

	levcan "github.com/samsamfire/golevcan"
	can "github.com/samsamfire/golevcan/pkg/can"
	log "github.com/sirupsen/logrus"
)

const (
	DiscoveryMs     = 100  // silence before claiming
	ClaimWaitMs     = 250  // no contest before going online
	KeepAliveMs     = 2500 // claim re-announce period
	ExpiryMs        = 3 * KeepAliveMs
	DefaultTableLen = 32
)

// State of the own address
type State uint8

const (
	StateDisabled State = iota
	StateNetworkDiscovery
	StateWaitingClaim
	StateOnline
)

var stateDescription = map[State]string{
	StateDisabled:         "DISABLED",
	StateNetworkDiscovery: "DISCOVERY",
	StateWaitingClaim:     "WAITING CLAIM",
	StateOnline:           "ONLINE",
}

func (s State) String() string {
	return stateDescription[s]
}

// Bus is what the manager needs from the HAL, implemented by [levcan.BusManager]
type Bus interface {
	Send(frame can.Frame) error
	CreateFilterMasks(owner any, filters []can.Filter) error
}

type NodeCallback func(name ShortName, event Event)
type StateCallback func(state State, nodeId uint8)

// Manager claims a node id for one local node and follows the claims of
// the other nodes
type Manager struct {
	mu       sync.Mutex
	logger   *log.Entry
	bus      Bus
	name     ShortName
	state    State
	id       atomic.Uint32 // copy of name.NodeID readable without the lock
	lastID   uint8
	timer    int
	table    *table
	isLocal  func(nodeId uint8) bool
	onNode   NodeCallback
	onState  StateCallback
	callback []func()
}

// NewManager creates a disabled manager for the node described by name.
// name.NodeID is the preferred id : a free static id is kept, otherwise a
// dynamic id is searched starting from it
func NewManager(bus Bus, logger *log.Logger, name ShortName, tableLen int) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if tableLen <= 0 {
		tableLen = DefaultTableLen
	}
	m := &Manager{
		logger: logger.WithField("service", "[ADDRESS]"),
		bus:    bus,
		name:   name,
		lastID: name.NodeID,
		table:  newTable(tableLen),
	}
	m.setID(levcan.NullAddress)
	return m
}

// SetLocal registers a function telling which ids other local nodes hold
func (m *Manager) SetLocal(isLocal func(nodeId uint8) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isLocal = isLocal
}

// OnNode registers a callback for node table changes
func (m *Manager) OnNode(callback NodeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNode = callback
}

// OnState registers a callback for own address state changes
func (m *Manager) OnState(callback StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = callback
}

// NodeID returns the claimed id, [levcan.NullAddress] until claimed
func (m *Manager) NodeID() uint8 {
	return uint8(m.id.Load())
}

func (m *Manager) setID(id uint8) {
	m.name.NodeID = id
	m.id.Store(uint32(id))
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ShortName returns the own short name with the current id
func (m *Manager) ShortName() ShortName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Online reports whether the own id may be used as a source
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOnline
}

// Start the claiming process : other nodes are asked to announce themselves
func (m *Manager) Start() error {
	m.mu.Lock()
	m.setID(levcan.NullAddress)
	m.setState(StateNetworkDiscovery)
	err := m.send(levcan.Header{
		Source:   levcan.NullAddress,
		Target:   levcan.BroadcastAddress,
		MsgID:    levcan.SysAddressClaimed,
		Priority: levcan.PriorityHigh,
		RTS:      true,
		EoM:      true,
		Request:  true,
	}, nil)
	m.mu.Unlock()
	m.fire()
	if err != nil {
		return err
	}
	return m.ConfigureFilters()
}

// Stop releases the own id
func (m *Manager) Stop() {
	m.mu.Lock()
	m.setID(levcan.NullAddress)
	m.setState(StateDisabled)
	m.mu.Unlock()
	m.fire()
}

func (m *Manager) send(h levcan.Header, data []byte) error {
	err := m.bus.Send(h.Frame(data))
	if err != nil {
		m.logger.Warnf("failed to send %v : %v", h, err)
	}
	return err
}

func (m *Manager) sendClaim(source uint8) error {
	return m.send(levcan.Header{
		Source:   source,
		Target:   levcan.BroadcastAddress,
		MsgID:    levcan.SysAddressClaimed,
		Priority: levcan.PriorityHigh,
		RTS:      true,
		EoM:      true,
	}, m.name.Bytes())
}

// setState must be called with the lock held, callbacks run on fire
func (m *Manager) setState(state State) {
	m.state = state
	m.timer = 0
	m.logger.Infof("state %v, node id %d", state, m.name.NodeID)
	if m.onState != nil {
		callback, id := m.onState, m.name.NodeID
		m.callback = append(m.callback, func() { callback(state, id) })
	}
}

func (m *Manager) event(name ShortName, event Event) {
	m.logger.Infof("%v %v", event, name)
	if m.onNode != nil {
		callback := m.onNode
		m.callback = append(m.callback, func() { callback(name, event) })
	}
}

// fire runs the callbacks collected while holding the lock
func (m *Manager) fire() {
	m.mu.Lock()
	callbacks := m.callback
	m.callback = nil
	m.mu.Unlock()
	for _, callback := range callbacks {
		callback()
	}
}

func (m *Manager) used(nodeId uint8) bool {
	return m.table.used(nodeId) || m.isLocal != nil && m.isLocal(nodeId)
}

// candidate returns a free id, the preferred static id if possible then
// the first free dynamic id from the last one tried
func (m *Manager) candidate() (uint8, bool) {
	if m.lastID <= levcan.StaticIDMax && !m.used(m.lastID) {
		return m.lastID, true
	}
	start := m.lastID
	if start < levcan.DynamicIDMin || start > levcan.DynamicIDMax {
		start = levcan.DynamicIDMin
	}
	span := levcan.DynamicIDMax - levcan.DynamicIDMin + 1
	for i := range span {
		id := uint8(levcan.DynamicIDMin + (int(start)-levcan.DynamicIDMin+i)%span)
		if !m.used(id) {
			return id, true
		}
	}
	return 0, false
}

// Process advances the claim state machine by elapsedMs
func (m *Manager) Process(elapsedMs int) {
	m.mu.Lock()
	m.process(elapsedMs)
	m.mu.Unlock()
	m.fire()
}

func (m *Manager) process(elapsedMs int) {
	for i := range m.table.entries {
		e := &m.table.entries[i]
		if e.name.NodeID == levcan.BroadcastAddress {
			continue
		}
		e.lastRx += elapsedMs
		if e.lastRx > ExpiryMs {
			m.event(e.name, EventDeleted)
			m.table.clear(e)
		}
	}

	m.timer += elapsedMs
	switch m.state {
	case StateNetworkDiscovery:
		if m.timer < DiscoveryMs {
			return
		}
		id, ok := m.candidate()
		if !ok {
			m.logger.Warn("no free node id")
			m.timer = 0
			return
		}
		m.lastID = id
		m.setID(id)
		m.setState(StateWaitingClaim)
		m.sendClaim(id)

	case StateWaitingClaim:
		if m.timer >= ClaimWaitMs {
			m.setState(StateOnline)
			m.callback = append(m.callback, func() { m.ConfigureFilters() })
		}

	case StateOnline:
		if m.timer >= KeepAliveMs {
			m.timer = 0
			m.sendClaim(m.name.NodeID)
		}
	}
}

// Refresh the node table entry of nodeId, any frame from a node counts
func (m *Manager) Refresh(nodeId uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nodeId >= levcan.NullAddress {
		return
	}
	if e := m.table.byID(nodeId); e != nil {
		e.lastRx = 0
	}
}

// Handle an address claim frame or claim request
func (m *Manager) Handle(frame can.Frame) {
	h := levcan.HeaderOf(frame)
	if h.MsgID != levcan.SysAddressClaimed {
		return
	}
	m.mu.Lock()
	m.handle(h, frame.Data[:min(frame.DLC, 8)])
	m.mu.Unlock()
	m.fire()
}

func (m *Manager) handle(h levcan.Header, data []byte) {
	if h.Request {
		if m.state == StateOnline || m.state == StateWaitingClaim {
			m.sendClaim(m.name.NodeID)
		}
		return
	}
	if h.Source == levcan.BroadcastAddress {
		return
	}
	name, err := Parse(data, h.Source)
	if err != nil {
		m.logger.Debugf("dropping claim : %v", err)
		return
	}
	// Own claim echoed back by the bus
	if name.Same(m.name) {
		return
	}

	// A node giving up its id
	if h.Source == levcan.NullAddress {
		if e := m.table.byName(name); e != nil {
			m.event(e.name, EventDeleted)
			m.table.clear(e)
		}
		return
	}

	if m.state == StateNetworkDiscovery {
		m.timer = 0
	}

	if h.Source == m.name.NodeID && (m.state == StateWaitingClaim || m.state == StateOnline) {
		if m.name.Less(name) {
			m.logger.Infof("keeping node id %d against %v", m.name.NodeID, name)
			m.sendClaim(m.name.NodeID)
			return
		}
		m.logger.Infof("losing node id %d to %v", m.name.NodeID, name)
		m.sendClaim(levcan.NullAddress)
		m.setID(levcan.NullAddress)
		m.update(name)
		m.setState(StateNetworkDiscovery)
		m.callback = append(m.callback, func() { m.ConfigureFilters() })
		return
	}
	m.update(name)
}

// update the node table with a claim
func (m *Manager) update(name ShortName) {
	if e := m.table.byID(name.NodeID); e != nil {
		e.lastRx = 0
		if e.name.Same(name) || !name.Less(e.name) {
			return
		}
		e.name = name
		m.event(name, EventChanged)
		return
	}
	if e := m.table.byName(name); e != nil {
		// Same node, new id
		e.name = name
		e.lastRx = 0
		m.event(name, EventChanged)
		return
	}
	if e := m.table.byID(levcan.BroadcastAddress); e != nil {
		e.name = name
		e.lastRx = 0
		m.event(name, EventNew)
		return
	}
	m.logger.Warnf("node table full, ignoring %v", name)
}

// Filters returns the acceptance filters of the node : frames targeted to
// its id and broadcast frames
func (m *Manager) Filters() []can.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	filters := []can.Filter{levcan.TargetFilter(levcan.BroadcastAddress)}
	if m.name.NodeID < levcan.NullAddress {
		filters = append(filters, levcan.TargetFilter(m.name.NodeID))
	}
	return filters
}

// ConfigureFilters programs the acceptance filters of the node on the bus
func (m *Manager) ConfigureFilters() error {
	return m.bus.CreateFilterMasks(m, m.Filters())
}

// GetActiveNodes returns the next node of the table from cursor and
// advances it. A NodeID of [levcan.BroadcastAddress] ends the list
func (m *Manager) GetActiveNodes(cursor *int) ShortName {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ; *cursor < len(m.table.entries); *cursor++ {
		e := m.table.entries[*cursor]
		if e.name.NodeID != levcan.BroadcastAddress {
			*cursor++
			return e.name
		}
	}
	return ShortName{NodeID: levcan.BroadcastAddress}
}

// GetNode returns the short name of a node of the table
func (m *Manager) GetNode(nodeId uint8) (ShortName, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nodeId == levcan.BroadcastAddress {
		return ShortName{}, false
	}
	if e := m.table.byID(nodeId); e != nil {
		return e.name, true
	}
	return ShortName{}, false
}
