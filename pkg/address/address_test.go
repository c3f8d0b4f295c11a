package address

import (
	"testing"

	levcan "github.com/samsamfire/golevcan"
	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	frames  []can.Frame
	filters []can.Filter
}

func (b *fakeBus) Send(frame can.Frame) error {
	b.frames = append(b.frames, frame)
	return nil
}

func (b *fakeBus) CreateFilterMasks(owner any, filters []can.Filter) error {
	b.filters = filters
	return nil
}

// deliver every frame queued by the managers to all the other ones
func exchange(managers map[*Manager]*fakeBus) {
	for {
		quiet := true
		for m, bus := range managers {
			frames := bus.frames
			bus.frames = nil
			for _, frame := range frames {
				quiet = false
				for other := range managers {
					if other != m {
						other.Handle(frame)
					}
				}
			}
		}
		if quiet {
			return
		}
	}
}

func TestShortNameEncoding(t *testing.T) {
	name := ShortName{
		Configurable:     true,
		FileServer:       true,
		DynamicID:        true,
		DeviceType:       0x155,
		CodePage:         1251,
		ManufacturerCode: 0x2AA,
		SerialNumber:     0x123456,
		NodeID:           12,
	}
	value := name.Encode()
	assert.EqualValues(t, 1, value&1)
	assert.EqualValues(t, 0x155, (value>>6)&0x3FF)
	assert.EqualValues(t, 1251, (value>>16)&0xFFFF)
	assert.EqualValues(t, 0x2AA, (value>>32)&0x3FF)
	assert.EqualValues(t, 0x123456, value>>42)
	assert.Equal(t, name, Decode(value, 12))

	parsed, err := Parse(name.Bytes(), 12)
	require.Nil(t, err)
	assert.Equal(t, name, parsed)
	_, err = Parse([]byte{1, 2}, 12)
	assert.ErrorIs(t, err, levcan.ErrData)

	// Node id does not take part in arbitration
	other := name
	other.NodeID = 99
	assert.True(t, name.Same(other))
	assert.False(t, name.Less(other))
	other.SerialNumber++
	assert.True(t, name.Less(other))
}

func TestClaimSequence(t *testing.T) {
	bus := &fakeBus{}
	m := NewManager(bus, nil, ShortName{SerialNumber: 1, NodeID: 10}, 0)
	var states []State
	m.OnState(func(state State, nodeId uint8) { states = append(states, state) })

	assert.Equal(t, StateDisabled, m.State())
	require.Nil(t, m.Start())
	require.Len(t, bus.frames, 1)
	request := levcan.HeaderOf(bus.frames[0])
	assert.True(t, request.Request)
	assert.EqualValues(t, levcan.NullAddress, request.Source)
	assert.Len(t, bus.filters, 1)

	m.Process(DiscoveryMs - 1)
	assert.Equal(t, StateNetworkDiscovery, m.State())
	m.Process(1)
	assert.Equal(t, StateWaitingClaim, m.State())
	require.Len(t, bus.frames, 2)
	claim := levcan.HeaderOf(bus.frames[1])
	assert.EqualValues(t, 10, claim.Source)
	assert.EqualValues(t, levcan.BroadcastAddress, claim.Target)
	assert.EqualValues(t, 8, bus.frames[1].DLC)
	assert.False(t, m.Online())

	m.Process(ClaimWaitMs)
	assert.True(t, m.Online())
	assert.EqualValues(t, 10, m.NodeID())
	assert.Equal(t, []can.Filter{levcan.TargetFilter(levcan.BroadcastAddress), levcan.TargetFilter(10)}, bus.filters)
	assert.Equal(t, []State{StateNetworkDiscovery, StateWaitingClaim, StateOnline}, states)

	// Keep alive
	m.Process(KeepAliveMs)
	assert.Len(t, bus.frames, 3)

	// Own claim received back from the bus
	m.Handle(bus.frames[2])
	assert.True(t, m.Online())
	assert.EqualValues(t, 10, m.NodeID())
	assert.Len(t, bus.frames, 3)
	_, known := m.GetNode(10)
	assert.False(t, known)

	// Claim requests are answered
	m.Handle(request.Frame(nil))
	assert.Len(t, bus.frames, 4)

	m.Stop()
	assert.Equal(t, StateDisabled, m.State())
	assert.EqualValues(t, levcan.NullAddress, m.NodeID())
}

func TestCandidate(t *testing.T) {
	bus := &fakeBus{}
	m := NewManager(bus, nil, ShortName{SerialNumber: 1, NodeID: 5}, 0)
	peer := ShortName{SerialNumber: 2, NodeID: 5}
	m.Start()
	m.Handle(levcan.Header{Source: 5, Target: levcan.BroadcastAddress, MsgID: levcan.SysAddressClaimed}.Frame(peer.Bytes()))
	m.Process(DiscoveryMs)
	// Static id taken, first dynamic one is used
	assert.EqualValues(t, levcan.DynamicIDMin, m.NodeID())

	t.Run("wrap and skip local", func(t *testing.T) {
		m := NewManager(&fakeBus{}, nil, ShortName{NodeID: levcan.DynamicIDMax}, 0)
		m.SetLocal(func(nodeId uint8) bool { return nodeId == levcan.DynamicIDMax || nodeId == levcan.DynamicIDMin })
		m.Start()
		m.Process(DiscoveryMs)
		assert.EqualValues(t, levcan.DynamicIDMin+1, m.NodeID())
	})
	t.Run("discovery waits for silence", func(t *testing.T) {
		m := NewManager(&fakeBus{}, nil, ShortName{NodeID: 3}, 0)
		m.Start()
		m.Process(DiscoveryMs - 10)
		other := ShortName{SerialNumber: 9}
		m.Handle(levcan.Header{Source: 40, Target: levcan.BroadcastAddress, MsgID: levcan.SysAddressClaimed}.Frame(other.Bytes()))
		m.Process(10)
		assert.Equal(t, StateNetworkDiscovery, m.State())
		m.Process(DiscoveryMs)
		assert.Equal(t, StateWaitingClaim, m.State())
	})
}

func TestArbitration(t *testing.T) {
	low := ShortName{DeviceType: 1, SerialNumber: 100, NodeID: 70}
	high := ShortName{DeviceType: 1, SerialNumber: 200, NodeID: 70}
	require.True(t, low.Less(high))

	busA, busB := &fakeBus{}, &fakeBus{}
	a := NewManager(busA, nil, low, 0)
	b := NewManager(busB, nil, high, 0)
	managers := map[*Manager]*fakeBus{a: busA, b: busB}

	a.Start()
	b.Start()
	exchange(managers)
	a.Process(DiscoveryMs)
	b.Process(DiscoveryMs)
	assert.EqualValues(t, 70, a.NodeID())
	assert.EqualValues(t, 70, b.NodeID())

	exchange(managers)
	assert.EqualValues(t, 70, a.NodeID())
	assert.Equal(t, StateWaitingClaim, a.State())
	assert.EqualValues(t, levcan.NullAddress, b.NodeID())
	assert.Equal(t, StateNetworkDiscovery, b.State())

	for range 10 {
		a.Process(DiscoveryMs)
		b.Process(DiscoveryMs)
		exchange(managers)
	}
	assert.True(t, a.Online())
	assert.True(t, b.Online())
	assert.EqualValues(t, 70, a.NodeID())
	assert.EqualValues(t, 71, b.NodeID())

	name, ok := a.GetNode(71)
	require.True(t, ok)
	assert.True(t, name.Same(high))
	name, ok = b.GetNode(70)
	require.True(t, ok)
	assert.True(t, name.Same(low))
}

func TestNodeTable(t *testing.T) {
	m := NewManager(&fakeBus{}, nil, ShortName{NodeID: 1}, 2)
	events := map[Event]int{}
	m.OnNode(func(name ShortName, event Event) { events[event]++ })
	claim := func(name ShortName) {
		m.Handle(levcan.Header{Source: name.NodeID, Target: levcan.BroadcastAddress, MsgID: levcan.SysAddressClaimed}.Frame(name.Bytes()))
	}
	n20 := ShortName{SerialNumber: 20, NodeID: 20}
	n21 := ShortName{SerialNumber: 21, NodeID: 21}
	claim(n20)
	claim(n21)
	claim(n20)
	assert.Equal(t, 2, events[EventNew])

	// Table full
	claim(ShortName{SerialNumber: 22, NodeID: 22})
	_, ok := m.GetNode(22)
	assert.False(t, ok)

	// Lower short name for the same id replaces the entry
	claim(ShortName{SerialNumber: 5, NodeID: 20})
	name, _ := m.GetNode(20)
	assert.EqualValues(t, 5, name.SerialNumber)
	assert.Equal(t, 1, events[EventChanged])

	cursor := 0
	first := m.GetActiveNodes(&cursor)
	second := m.GetActiveNodes(&cursor)
	end := m.GetActiveNodes(&cursor)
	assert.ElementsMatch(t, []uint8{20, 21}, []uint8{first.NodeID, second.NodeID})
	assert.EqualValues(t, levcan.BroadcastAddress, end.NodeID)

	// Any traffic keeps 21 alive, 20 expires
	m.Process(ExpiryMs - 10)
	m.Refresh(21)
	m.Process(20)
	_, ok = m.GetNode(20)
	assert.False(t, ok)
	_, ok = m.GetNode(21)
	assert.True(t, ok)
	assert.Equal(t, 1, events[EventDeleted])

	// Released id
	m.Handle(levcan.Header{Source: levcan.NullAddress, Target: levcan.BroadcastAddress, MsgID: levcan.SysAddressClaimed}.Frame(n21.Bytes()))
	_, ok = m.GetNode(21)
	assert.False(t, ok)
	assert.Equal(t, 2, events[EventDeleted])
}
