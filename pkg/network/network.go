// Package network ties a CAN bus to the local nodes running on it
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
	can "github.com/samsamfire/golevcan/pkg/can"
	n "github.com/samsamfire/golevcan/pkg/node"
	log "github.com/sirupsen/logrus"

	_ "github.com/samsamfire/golevcan/pkg/can/loopback"
	_ "github.com/samsamfire/golevcan/pkg/can/socketcan"
	_ "github.com/samsamfire/golevcan/pkg/can/socketcanraw"
	_ "github.com/samsamfire/golevcan/pkg/can/virtual"
)

var ErrIdConflict = errors.New("preferred id already used by a local node")
var ErrDisconnected = errors.New("network is disconnected")

// A Network is the main object of this package
// It should be created before doing anything else
// It acts as scheduler for locally created nodes
type Network struct {
	*levcan.BusManager
	mu         sync.Mutex
	logger     *log.Logger
	nodes      []*n.Node
	processors map[*n.Node]*n.NodeProcessor
	preferred  map[*n.Node]uint8
	ctx        context.Context
	cancel     context.CancelFunc
}

// Create a new Network using the given CAN bus, bus may be nil and
// created on [Network.Connect]
func NewNetwork(bus can.Bus, logger *log.Logger) *Network {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		BusManager: levcan.NewBusManager(bus, logger, 0),
		logger:     logger,
		processors: map[*n.Node]*n.NodeProcessor{},
		preferred:  map[*n.Node]uint8{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connects to CAN bus, this should be called before anything else.
// Custom CAN backend is possible using a custom "Bus" interface.
// Otherwise it expects an interface name, channel and bitrate.
// Connecting again after Disconnect allows creating nodes again.
func (network *Network) Connect(args ...any) error {
	network.mu.Lock()
	if network.ctx.Err() != nil {
		network.ctx, network.cancel = context.WithCancel(context.Background())
	}
	network.mu.Unlock()
	bus := network.Bus()
	if bus == nil {
		if len(args) < 3 {
			return errors.New("either provide custom backend, or provide interface, channel and bitrate")
		}
		canInterface, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("expecting string for interface got : %v", args[0])
		}
		channel, ok := args[1].(string)
		if !ok {
			return fmt.Errorf("expecting string for channel got : %v", args[1])
		}
		bitrate, ok := args[2].(int)
		if !ok {
			return fmt.Errorf("expecting int for bitrate got : %v", args[2])
		}
		var err error
		bus, err = can.NewBus(canInterface, channel, bitrate)
		if err != nil {
			return err
		}
		network.SetBus(bus)
	}
	// Connect to CAN bus and subscribe to CAN message reception
	err := bus.Connect(args...)
	if err != nil {
		return err
	}
	return bus.Subscribe(network.BusManager)
}

// Disconnects from the CAN bus and stops processing of every node
func (network *Network) Disconnect() error {
	network.mu.Lock()
	network.cancel()
	processors := make([]*n.NodeProcessor, 0, len(network.processors))
	for _, p := range network.processors {
		processors = append(processors, p)
	}
	network.processors = map[*n.Node]*n.NodeProcessor{}
	network.preferred = map[*n.Node]uint8{}
	network.nodes = nil
	network.mu.Unlock()
	for _, p := range processors {
		p.Wait()
	}
	bus := network.Bus()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

// CreateNode creates a local node and starts processing it in the
// background. It goes online once its address claim succeeds
func (network *Network) CreateNode(cfg n.Config) (*n.Node, error) {
	network.mu.Lock()
	defer network.mu.Unlock()
	if network.ctx.Err() != nil {
		return nil, ErrDisconnected
	}
	if cfg.Name.NodeID <= levcan.StaticIDMax {
		for _, other := range network.nodes {
			if network.preferred[other] == cfg.Name.NodeID || other.GetID() == cfg.Name.NodeID {
				return nil, ErrIdConflict
			}
		}
	}
	node, err := n.New(network.BusManager, network.logger, cfg)
	if err != nil {
		return nil, err
	}
	node.SetLocal(network.localExcept(node))
	processor := n.NewNodeProcessor(node, network.logger, 0)
	err = processor.Start(network.ctx)
	if err != nil {
		return nil, err
	}
	network.logger.WithField("service", "[NETWORK]").Infof("added node %v", cfg.Name)
	network.nodes = append(network.nodes, node)
	network.processors[node] = processor
	network.preferred[node] = cfg.Name.NodeID
	return node, nil
}

// localExcept returns a function telling whether an id is held by another
// local node than self
func (network *Network) localExcept(self *n.Node) func(nodeId uint8) bool {
	return func(nodeId uint8) bool {
		network.mu.Lock()
		nodes := append([]*n.Node(nil), network.nodes...)
		network.mu.Unlock()
		for _, other := range nodes {
			if other != self && other.GetID() == nodeId {
				return true
			}
		}
		return false
	}
}

// RemoveNode stops processing a node, it releases its id
func (network *Network) RemoveNode(node *n.Node) {
	network.mu.Lock()
	processor, ok := network.processors[node]
	delete(network.processors, node)
	delete(network.preferred, node)
	for i, other := range network.nodes {
		if other == node {
			network.nodes = append(network.nodes[:i], network.nodes[i+1:]...)
			break
		}
	}
	network.mu.Unlock()
	if !ok {
		return
	}
	processor.Stop()
	processor.Wait()
}

// Nodes returns the local nodes
func (network *Network) Nodes() []*n.Node {
	network.mu.Lock()
	defer network.mu.Unlock()
	return append([]*n.Node(nil), network.nodes...)
}

// Node returns the local node currently holding nodeId
func (network *Network) Node(nodeId uint8) (*n.Node, bool) {
	for _, node := range network.Nodes() {
		if node.GetID() == nodeId {
			return node, true
		}
	}
	return nil, false
}
