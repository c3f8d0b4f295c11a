// Package gateway exposes the local nodes of a network to external tools.
// Each gateway maps its own parsing logic to this base gateway
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/address"
	"github.com/samsamfire/golevcan/pkg/network"
	n "github.com/samsamfire/golevcan/pkg/node"
	"github.com/samsamfire/golevcan/pkg/od"
	log "github.com/sirupsen/logrus"
)

var ErrNoNode = errors.New("no local node with this id")

// BaseGateway implements the gateway features shared by every transport
type BaseGateway struct {
	mu            sync.Mutex
	logger        *log.Entry
	network       *network.Network
	defaultNodeId uint8
}

type GatewayVersion struct {
	Vendor          string
	ProtocolVersion string
	Nodes           int
}

// NodeInfo describes a local node
type NodeInfo struct {
	NodeID    uint8
	State     string
	ShortName address.ShortName
}

func NewBaseGateway(network *network.Network, defaultNodeId uint8, logger *log.Logger) *BaseGateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BaseGateway{
		logger:        logger.WithField("service", "[GATEWAY]"),
		network:       network,
		defaultNodeId: defaultNodeId,
	}
}

// Set default node Id to use
func (gw *BaseGateway) SetDefaultNodeId(id uint8) error {
	if id >= levcan.NullAddress {
		return levcan.ErrOutOfRange
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.defaultNodeId = id
	return nil
}

// Get the default node Id
func (gw *BaseGateway) DefaultNodeId() uint8 {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.defaultNodeId
}

func (gw *BaseGateway) GetVersion() GatewayVersion {
	return GatewayVersion{Vendor: "golevcan", ProtocolVersion: "1.0", Nodes: len(gw.network.Nodes())}
}

// Local returns the local node holding nodeId, nil nodeId is the default one
func (gw *BaseGateway) Local(nodeId *uint8) (*n.Node, error) {
	id := gw.DefaultNodeId()
	if nodeId != nil {
		id = *nodeId
	}
	node, ok := gw.network.Node(id)
	if !ok {
		return nil, fmt.Errorf("node %d : %w", id, ErrNoNode)
	}
	return node, nil
}

// Nodes describes every local node
func (gw *BaseGateway) Nodes() []NodeInfo {
	infos := []NodeInfo{}
	for _, node := range gw.network.Nodes() {
		infos = append(infos, NodeInfo{NodeID: node.GetID(), State: node.State().String(), ShortName: node.ShortName()})
	}
	return infos
}

// SendMessage sends data from a local node to target. When wait is set
// it returns once the transfer ended
func (gw *BaseGateway) SendMessage(ctx context.Context, local *n.Node, target uint8, msgId uint16, data []byte, reliable bool, wait bool) error {
	v := od.NewVariable(len(data))
	v.Write(data)
	entry := &od.Entry{
		Name:       "gateway",
		MsgID:      msgId,
		Attributes: od.Attributes{Readable: true, Reliable: reliable},
		Size:       len(data),
		NodeID:     target,
		Value:      v,
	}
	gw.logger.Debugf("sending x%x (%d bytes) from %d to %d", msgId, len(data), local.GetID(), target)
	if wait {
		return local.Transfer(ctx, entry, msgId)
	}
	return local.SendMessage(entry, msgId)
}
