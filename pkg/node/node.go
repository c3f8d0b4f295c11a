// Package node runs one protocol node : its object dictionary, transfers
// and address claim.
package node

import (
	"context"
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/address"
	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/samsamfire/golevcan/pkg/od"
	"github.com/samsamfire/golevcan/pkg/transport"
	log "github.com/sirupsen/logrus"
)

const DefaultIngressSize = 128

// Config of a [Node]
type Config struct {
	// Identity, Name.NodeID is the preferred node id
	Name         address.ShortName
	NodeName     string
	DeviceName   string
	VendorName   string
	VendorCode   uint32
	HWVersion    uint32
	SWVersion    uint32
	SerialNumber uint32

	// Application objects, may be nil
	Objects *od.ObjectDictionary

	TimeoutMs   int // global message timeout
	StaticPool  bool
	PoolSize    int // slots of a static pool, limit of a heap pool (0 unlimited)
	BufferSize  int // receive buffer of each static slot
	IngressSize int
	TableSize   int
}

// Node is a local node attached to a [levcan.BusManager]
type Node struct {
	mu         sync.Mutex
	logger     *log.Entry
	bm         *levcan.BusManager
	od         *od.ObjectDictionary
	transport  *transport.Transport
	address    *address.Manager
	ingress    chan can.Frame
	rxCancel   func()
	onTrace    func(msg string)
	onShutdown func(source uint8)
}

// New creates a node, call [Node.Start] to begin claiming an address
func New(bm *levcan.BusManager, logger *log.Logger, cfg Config) (*Node, error) {
	if bm == nil {
		return nil, fmt.Errorf("node needs a bus manager : %w", levcan.ErrIllegalArgument)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Name.NodeID >= levcan.NullAddress {
		return nil, fmt.Errorf("preferred node id %d : %w", cfg.Name.NodeID, levcan.ErrOutOfRange)
	}
	if cfg.IngressSize <= 0 {
		cfg.IngressSize = DefaultIngressSize
	}
	odict := cfg.Objects
	if odict == nil {
		odict = od.NewOD()
	}
	var pool *transport.Pool
	if cfg.StaticPool {
		if cfg.PoolSize <= 0 || cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("static pool needs a size and a buffer size : %w", levcan.ErrInit)
		}
		pool = transport.NewStaticPool(cfg.PoolSize, cfg.BufferSize)
	} else {
		pool = transport.NewHeapPool(cfg.PoolSize)
	}
	node := &Node{
		logger:  logger.WithField("service", "[NODE]"),
		bm:      bm,
		od:      odict,
		ingress: make(chan can.Frame, cfg.IngressSize),
	}
	node.transport = transport.NewTransport(bm, odict, logger, pool, cfg.TimeoutMs)
	node.transport.OnTrace(node.trace)
	node.address = address.NewManager(bm, logger, cfg.Name, cfg.TableSize)
	node.addSystemObjects(cfg)
	return node, nil
}

// Start listening to the bus and claiming a node id
func (node *Node) Start() error {
	node.mu.Lock()
	if node.rxCancel == nil {
		cancel, err := node.bm.Subscribe(can.CanEffFlag, can.CanEffFlag, node)
		if err != nil {
			node.mu.Unlock()
			return err
		}
		node.rxCancel = cancel
	}
	node.mu.Unlock()
	return node.address.Start()
}

// Stop releases the node id and stops listening
func (node *Node) Stop() {
	node.mu.Lock()
	if node.rxCancel != nil {
		node.rxCancel()
		node.rxCancel = nil
	}
	node.mu.Unlock()
	node.address.Stop()
	node.bm.CreateFilterMasks(node.address, nil)
}

func (node *Node) GetOD() *od.ObjectDictionary {
	return node.od
}

// GetID returns the claimed node id, [levcan.NullAddress] when offline
func (node *Node) GetID() uint8 {
	return node.address.NodeID()
}

// State of the address claim
func (node *Node) State() address.State {
	return node.address.State()
}

func (node *Node) ShortName() address.ShortName {
	return node.address.ShortName()
}

// SetLocal tells the address manager which ids are held by other local nodes
func (node *Node) SetLocal(isLocal func(nodeId uint8) bool) {
	node.address.SetLocal(isLocal)
}

// OnTrace registers a hook receiving diagnostics of background failures
// and trace messages sent by other nodes
func (node *Node) OnTrace(fn func(msg string)) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.onTrace = fn
}

// OnShutdown registers a callback for shutdown requests
func (node *Node) OnShutdown(fn func(source uint8)) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.onShutdown = fn
}

// OnAddressChange registers a callback for node table changes
func (node *Node) OnAddressChange(fn address.NodeCallback) {
	node.address.OnNode(fn)
}

// OnStateChange registers a callback for own address state changes
func (node *Node) OnStateChange(fn address.StateCallback) {
	node.address.OnState(fn)
}

func (node *Node) trace(msg string) {
	node.mu.Lock()
	fn := node.onTrace
	node.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Handle implements [can.FrameListener]
func (node *Node) Handle(frame can.Frame) {
	node.ReceiveHandler(frame)
}

// ReceiveHandler queues a received frame, it never blocks.
// Frames are dropped when the ingress queue is full
func (node *Node) ReceiveHandler(frame can.Frame) {
	select {
	case node.ingress <- frame:
	default:
		msg := fmt.Sprintf("ingress full, dropping %v", levcan.HeaderOf(frame))
		node.logger.Warn(msg)
		node.trace(msg)
	}
}

// ReceiveManager processes every queued frame and returns their count
func (node *Node) ReceiveManager() int {
	count := 0
	for {
		select {
		case frame := <-node.ingress:
			node.receive(frame)
			count++
		default:
			return count
		}
	}
}

func (node *Node) receive(frame can.Frame) {
	if frame.ID&can.CanEffFlag == 0 || frame.ID&can.CanErrFlag != 0 {
		return
	}
	h := levcan.HeaderOf(frame)
	node.address.Refresh(h.Source)
	if h.MsgID == levcan.SysAddressClaimed {
		node.address.Handle(frame)
		return
	}
	if !node.address.Online() {
		return
	}
	id := node.address.NodeID()
	if h.Source == id || h.Target != id && h.Target != levcan.BroadcastAddress {
		return
	}
	if h.Request {
		node.answer(h)
		return
	}
	node.transport.ProceedReceive(frame)
}

// answer a request with the matching readable record
func (node *Node) answer(h levcan.Header) {
	entry, err := node.od.FindRecord(h.MsgID, 0, od.Read, h.Source)
	if err != nil {
		node.logger.Debugf("unanswered request %v : %v", h, err)
		return
	}
	if _, ok := entry.Value.(od.Func); ok {
		err = entry.Deliver(od.Message{Header: h})
	} else {
		_, err = node.transport.Send(entry, levcan.Header{Source: node.GetID(), Target: h.Source, MsgID: h.MsgID})
	}
	if err != nil {
		node.trace(fmt.Sprintf("answering x%x to %d : %v", h.MsgID, h.Source, err))
	}
}

// NetworkManager ages transfers, drives the address claim and retries
// queued frames. To be called periodically with the elapsed time
func (node *Node) NetworkManager(elapsedMs int) {
	node.address.Process(elapsedMs)
	if node.address.Online() {
		node.transport.Process(elapsedMs)
	}
	node.bm.Process()
}

// SendMessage starts sending entry under msgId to entry.NodeID
func (node *Node) SendMessage(entry *od.Entry, msgId uint16) error {
	_, err := node.send(entry, msgId)
	return err
}

// Transfer sends entry under msgId and waits for the end of the transfer
func (node *Node) Transfer(ctx context.Context, entry *od.Entry, msgId uint16) error {
	done, err := node.send(entry, msgId)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (node *Node) send(entry *od.Entry, msgId uint16) (<-chan error, error) {
	if entry == nil || msgId > levcan.MaxMessageID {
		return nil, levcan.ErrIllegalArgument
	}
	if !node.address.Online() {
		return nil, levcan.ErrNodeOffline
	}
	return node.transport.Send(entry, levcan.Header{
		Source: node.address.NodeID(),
		Target: entry.NodeID,
		MsgID:  msgId,
	})
}

// SendRequest asks target to send msgId
func (node *Node) SendRequest(target uint8, msgId uint16) error {
	if target > levcan.BroadcastAddress || msgId > levcan.MaxMessageID {
		return levcan.ErrIllegalArgument
	}
	if !node.address.Online() {
		return levcan.ErrNodeOffline
	}
	h := levcan.Header{
		Source:  node.address.NodeID(),
		Target:  target,
		MsgID:   msgId,
		RTS:     true,
		EoM:     true,
		Request: true,
	}
	return node.bm.Send(h.Frame(nil))
}

// GetActiveNodes returns the next known node from cursor, a NodeID of
// [levcan.BroadcastAddress] ends the iteration
//
//	cursor := 0
//	for n := node.GetActiveNodes(&cursor); n.NodeID != levcan.BroadcastAddress; n = node.GetActiveNodes(&cursor) {
//		...
//	}
func (node *Node) GetActiveNodes(cursor *int) address.ShortName {
	return node.address.GetActiveNodes(cursor)
}

// ActiveNodes returns every known node
func (node *Node) ActiveNodes() []address.ShortName {
	nodes := []address.ShortName{}
	cursor := 0
	for n := node.GetActiveNodes(&cursor); n.NodeID != levcan.BroadcastAddress; n = node.GetActiveNodes(&cursor) {
		nodes = append(nodes, n)
	}
	return nodes
}

// GetNode returns the short name of a known node
func (node *Node) GetNode(nodeId uint8) (address.ShortName, bool) {
	return node.address.GetNode(nodeId)
}

// Pending returns the number of outbound and inbound transfers in progress
func (node *Node) Pending() (outbound int, inbound int) {
	return node.transport.Pending()
}
