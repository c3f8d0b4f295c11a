package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	can "github.com/samsamfire/golevcan/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus implementation with TCP, primarily used for testing
// against several processes.
// This needs a broker server to send CAN frames to all connected clients
// More information : https://github.com/windelbouwman/virtualcan

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var ErrNotConnected = errors.New("no active connection")

type Bus struct {
	mu           sync.Mutex
	logger       *log.Entry
	channel      string
	conn         net.Conn
	receiveOwn   bool
	framehandler can.FrameListener
	filters      []can.Filter
	stopChan     chan bool
	wg           sync.WaitGroup
	isRunning    bool
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{
		channel:  channel,
		stopChan: make(chan bool),
		logger:   log.WithField("service", "[VIRTUAL]"),
	}, nil
}

// Helper function for serializing a CAN frame into the expected binary format
// A 4 byte big endian length prefix followed by the frame
func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4, 4+len(dataBytes))
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (*can.Frame, error) {
	var frame can.Frame
	err := binary.Read(bytes.NewBuffer(buffer), binary.BigEndian, &frame)
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// "Connect" to server e.g. localhost:18000
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		err := tcpConn.SetNoDelay(true)
		if err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.isRunning
	b.mu.Unlock()
	if running {
		b.stopChan <- true
		b.wg.Wait()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	conn := b.conn
	handler := b.framehandler
	receiveOwn := b.receiveOwn
	b.mu.Unlock()

	// Local loopback
	if receiveOwn && handler != nil {
		handler.Handle(frame)
	}
	if conn == nil {
		if receiveOwn {
			return nil
		}
		return ErrNotConnected
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = conn.Write(frameBytes)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.wg.Add(1)
	b.isRunning = true
	go b.handleReception()
	return nil
}

// Filters are applied on reception, the broker forwards everything
func (b *Bus) SetFilters(filters []can.Filter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append([]can.Filter(nil), filters...)
	return nil
}

// Receive new CAN message
func (b *Bus) Recv() (*can.Frame, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("abort receive : %w", ErrNotConnected)
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	_, err := io.ReadFull(conn, headerBytes)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := io.ReadFull(conn, frameBytes)
	if err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v : %w", length, n, err)
	}
	return deserializeFrame(frameBytes)
}

// Handle incoming traffic
func (b *Bus) handleReception() {
	defer func() {
		b.mu.Lock()
		b.isRunning = false
		b.mu.Unlock()
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			frame, err := b.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No message received, this is OK
				continue
			} else if err != nil {
				b.logger.Errorf("listening routine has closed because : %v", err)
				// Wait for disconnect to collect the stop request
				<-b.stopChan
				return
			}
			b.mu.Lock()
			handler := b.framehandler
			filters := b.filters
			b.mu.Unlock()
			if handler != nil && accepted(filters, frame.ID) {
				handler.Handle(*frame)
			}
		}
	}
}

func accepted(filters []can.Filter, id uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Match(id) {
			return true
		}
	}
	return false
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
