package virtual

import (
	"net"
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame can.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func (frameReceiver *FrameReceiver) count() int {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	return len(frameReceiver.frames)
}

func TestSerializeFrame(t *testing.T) {
	frame := can.Frame{ID: 0x1234567 | can.CanEffFlag, Flags: 0, DLC: 3, Data: [8]byte{1, 2, 3}}
	raw, err := serializeFrame(frame)
	require.Nil(t, err)
	assert.EqualValues(t, 14, raw[3])
	decoded, err := deserializeFrame(raw[4:])
	require.Nil(t, err)
	assert.Equal(t, frame, *decoded)
}

// A tiny broker relaying every frame to every other connection
func startBroker(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	var mu sync.Mutex
	conns := []net.Conn{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			go func(c net.Conn) {
				buf := make([]byte, 256)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					mu.Lock()
					for _, other := range conns {
						if other != c {
							_, _ = other.Write(buf[:n])
						}
					}
					mu.Unlock()
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return listener.Addr().String()
}

func TestSendAndSubscribe(t *testing.T) {
	addr := startBroker(t)
	bus1, _ := NewVirtualCanBus(addr)
	bus2, _ := NewVirtualCanBus(addr)
	require.Nil(t, bus1.Connect())
	require.Nil(t, bus2.Connect())
	defer bus1.Disconnect()
	defer bus2.Disconnect()

	receiver := &FrameReceiver{}
	require.Nil(t, bus2.Subscribe(receiver))
	frame := can.Frame{ID: 0x111 | can.CanEffFlag, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := range 10 {
		frame.Data[0] = uint8(i)
		assert.Nil(t, bus1.Send(frame))
	}
	assert.Eventually(t, func() bool { return receiver.count() == 10 }, time.Second, 10*time.Millisecond)
}

func TestReceiveOwn(t *testing.T) {
	canBus, _ := NewVirtualCanBus("localhost:1")
	vcan := canBus.(*Bus)
	receiver := &FrameReceiver{}
	vcan.framehandler = receiver
	frame := can.Frame{ID: 0x111, DLC: 8}
	assert.ErrorIs(t, vcan.Send(frame), ErrNotConnected)
	assert.Equal(t, 0, receiver.count())

	vcan.SetReceiveOwn(true)
	assert.Nil(t, vcan.Send(frame))
	assert.Equal(t, 1, receiver.count())
}
