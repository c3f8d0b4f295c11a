// Package socketcanraw talks to a linux CAN_RAW socket directly. Unlike the
// brutella based backend, acceptance filters are programmed in the kernel
package socketcanraw

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	can "github.com/samsamfire/golevcan/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	FrameSize      = 16
	DefaultTimeout = 100 * time.Millisecond
)

func init() {
	can.RegisterInterface("socketcanraw", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	f          *os.File
	fd         int
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Entry
}

// Create a new raw socketcan bus. This expects the CAN channel to be up,
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %v", err)
	}
	tv := unix.NsecToTimeval(DefaultTimeout.Nanoseconds())
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout %v", err)
	}
	err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index})
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &SocketcanBus{
		fd:     fd,
		f:      os.NewFile(uintptr(fd), fmt.Sprintf("can %v", channel)),
		logger: log.WithField("service", "[SOCKETCAN]"),
	}, nil
}

// "Connect" implementation of Bus interface
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface, the socket is closed
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return s.f.Close()
	}
	cancel()
	s.wg.Wait()
	return s.f.Close()
}

// encode a frame in the kernel struct can_frame layout
func encode(frame can.Frame) []byte {
	raw := make([]byte, FrameSize)
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decode(raw []byte) can.Frame {
	frame := can.Frame{ID: binary.NativeEndian.Uint32(raw[0:4]), DLC: raw[4], Flags: raw[5]}
	copy(frame.Data[:], raw[8:FrameSize])
	return frame
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	n, err := s.f.Write(encode(frame))
	if err != nil {
		return err
	}
	if n != FrameSize {
		return fmt.Errorf("short write of %v bytes", n)
	}
	return nil
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanBus) processIncoming(ctx context.Context) {
	raw := make([]byte, FrameSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("exiting CAN bus reception, closed")
			return
		default:
		}
		n, err := unix.Read(s.fd, raw)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil || n != FrameSize {
			s.logger.Warnf("exiting CAN bus reception : %v", err)
			return
		}
		s.mu.Lock()
		callback := s.rxCallback
		s.mu.Unlock()
		if callback != nil {
			callback.Handle(decode(raw))
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxCallback = rxCallback
	return nil
}

// Enable own reception on the bus. CAN be useful when testing for example
func (s *SocketcanBus) SetReceiveOwn(enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	s.logger.Debugf("setting option 'CAN_RAW_RECV_OWN_MSGS' to %v", enabled)
	return unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, value)
}

func kernelFilters(filters []can.Filter) []unix.CanFilter {
	kfilters := make([]unix.CanFilter, 0, len(filters))
	for _, f := range filters {
		kfilters = append(kfilters, unix.CanFilter{Id: f.Ident, Mask: f.Mask})
	}
	return kfilters
}

// Program kernel acceptance filters, an empty list accepts everything
func (s *SocketcanBus) SetFilters(filters []can.Filter) error {
	if len(filters) == 0 {
		filters = []can.Filter{{Ident: 0, Mask: 0}}
	}
	s.logger.Debugf("setting option 'CAN_RAW_FILTER' with %v filters", len(filters))
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kernelFilters(filters))
}
