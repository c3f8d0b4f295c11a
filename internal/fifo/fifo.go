package fifo

import can "github.com/samsamfire/golevcan/pkg/can"

// Circular Fifo of CAN frames, used as the transmit queue in front of a bus.
// One slot is always kept empty to tell "full" from "empty".
type Fifo struct {
	buffer   []can.Frame
	writePos int
	readPos  int
}

// NewFifo creates a fifo able to hold size frames
func NewFifo(size uint16) *Fifo {
	return &Fifo{buffer: make([]can.Frame, int(size)+1)}
}

func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

// Cap returns the maximum number of frames the fifo can hold
func (f *Fifo) Cap() int {
	return len(f.buffer) - 1
}

func (f *Fifo) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write a frame to fifo, returns false if the fifo is full
func (f *Fifo) Write(frame can.Frame) bool {
	writePosNext := f.writePos + 1
	if writePosNext == len(f.buffer) {
		writePosNext = 0
	}
	if writePosNext == f.readPos {
		return false
	}
	f.buffer[f.writePos] = frame
	f.writePos = writePosNext
	return true
}

// Peek returns the oldest frame without removing it
func (f *Fifo) Peek() (can.Frame, bool) {
	if f.readPos == f.writePos {
		return can.Frame{}, false
	}
	return f.buffer[f.readPos], true
}

// Read removes and returns the oldest frame
func (f *Fifo) Read() (can.Frame, bool) {
	frame, ok := f.Peek()
	if !ok {
		return frame, false
	}
	f.buffer[f.readPos] = can.Frame{}
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return frame, true
}
