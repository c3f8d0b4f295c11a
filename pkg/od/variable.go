package od

import (
	"encoding/binary"
	"sync"
)

// Variable is fixed size application memory.
// Writes are truncated to the variable size
type Variable struct {
	mu   sync.RWMutex
	data []byte
}

func NewVariable(size int) *Variable {
	return &Variable{data: make([]byte, size)}
}

func (*Variable) isValue() {}

// Bytes returns a copy of the current value
func (v *Variable) Bytes() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]byte(nil), v.data...)
}

// Write copies min(len(p), size) bytes and returns the copied count
func (v *Variable) Write(p []byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copy(v.data, p)
}

func (v *Variable) Len() int {
	return len(v.data)
}

func (v *Variable) Uint8() uint8 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.data) < 1 {
		return 0
	}
	return v.data[0]
}

func (v *Variable) Uint16() uint16 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.data) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(v.data)
}

func (v *Variable) Uint32() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v.data)
}

func (v *Variable) SetUint32(value uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	v.Write(buf)
}

// Slot holds a buffer by reference, writes swap the whole buffer
type Slot struct {
	mu   sync.Mutex
	data []byte
}

func NewSlot(data []byte) *Slot {
	return &Slot{data: data}
}

func (*Slot) isValue() {}

func (s *Slot) Load() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Slot) Store(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

// String returns the slot content up to the first null byte
func (s *Slot) String() string {
	data := s.Load()
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
