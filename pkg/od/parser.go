package od

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	levcan "github.com/samsamfire/golevcan"
	"gopkg.in/ini.v1"
)

// Parse an object dictionary description.
// file can be either a path, an io.Reader or []byte (anything ini.Load accepts).
// Every section with a MessageID key describes one entry :
//
//	[Throttle]
//	MessageID = 0x200
//	Type      = variable ; variable, string or queue
//	Size      = 4        ; maximum size for strings
//	Access    = rw       ; r, w or rw
//	Reliable  = false
//	Priority  = mid      ; low, mid, control, high or 0-3
//	NodeID    = 127      ; 127 is any node
//	Default   = 00000000 ; hex bytes, or text for strings
//	Depth     = 8        ; queue depth
//
// Sections without MessageID are ignored so node configuration may live in
// the same file.
func Parse(file any) (*ObjectDictionary, error) {
	od := NewOD()
	err := ParseInto(od, file)
	if err != nil {
		return nil, err
	}
	return od, nil
}

// ParseInto adds the entries described by file to od
func ParseInto(od *ObjectDictionary, file any) error {
	cfg, err := ini.Load(file)
	if err != nil {
		return err
	}
	return ParseFile(od, cfg)
}

// ParseFile adds the entries of an already loaded ini file to od
func ParseFile(od *ObjectDictionary, cfg *ini.File) error {
	for _, section := range cfg.Sections() {
		if !section.HasKey("MessageID") {
			continue
		}
		entry, err := NewEntryFromSection(section)
		if err != nil {
			return fmt.Errorf("[OD] section %v : %w", section.Name(), err)
		}
		od.Add(entry)
	}
	return nil
}

// NewEntryFromSection creates an [Entry] from an ini section
func NewEntryFromSection(section *ini.Section) (*Entry, error) {
	msgId, err := strconv.ParseUint(section.Key("MessageID").String(), 0, 16)
	if err != nil || msgId > levcan.MaxMessageID {
		return nil, fmt.Errorf("invalid MessageID %q : %w", section.Key("MessageID").String(), levcan.ErrData)
	}
	entry := &Entry{
		Name:   section.Name(),
		MsgID:  uint16(msgId),
		NodeID: levcan.BroadcastAddress,
	}
	access := strings.ToLower(section.Key("Access").MustString("rw"))
	entry.Readable = strings.Contains(access, "r")
	entry.Writable = strings.Contains(access, "w")
	entry.Reliable = section.Key("Reliable").MustBool(false)
	entry.Cleanup = section.Key("Cleanup").MustBool(false)

	entry.Priority, err = parsePriority(section.Key("Priority").MustString("low"))
	if err != nil {
		return nil, err
	}
	nodeId := section.Key("NodeID").MustUint(levcan.BroadcastAddress)
	if nodeId > levcan.BroadcastAddress {
		return nil, fmt.Errorf("invalid NodeID %v : %w", nodeId, levcan.ErrOutOfRange)
	}
	entry.NodeID = uint8(nodeId)

	size := section.Key("Size").MustInt(0)
	defaultValue := section.Key("Default").String()

	switch kind := strings.ToLower(section.Key("Type").MustString("variable")); kind {
	case "variable":
		if size <= 0 {
			return nil, fmt.Errorf("variable needs a positive Size : %w", levcan.ErrData)
		}
		v := NewVariable(size)
		if defaultValue != "" {
			raw, err := hex.DecodeString(strings.TrimPrefix(defaultValue, "0x"))
			if err != nil {
				return nil, fmt.Errorf("invalid Default %q : %w", defaultValue, levcan.ErrData)
			}
			v.Write(raw)
		}
		entry.Size = size
		entry.Value = v
	case "string":
		if size <= 0 {
			return nil, fmt.Errorf("string needs a positive maximum Size : %w", levcan.ErrData)
		}
		entry.Size = -size
		entry.Value = NewSlot(nullTerminated(defaultValue, size))
	case "queue":
		entry.Size = size
		entry.Value = make(Queue, section.Key("Depth").MustInt(8))
	default:
		return nil, fmt.Errorf("unknown Type %q : %w", kind, levcan.ErrData)
	}
	return entry, nil
}

func parsePriority(value string) (uint8, error) {
	switch strings.ToLower(value) {
	case "low":
		return levcan.PriorityLow, nil
	case "mid":
		return levcan.PriorityMid, nil
	case "control":
		return levcan.PriorityControl, nil
	case "high":
		return levcan.PriorityHigh, nil
	}
	p, err := strconv.ParseUint(value, 0, 8)
	if err != nil || p > uint64(levcan.PriorityHigh) {
		return 0, fmt.Errorf("invalid Priority %q : %w", value, levcan.ErrOutOfRange)
	}
	return uint8(p), nil
}
