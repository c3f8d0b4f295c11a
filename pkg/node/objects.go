package node

import (
	"fmt"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/od"
)

const (
	maxNameSize  = 128
	maxTraceSize = 256
)

var readOnly = od.Attributes{Readable: true}

func (node *Node) addSystemObjects(cfg Config) {
	texts := []struct {
		msgId uint16
		name  string
		value string
	}{
		{levcan.SysNodeName, "NodeName", cfg.NodeName},
		{levcan.SysDeviceName, "DeviceName", cfg.DeviceName},
		{levcan.SysVendorName, "VendorName", cfg.VendorName},
	}
	for _, s := range texts {
		node.od.AddSystem(&od.Entry{
			Name:       s.name,
			MsgID:      s.msgId,
			Attributes: readOnly,
			Size:       -maxNameSize,
			NodeID:     levcan.BroadcastAddress,
			Value:      od.NewSlot(append([]byte(s.value), 0)),
		})
	}
	numbers := []struct {
		msgId uint16
		name  string
		value uint32
	}{
		{levcan.SysVendorCode, "VendorCode", cfg.VendorCode},
		{levcan.SysHWVersion, "HWVersion", cfg.HWVersion},
		{levcan.SysSWVersion, "SWVersion", cfg.SWVersion},
		{levcan.SysSerialNumber, "SerialNumber", cfg.SerialNumber},
	}
	for _, n := range numbers {
		v := od.NewVariable(4)
		v.SetUint32(n.value)
		node.od.AddSystem(&od.Entry{
			Name:       n.name,
			MsgID:      n.msgId,
			Attributes: readOnly,
			Size:       4,
			NodeID:     levcan.BroadcastAddress,
			Value:      v,
		})
	}
	node.od.AddSystem(&od.Entry{
		Name:       "Trace",
		MsgID:      levcan.SysTrace,
		Attributes: od.Attributes{Writable: true},
		Size:       -maxTraceSize,
		NodeID:     levcan.BroadcastAddress,
		Value: od.Func(func(m od.Message) {
			node.trace(fmt.Sprintf("node %d : %s", m.Header.Source, od.NewSlot(m.Payload)))
		}),
	})
	node.od.AddSystem(&od.Entry{
		Name:       "Shutdown",
		MsgID:      levcan.SysShutdown,
		Attributes: od.Attributes{Writable: true},
		Size:       -8,
		NodeID:     levcan.BroadcastAddress,
		Value: od.Func(func(m od.Message) {
			node.logger.Infof("shutdown requested by node %d", m.Header.Source)
			node.mu.Lock()
			fn := node.onShutdown
			node.mu.Unlock()
			if fn != nil {
				fn(m.Header.Source)
			}
		}),
	})
}
