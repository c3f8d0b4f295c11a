package config

import (
	"fmt"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/address"
	n "github.com/samsamfire/golevcan/pkg/node"
	"github.com/samsamfire/golevcan/pkg/od"
	"gopkg.in/ini.v1"
)

// transportSection maps the [transport] section
type transportSection struct {
	TimeoutMs   int
	StaticPool  bool
	PoolSize    int
	BufferSize  int
	IngressSize int
	TableSize   int
}

// LoadNode reads a node configuration. file is a path, raw bytes or a
// reader, same as [ini.Load]. Example :
//
//	[node]
//	NodeID           = 10
//	NodeName         = controller
//	DeviceType       = 3
//	ManufacturerCode = 12
//	SerialNumber     = 4242
//
//	[transport]
//	TimeoutMs  = 1500
//	StaticPool = true
//	PoolSize   = 8
//	BufferSize = 64
//
// Every other section carrying a MessageID is an object of the node
// dictionary, see [od.Parse].
func LoadNode(file any) (n.Config, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return n.Config{}, err
	}
	config, err := nodeSection(cfg.Section("node"))
	if err != nil {
		return n.Config{}, fmt.Errorf("[CONFIG] section node : %w", err)
	}
	tr := transportSection{}
	err = cfg.Section("transport").StrictMapTo(&tr)
	if err != nil {
		return n.Config{}, fmt.Errorf("[CONFIG] section transport : %w", err)
	}
	if tr.TimeoutMs < 0 || tr.PoolSize < 0 || tr.BufferSize < 0 {
		return n.Config{}, fmt.Errorf("[CONFIG] section transport : %w", levcan.ErrOutOfRange)
	}
	config.TimeoutMs = tr.TimeoutMs
	config.StaticPool = tr.StaticPool
	config.PoolSize = tr.PoolSize
	config.BufferSize = tr.BufferSize
	config.IngressSize = tr.IngressSize
	config.TableSize = tr.TableSize

	config.Objects = od.NewOD()
	err = od.ParseFile(config.Objects, cfg)
	if err != nil {
		return n.Config{}, err
	}
	return config, nil
}

func nodeSection(section *ini.Section) (n.Config, error) {
	nodeId := section.Key("NodeID").MustUint(levcan.DynamicIDMin)
	if nodeId >= levcan.NullAddress {
		return n.Config{}, fmt.Errorf("node id %d : %w", nodeId, levcan.ErrOutOfRange)
	}
	deviceType := section.Key("DeviceType").MustUint(0)
	manufacturer := section.Key("ManufacturerCode").MustUint(0)
	serial := section.Key("SerialNumber").MustUint(0)
	if deviceType > 0x3FF || manufacturer > 0x3FF || serial > 0x3FFFFF {
		return n.Config{}, fmt.Errorf("short name field too large : %w", levcan.ErrOutOfRange)
	}
	name := address.ShortName{
		Configurable:     section.Key("Configurable").MustBool(false),
		Variables:        section.Key("Variables").MustBool(true),
		SWUpdates:        section.Key("SWUpdates").MustBool(false),
		Events:           section.Key("Events").MustBool(false),
		FileServer:       section.Key("FileServer").MustBool(false),
		DynamicID:        section.Key("DynamicID").MustBool(nodeId > levcan.StaticIDMax),
		DeviceType:       uint16(deviceType),
		CodePage:         uint16(section.Key("CodePage").MustUint(0)),
		ManufacturerCode: uint16(manufacturer),
		SerialNumber:     uint32(serial),
		NodeID:           uint8(nodeId),
	}
	return n.Config{
		Name:         name,
		NodeName:     section.Key("NodeName").MustString("levcan"),
		DeviceName:   section.Key("DeviceName").String(),
		VendorName:   section.Key("VendorName").String(),
		VendorCode:   uint32(section.Key("VendorCode").MustUint(0)),
		HWVersion:    uint32(section.Key("HWVersion").MustUint(0)),
		SWVersion:    uint32(section.Key("SWVersion").MustUint(0)),
		SerialNumber: uint32(serial),
	}, nil
}
