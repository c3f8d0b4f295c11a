package http

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/address"
	"github.com/samsamfire/golevcan/pkg/gateway"
)

// SendPayload is the body of a send request
type SendPayload struct {
	Target    *uint8 `json:"target"`
	MessageID string `json:"message_id"` // decimal or 0x prefixed hex
	Data      string `json:"data"`       // hex encoded
	Reliable  bool   `json:"reliable"`
	Wait      bool   `json:"wait"`

	msgId uint16
	data  []byte
}

func parseMessageID(value string) (uint16, error) {
	id, err := strconv.ParseUint(value, 0, 16)
	if err != nil || id > levcan.MaxMessageID {
		return 0, fmt.Errorf("invalid message id %q", value)
	}
	return uint16(id), nil
}

func (p *SendPayload) Bind(r *http.Request) error {
	if p.Target == nil || *p.Target > levcan.BroadcastAddress {
		return errors.New("missing or invalid target")
	}
	var err error
	p.msgId, err = parseMessageID(p.MessageID)
	if err != nil {
		return err
	}
	p.data, err = hex.DecodeString(p.Data)
	if err != nil {
		return fmt.Errorf("invalid data : %v", err)
	}
	return nil
}

// RequestPayload is the body of a request for a remote object
type RequestPayload struct {
	Target    *uint8 `json:"target"`
	MessageID string `json:"message_id"`

	msgId uint16
}

func (p *RequestPayload) Bind(r *http.Request) error {
	if p.Target == nil || *p.Target > levcan.BroadcastAddress {
		return errors.New("missing or invalid target")
	}
	var err error
	p.msgId, err = parseMessageID(p.MessageID)
	return err
}

// ShortNameResponse is a node as seen on the bus
type ShortNameResponse struct {
	NodeID           uint8  `json:"node_id"`
	DeviceType       uint16 `json:"device_type"`
	ManufacturerCode uint16 `json:"manufacturer_code"`
	SerialNumber     uint32 `json:"serial_number"`
	CodePage         uint16 `json:"code_page"`
	Configurable     bool   `json:"configurable"`
	Variables        bool   `json:"variables"`
	SWUpdates        bool   `json:"sw_updates"`
	Events           bool   `json:"events"`
	FileServer       bool   `json:"file_server"`
	DynamicID        bool   `json:"dynamic_id"`
}

func newShortNameResponse(s address.ShortName) ShortNameResponse {
	return ShortNameResponse{
		NodeID:           s.NodeID,
		DeviceType:       s.DeviceType,
		ManufacturerCode: s.ManufacturerCode,
		SerialNumber:     s.SerialNumber,
		CodePage:         s.CodePage,
		Configurable:     s.Configurable,
		Variables:        s.Variables,
		SWUpdates:        s.SWUpdates,
		Events:           s.Events,
		FileServer:       s.FileServer,
		DynamicID:        s.DynamicID,
	}
}

// NodeResponse is a local node
type NodeResponse struct {
	NodeID    uint8             `json:"node_id"`
	State     string            `json:"state"`
	ShortName ShortNameResponse `json:"short_name"`
}

func newNodeResponse(info gateway.NodeInfo) NodeResponse {
	return NodeResponse{NodeID: info.NodeID, State: info.State, ShortName: newShortNameResponse(info.ShortName)}
}

type StatusResponse struct {
	Status string `json:"status"`
}

type VersionResponse struct {
	Vendor          string `json:"vendor"`
	ProtocolVersion string `json:"protocol_version"`
	Nodes           int    `json:"nodes"`
}
