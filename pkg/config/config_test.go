package config

import (
	"strings"
	"testing"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeFile = `
[node]
NodeID           = 10
NodeName         = controller
VendorName       = acme
DeviceType       = 3
ManufacturerCode = 12
SerialNumber     = 4242
Events           = true

[transport]
TimeoutMs  = 800
StaticPool = true
PoolSize   = 8
BufferSize = 64

[throttle]
MessageID = 0x120
Size      = 4
Access    = w
Reliable  = true
`

func TestLoadBus(t *testing.T) {
	cfg, err := LoadBus()
	require.Nil(t, err)
	assert.Equal(t, "socketcan", cfg.Interface)
	assert.Equal(t, "can0", cfg.Channel)
	assert.Equal(t, 500000, cfg.Bitrate)
	assert.Equal(t, "", cfg.HTTP)

	t.Setenv("LEVCAN_INTERFACE", "virtual")
	t.Setenv("LEVCAN_BITRATE", "250000")
	t.Setenv("LEVCAN_HTTP", ":8090")
	cfg, err = LoadBus()
	require.Nil(t, err)
	assert.Equal(t, "virtual", cfg.Interface)
	assert.Equal(t, 250000, cfg.Bitrate)
	assert.Equal(t, ":8090", cfg.HTTP)

	t.Setenv("LEVCAN_BITRATE", "fast")
	_, err = LoadBus()
	assert.NotNil(t, err)
}

func TestLoadNode(t *testing.T) {
	cfg, err := LoadNode([]byte(nodeFile))
	require.Nil(t, err)
	assert.EqualValues(t, 10, cfg.Name.NodeID)
	assert.False(t, cfg.Name.DynamicID)
	assert.True(t, cfg.Name.Events)
	assert.True(t, cfg.Name.Variables)
	assert.EqualValues(t, 3, cfg.Name.DeviceType)
	assert.EqualValues(t, 12, cfg.Name.ManufacturerCode)
	assert.EqualValues(t, 4242, cfg.Name.SerialNumber)
	assert.EqualValues(t, 4242, cfg.SerialNumber)
	assert.Equal(t, "controller", cfg.NodeName)
	assert.Equal(t, "acme", cfg.VendorName)
	assert.Equal(t, 800, cfg.TimeoutMs)
	assert.True(t, cfg.StaticPool)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 64, cfg.BufferSize)

	require.NotNil(t, cfg.Objects)
	entry, err := cfg.Objects.FindRecord(0x120, 4, od.Write, 20)
	require.Nil(t, err)
	assert.True(t, entry.Reliable)

	cfg, err = LoadNode(strings.NewReader(nodeFile))
	require.Nil(t, err)
	assert.EqualValues(t, 10, cfg.Name.NodeID)
	assert.Len(t, cfg.Objects.Entries(), 1)
}

func TestLoadNodeDefaults(t *testing.T) {
	cfg, err := LoadNode([]byte("[node]\nSerialNumber = 1\n"))
	require.Nil(t, err)
	assert.EqualValues(t, levcan.DynamicIDMin, cfg.Name.NodeID)
	assert.True(t, cfg.Name.DynamicID)
	assert.Equal(t, "levcan", cfg.NodeName)
	assert.Equal(t, 0, cfg.TimeoutMs)
	assert.False(t, cfg.StaticPool)
	assert.Empty(t, cfg.Objects.Entries())
}

func TestLoadNodeErrors(t *testing.T) {
	for _, file := range []string{
		"[node]\nNodeID = 126\n",
		"[node]\nDeviceType = 2000\n",
		"[node]\nSerialNumber = 5000000\n",
		"[transport]\nTimeoutMs = -1\n",
		"[transport]\nPoolSize = many\n",
		"[bad]\nMessageID = 0x120\nType = blob\n",
	} {
		_, err := LoadNode([]byte(file))
		assert.NotNil(t, err, file)
	}
}
