package collector

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	netmon_pb "github.com/xiaonanln/netmon/proto"
)

const netDevContent = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:    1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0: 2000000   20000    3    0    0     0          0         0  3000000   30000    4    0    0     0       0          0
`

func writeProc(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net", "dev"), []byte(netDevContent), 0o644))
	return dir
}

func TestFlagNames(t *testing.T) {
	tests := []struct {
		flags net.Flags
		want  []string
	}{
		{0, nil},
		{net.FlagUp | net.FlagBroadcast | net.FlagRunning | net.FlagMulticast, []string{"UP", "BROADCAST", "RUNNING", "MULTICAST"}},
		{net.FlagUp | net.FlagLoopback | net.FlagRunning, []string{"UP", "LOOPBACK", "RUNNING"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flagNames(tt.flags), "flags %v", tt.flags)
	}
}

func TestFillAddresses(t *testing.T) {
	_, v4, err := net.ParseCIDR("192.168.1.23/24")
	require.NoError(t, err)
	v4.IP = net.ParseIP("192.168.1.23")
	second := &net.IPNet{IP: net.ParseIP("10.0.0.1"), Mask: net.CIDRMask(8, 32)}
	v6a := &net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}
	v6b := &net.IPNet{IP: net.ParseIP("2001:db8::2"), Mask: net.CIDRMask(64, 128)}

	m := &netmon_pb.NodeMetrics{}
	fillAddresses(m, []net.Addr{v6a, v4, second, v6b}, true)

	assert.Equal(t, "192.168.1.23", m.Ipv4)
	assert.Equal(t, "255.255.255.0", m.Netmask)
	assert.Equal(t, "192.168.1.255", m.Broadcast)
	assert.Equal(t, []string{"fe80::1", "2001:db8::2"}, m.Ipv6)
}

func TestFillAddresses_NoBroadcast(t *testing.T) {
	m := &netmon_pb.NodeMetrics{}
	fillAddresses(m, []net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}}, false)
	assert.Equal(t, "127.0.0.1", m.Ipv4)
	assert.Equal(t, "255.0.0.0", m.Netmask)
	assert.Empty(t, m.Broadcast)
}

func TestCollect(t *testing.T) {
	c, err := NewWithProc("node-01", "eth0", writeProc(t))
	require.NoError(t, err)

	mac, _ := net.ParseMAC("70:cf:49:b8:48:72")
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	c.lookup = func(name string) (*net.Interface, error) {
		return &net.Interface{
			Index:        2,
			MTU:          1500,
			Name:         name,
			HardwareAddr: mac,
			Flags:        net.FlagUp | net.FlagBroadcast | net.FlagRunning | net.FlagMulticast,
		}, nil
	}
	c.addrs = func(*net.Interface) ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("10.1.2.3"), Mask: net.CIDRMask(16, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::72cf:49ff:feb8:4872"), Mask: net.CIDRMask(64, 128)},
		}, nil
	}

	m, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "node-01", m.NodeId)
	assert.Equal(t, "eth0", m.InterfaceName)
	assert.Equal(t, int64(1700000000), m.Timestamp)
	assert.Equal(t, uint32(1500), m.Mtu)
	assert.Equal(t, "70:cf:49:b8:48:72", m.Mac)
	assert.Equal(t, []string{"UP", "BROADCAST", "RUNNING", "MULTICAST"}, m.Flags)
	assert.Equal(t, "10.1.2.3", m.Ipv4)
	assert.Equal(t, "255.255.0.0", m.Netmask)
	assert.Equal(t, "10.1.255.255", m.Broadcast)
	assert.Equal(t, []string{"fe80::72cf:49ff:feb8:4872"}, m.Ipv6)
	assert.Equal(t, uint64(20000), m.RxPackets)
	assert.Equal(t, uint64(2000000), m.RxBytes)
	assert.Equal(t, uint32(3), m.RxErrors)
	assert.Equal(t, uint64(30000), m.TxPackets)
	assert.Equal(t, uint64(3000000), m.TxBytes)
	assert.Equal(t, uint32(4), m.TxErrors)
}

func TestCollect_UnknownInterface(t *testing.T) {
	c, err := NewWithProc("node-01", "does-not-exist0", writeProc(t))
	require.NoError(t, err)

	_, err = c.Collect(context.Background())
	assert.Error(t, err)
}

func TestCollect_CancelledContext(t *testing.T) {
	c, err := NewWithProc("node-01", "eth0", writeProc(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWithProc_Invalid(t *testing.T) {
	_, err := NewWithProc("", "eth0", t.TempDir())
	assert.Error(t, err)
	_, err = NewWithProc("node-01", "", t.TempDir())
	assert.Error(t, err)
	_, err = NewWithProc("node-01", "eth0", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
