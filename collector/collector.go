// Package collector reads one network interface's addresses, flags and
// traffic counters into a NodeMetrics record.
package collector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/procfs"
	netmon_pb "github.com/xiaonanln/netmon/proto"
)

// Collector samples a single interface on the local host.
type Collector struct {
	nodeID string
	iface  string
	fs     procfs.FS
	now    func() time.Time
	lookup func(name string) (*net.Interface, error)
	addrs  func(ifi *net.Interface) ([]net.Addr, error)
}

// New returns a collector reading counters from /proc.
func New(nodeID, iface string) (*Collector, error) {
	return NewWithProc(nodeID, iface, procfs.DefaultMountPoint)
}

// NewWithProc reads counters from the procfs mounted at procPath.
func NewWithProc(nodeID, iface, procPath string) (*Collector, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id cannot be empty")
	}
	if iface == "" {
		return nil, fmt.Errorf("interface name cannot be empty")
	}
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &Collector{
		nodeID: nodeID,
		iface:  iface,
		fs:     fs,
		now:    time.Now,
		lookup: net.InterfaceByName,
		addrs:  (*net.Interface).Addrs,
	}, nil
}

func (c *Collector) NodeID() string {
	return c.nodeID
}

func (c *Collector) Interface() string {
	return c.iface
}

// Collect samples the interface. It fails when the interface does not exist;
// missing counters are reported as zero.
func (c *Collector) Collect(ctx context.Context) (*netmon_pb.NodeMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ifi, err := c.lookup(c.iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", c.iface, err)
	}

	m := &netmon_pb.NodeMetrics{
		NodeId:        c.nodeID,
		InterfaceName: ifi.Name,
		Timestamp:     c.now().Unix(),
		Mtu:           uint32(ifi.MTU),
		Mac:           ifi.HardwareAddr.String(),
		Flags:         flagNames(ifi.Flags),
	}

	addrs, err := c.addrs(ifi)
	if err != nil {
		return nil, fmt.Errorf("addresses of %s: %w", c.iface, err)
	}
	fillAddresses(m, addrs, ifi.Flags&net.FlagBroadcast != 0)

	netDev, err := c.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("failed to read interface counters: %w", err)
	}
	fillCounters(m, netDev)

	return m, nil
}

var flagOrder = []struct {
	flag net.Flags
	name string
}{
	{net.FlagUp, "UP"},
	{net.FlagBroadcast, "BROADCAST"},
	{net.FlagLoopback, "LOOPBACK"},
	{net.FlagPointToPoint, "POINTOPOINT"},
	{net.FlagRunning, "RUNNING"},
	{net.FlagMulticast, "MULTICAST"},
}

func flagNames(flags net.Flags) []string {
	var names []string
	for _, f := range flagOrder {
		if flags&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// fillAddresses keeps the first IPv4 address with its netmask and every IPv6
// address in interface order.
func fillAddresses(m *netmon_pb.NodeMetrics, addrs []net.Addr, broadcast bool) {
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			if m.Ipv4 != "" {
				continue
			}
			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			m.Ipv4 = ip4.String()
			m.Netmask = net.IP(mask).String()
			if broadcast && len(mask) == net.IPv4len {
				bcast := make(net.IP, net.IPv4len)
				for i := range bcast {
					bcast[i] = ip4[i] | ^mask[i]
				}
				m.Broadcast = bcast.String()
			}
			continue
		}
		m.Ipv6 = append(m.Ipv6, ipnet.IP.String())
	}
}

func fillCounters(m *netmon_pb.NodeMetrics, netDev procfs.NetDev) {
	line, ok := netDev[m.InterfaceName]
	if !ok {
		return
	}
	m.RxPackets = line.RxPackets
	m.RxBytes = line.RxBytes
	m.RxErrors = uint32(line.RxErrors)
	m.TxPackets = line.TxPackets
	m.TxBytes = line.TxBytes
	m.TxErrors = uint32(line.TxErrors)
}

// DefaultInterface returns the first interface that is up and not a loopback.
func DefaultInterface() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagLoopback == 0 {
			return ifi.Name, nil
		}
	}
	return "", fmt.Errorf("no active non-loopback interface found")
}
