package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"

	"peershare/internal/common"
)

// ErrNoTracker is returned when browsing ends without finding a tracker.
var ErrNoTracker = errors.New("no tracker found")

// PublishService advertises the tracker's registry port on the local network.
func PublishService(port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(common.ServiceInstance, common.ServiceName, common.ServiceDomain, port, []string{"txtv=1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not register service: %w", err)
	}
	return server, nil
}

// DiscoverTracker browses for a tracker until one answers or ctx is done and
// returns its registry address as host:port.
func DiscoverTracker(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return "", fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, common.ServiceName, common.ServiceDomain, entries); err != nil {
		return "", fmt.Errorf("failed to browse: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("tracker discovery: %w", ErrNoTracker)
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("tracker discovery: %w", ErrNoTracker)
			}
			if addr, ok := trackerAddr(entry); ok {
				return addr, nil
			}
		}
	}
}

func trackerAddr(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}
