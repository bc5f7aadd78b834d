package platform

import (
	"context"
	"net"
	"strings"

	"github.com/corvuspay/bioguard/internal/domain"
)

// NetworkInfo implements domain.NetworkInfoProvider from the host's network
// interfaces. Interface naming is the only portable signal available without
// a platform bridge: wwan/rmnet interfaces indicate cellular, anything else
// that is up and non-loopback counts as wifi/ethernet.
type NetworkInfo struct{}

// NewNetworkInfo creates a provider.
func NewNetworkInfo() *NetworkInfo {
	return &NetworkInfo{}
}

// ConnectionType reports the current connectivity class.
func (n *NetworkInfo) ConnectionType(_ context.Context) (domain.ConnectionType, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return domain.ConnectionNone, err
	}

	connected := domain.ConnectionNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		if strings.HasPrefix(name, "wwan") || strings.HasPrefix(name, "rmnet") || strings.HasPrefix(name, "pdp_ip") {
			return domain.ConnectionCellular, nil
		}
		connected = domain.ConnectionWifi
	}

	return connected, nil
}
