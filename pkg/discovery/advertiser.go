package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	// ServiceType is the mDNS service type the relay registers.
	ServiceType = "_simbridge._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// txtVersionKey carries the relay version in the TXT record.
	txtVersionKey = "ver"
)

// Advertiser registers the relay as an mDNS service.
type Advertiser struct {
	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	mu     sync.Mutex
	server *zeroconf.Server
}

// Advertise starts announcing the relay under the given instance name
// and port. A prior announcement for this advertiser is replaced.
func (a *Advertiser) Advertise(instance string, port int, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{txtVersionKey + "=" + version}

	var ifaces []net.Interface
	if a.Interface != "" {
		iface, err := net.InterfaceByName(a.Interface)
		if err != nil {
			return fmt.Errorf("failed to resolve interface %q: %w", a.Interface, err)
		}
		ifaces = []net.Interface{*iface}
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, ifaces)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the announcement. Safe to call without a prior
// Advertise.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
