package discovery

import (
	"context"
	"strings"

	"github.com/enbility/zeroconf/v3"
)

// Relay describes one discovered relay instance.
type Relay struct {
	// Instance is the advertised instance name.
	Instance string

	// Host is the mDNS host name.
	Host string

	// Port is the HTTP port.
	Port int

	// Addresses are the IPv4 and IPv6 addresses seen for the instance.
	Addresses []string

	// Version is the advertised relay version, if present.
	Version string
}

// Browse searches the local network for relays until ctx is done and
// returns everything found. Instances seen on multiple interfaces are
// merged by name.
func Browse(ctx context.Context) ([]Relay, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	found := make(map[string]*Relay)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				r := entryToRelay(entry)
				if existing, seen := found[r.Instance]; seen {
					existing.Addresses = mergeAddresses(existing.Addresses, r.Addresses)
				} else {
					found[r.Instance] = r
				}
			case <-removed:
				// Short browse window; removals are not tracked.
			case <-ctx.Done():
				return
			}
		}
	}()

	err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	<-done
	if err != nil {
		return nil, err
	}

	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, *r)
	}
	return relays, nil
}

// entryToRelay converts a zeroconf entry into a Relay.
func entryToRelay(entry *zeroconf.ServiceEntry) *Relay {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	r := &Relay{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
	}
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, txtVersionKey+"="); ok {
			r.Version = v
		}
	}
	return r
}

// mergeAddresses appends the addresses from b not already in a.
func mergeAddresses(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, addr := range a {
		seen[addr] = true
	}
	for _, addr := range b {
		if !seen[addr] {
			a = append(a, addr)
			seen[addr] = true
		}
	}
	return a
}
