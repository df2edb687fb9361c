package transport

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// SynthesizeDefaultUnicastLocators enumerates this host's non-loopback
// unicast addresses at the given port, for a participant configured with
// no explicit unicast or multicast locators of its own.
func SynthesizeDefaultUnicastLocators(port uint32) ([]Locator, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("transport: list links: %w", err)
	}

	var locators []Locator
	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := addr.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			var loc Locator
			if ip4 := ip.To4(); ip4 != nil {
				loc.Kind = LocatorUDPv4
				copy(loc.Address[12:], ip4)
			} else {
				loc.Kind = LocatorUDPv6
				copy(loc.Address[:], ip.To16())
			}
			loc.Port = port
			locators = append(locators, loc)
		}
	}
	return locators, nil
}
