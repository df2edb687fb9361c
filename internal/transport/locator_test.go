package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LocatorFromUDPAddrAndBackIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 7411}
	loc := LocatorFromUDPAddr(addr)
	assert.Equal(t, LocatorUDPv4, loc.Kind)

	got, err := loc.UDPAddr()
	require.NoError(t, err)
	assert.True(t, got.IP.Equal(addr.IP))
	assert.Equal(t, addr.Port, got.Port)
}

func Test_LocatorFromUDPAddrAndBackIPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	addr := &net.UDPAddr{IP: ip, Port: 7412}
	loc := LocatorFromUDPAddr(addr)
	assert.Equal(t, LocatorUDPv6, loc.Kind)

	got, err := loc.UDPAddr()
	require.NoError(t, err)
	assert.True(t, got.IP.Equal(ip))
}

func Test_WellKnownPortDefaults(t *testing.T) {
	port := WellKnownPort(PortParams{}, 0, 0, OffsetMetatrafficMulticast)
	assert.Equal(t, DefaultPortBase, port)

	port = WellKnownPort(PortParams{}, 1, 2, OffsetUserUnicast)
	assert.Equal(t, DefaultPortBase+DefaultDomainIdGain*1+OffsetUserUnicast+DefaultParticipantIdGain*2, port)
}

func Test_InvalidLocatorUDPAddrErrors(t *testing.T) {
	var l Locator
	_, err := l.UDPAddr()
	assert.Error(t, err)
}

func Test_ParseLocatorResolvesHostPort(t *testing.T) {
	loc, err := ParseLocator("127.0.0.1:7413")
	require.NoError(t, err)
	assert.Equal(t, LocatorUDPv4, loc.Kind)
	assert.EqualValues(t, 7413, loc.Port)
}

func Test_ParseLocatorRejectsGarbage(t *testing.T) {
	_, err := ParseLocator("not a locator")
	assert.Error(t, err)
}
