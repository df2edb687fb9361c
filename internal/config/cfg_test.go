package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rtpsgo/rtps/internal/endpoint"
)

func Test_DefaultConfigHasDefaultMulticastLocatorAndDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "239.255.0.1:7400", cfg.Participant.MulticastLocator)
	assert.Equal(t, time.Second, cfg.Participant.AnnouncementPeriod)
	assert.Equal(t, 20*time.Second, cfg.Participant.LeaseDuration)
	assert.Equal(t, 100*time.Millisecond, cfg.Participant.SendPeriod)
	assert.Equal(t, time.Second, cfg.Participant.HeartbeatPeriod)
	assert.Equal(t, 200*time.Millisecond, cfg.Participant.NackResponseDelay)
	assert.Equal(t, endpoint.DefaultMTU, cfg.Participant.MTU)
}

func Test_LoadConfigOverridesReliabilityTunables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participant.yaml")
	body := `
participant:
  heartbeat_period: 500ms
  nack_response_delay: 50ms
  mtu: 512
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Participant.HeartbeatPeriod)
	assert.Equal(t, 50*time.Millisecond, cfg.Participant.NackResponseDelay)
	assert.Equal(t, 512, cfg.Participant.MTU)
}

func Test_LoadConfigStartsFromDefaultsAndOverridesOnlyWhatYAMLSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participant.yaml")
	body := `
participant:
  domain_id: 3
  default_locators:
    - "127.0.0.1:17900"
  metatraffic_locators:
    - "127.0.0.1:17901"
  lease_duration: 5s
history:
  depth: 4
  payload_budget: 1MB
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Participant.DomainId)
	assert.Equal(t, []string{"127.0.0.1:17900"}, cfg.Participant.DefaultLocators)
	assert.Equal(t, 5*time.Second, cfg.Participant.LeaseDuration)
	// untouched by the YAML, so still the default.
	assert.Equal(t, "239.255.0.1:7400", cfg.Participant.MulticastLocator)
	assert.Equal(t, 4, cfg.History.Depth)
	assert.EqualValues(t, 1<<20, cfg.History.PayloadBudget)
}

func Test_LoadConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func Test_ResolveLocatorsParsesEachAddress(t *testing.T) {
	locators, err := ResolveLocators([]string{"127.0.0.1:17910", "127.0.0.1:17911"})
	require.NoError(t, err)
	require.Len(t, locators, 2)
	assert.EqualValues(t, 17910, locators[0].Port)
	assert.EqualValues(t, 17911, locators[1].Port)
}

func Test_ResolveLocatorsRejectsMalformedAddress(t *testing.T) {
	_, err := ResolveLocators([]string{"not-an-address"})
	assert.Error(t, err)
}

func Test_HistoryConfigUnmarshalsByteSizeSuffixes(t *testing.T) {
	var h HistoryConfig
	require.NoError(t, yaml.Unmarshal([]byte("payload_budget: 512KB\n"), &h))
	assert.EqualValues(t, 512*1024, h.PayloadBudget)
}
