// Package config loads the YAML configuration for one RTPS participant:
// its identity, the locators it binds, and the tunables of its discovery
// and history-cache subsystems.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/rtpsgo/rtps/internal/endpoint"
	"github.com/rtpsgo/rtps/internal/transport"
)

// Config is the top-level participant configuration.
type Config struct {
	// Participant configures identity and discovery.
	Participant ParticipantConfig `yaml:"participant"`
	// History bounds the default HistoryCache applied to endpoints that
	// do not override it.
	History HistoryConfig `yaml:"history"`
}

// ParticipantConfig configures a RTPSParticipant.
type ParticipantConfig struct {
	// GuidPrefix is this participant's identity, as 24 hex characters.
	// Empty means "generate one" (left to the caller, since a config
	// file loader has no source of randomness to invent an identity).
	GuidPrefix string `yaml:"guid_prefix"`
	// DomainId is the participant's DDS domain. It is loaded but not used
	// to derive locator ports: every locator comes from the explicit
	// "host:port" strings below.
	DomainId int `yaml:"domain_id"`
	// DefaultLocators seed endpoints created with no explicit locator
	// list, as "host:port" strings.
	DefaultLocators []string `yaml:"default_locators"`
	// MetatrafficLocators is where built-in discovery endpoints listen.
	MetatrafficLocators []string `yaml:"metatraffic_locators"`
	// MulticastLocator is where SPDP announces and listens, as a
	// "host:port" string (default 239.255.0.1:7400).
	MulticastLocator string `yaml:"multicast_locator"`
	// AnnouncementPeriod controls how often PDP re-announces this
	// participant.
	AnnouncementPeriod time.Duration `yaml:"announcement_period"`
	// LeaseDuration is how long a remote participant is trusted to be
	// alive without a fresh announcement.
	LeaseDuration time.Duration `yaml:"lease_duration"`
	// ListenReopenMax caps a listen resource's rebind backoff.
	ListenReopenMax time.Duration `yaml:"listen_reopen_max"`
	// StaticEDP disables wire-learned endpoint discovery in favor of
	// configuration-declared user_defined_id pairing.
	StaticEDP bool `yaml:"static_edp"`
	// SocketBufferSize is a UDP send/receive buffer size. It is loaded but
	// not applied: the transport sockets keep the operating system's
	// default buffer sizes.
	SocketBufferSize datasize.ByteSize `yaml:"socket_buffer_size"`
	// SendPeriod controls how often a reliable writer's event thread
	// checks for UNSENT/REQUESTED changes to transmit.
	SendPeriod time.Duration `yaml:"send_period"`
	// HeartbeatPeriod controls how often a reliable writer with
	// unacknowledged changes re-announces its HEARTBEAT.
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	// NackResponseDelay is the period at which a reader's event thread
	// calls AckNackTick; it is not timed from HEARTBEAT arrival.
	NackResponseDelay time.Duration `yaml:"nack_response_delay"`
	// MTU bounds the payload size a writer will carry in a single DATA
	// submessage before switching to DATAFRAG fragmentation.
	MTU int `yaml:"mtu"`
}

// HistoryConfig is the YAML-friendly mirror of cache.Config.
type HistoryConfig struct {
	Depth                 int               `yaml:"depth"`
	MaxSamples            int               `yaml:"max_samples"`
	MaxSamplesPerInstance int               `yaml:"max_samples_per_instance"`
	PayloadBudget         datasize.ByteSize `yaml:"payload_budget"`
}

// DefaultConfig returns the default configuration: domain 0, the default
// SPDP multicast locator, a one second announcement period and a twenty
// second lease, mirroring typical DDS defaults.
func DefaultConfig() *Config {
	return &Config{
		Participant: ParticipantConfig{
			DomainId:           0,
			MulticastLocator:   "239.255.0.1:7400",
			AnnouncementPeriod: time.Second,
			LeaseDuration:      20 * time.Second,
			ListenReopenMax:    30 * time.Second,
			SocketBufferSize:   1 << 20,
			SendPeriod:         100 * time.Millisecond,
			HeartbeatPeriod:    time.Second,
			NackResponseDelay:  200 * time.Millisecond,
			MTU:                endpoint.DefaultMTU,
		},
		History: HistoryConfig{Depth: 1},
	}
}

// LoadConfig loads configuration from a YAML file at path, starting from
// DefaultConfig and unmarshaling over it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveLocators parses a list of "host:port" strings into Locators.
func ResolveLocators(addrs []string) ([]transport.Locator, error) {
	locators := make([]transport.Locator, 0, len(addrs))
	for _, addr := range addrs {
		loc, err := transport.ParseLocator(addr)
		if err != nil {
			return nil, err
		}
		locators = append(locators, loc)
	}
	return locators, nil
}
