// Package config defines tempusd's recognized configuration options
// (spec.md §6) and loads them from defaults, a config file, and
// environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tempusnet/tempus/internal/peerlink"
	"github.com/tempusnet/tempus/internal/temporal"
)

// Config holds every recognized option of spec.md §6's configuration
// object.
type Config struct {
	DataDir    string   `mapstructure:"data_dir"`
	ListenAddr string   `mapstructure:"listen_addr"`

	FinalityIntervalSeconds int `mapstructure:"finality_interval_seconds"`
	ClockToleranceSeconds   int `mapstructure:"clock_tolerance_seconds"`
	VDFIterations           uint64 `mapstructure:"vdf_iterations"`
	VDFCheckpointInterval   uint64 `mapstructure:"vdf_checkpoint_interval"`
	VDFSampleQ              int    `mapstructure:"vdf_sample_q"`
	MaxParents              int    `mapstructure:"max_parents"`
	PhantomK                int    `mapstructure:"phantom_k"`

	MempoolBytesMax int `mapstructure:"mempool_bytes_max"`
	BlockBytesMax   int `mapstructure:"block_bytes_max"`

	PerPeerRecvBPS   int     `mapstructure:"per_peer_recv_bps"`
	PerPeerSendBPS   int     `mapstructure:"per_peer_send_bps"`
	MinOutboundPeers int     `mapstructure:"min_outbound_peers"`
	InboundRatioMax  float64 `mapstructure:"inbound_ratio_max"`
	MaxPerIP         int     `mapstructure:"max_per_ip"`
	MaxPerSubnet     int     `mapstructure:"max_per_subnet"`
	ProtectedSlots   int     `mapstructure:"protected_slots"`

	OrphanCapacity int `mapstructure:"orphan_capacity"`

	// ParticipantTier is this node's heartbeat-aggregation tier
	// (spec.md §4.4), as a consensus.Tier value: 0 (Tier1) for a
	// VDF-running, lottery-eligible node, 1 (Tier2) or 2 (Tier3) for
	// lighter-weight participation. Only Tier 1 participants
	// compete in the leader lottery (internal/consensus's resolution
	// of the tier/lottery Open Question).
	ParticipantTier byte `mapstructure:"participant_tier"`

	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:    "./tempus-data",
		ListenAddr: "0.0.0.0:9651",

		FinalityIntervalSeconds: int(temporal.DefaultFinalityInterval / time.Second),
		ClockToleranceSeconds:   int(temporal.DefaultClockTolerance / time.Second),
		VDFIterations:           1 << 24,
		VDFCheckpointInterval:   1 << 12,
		VDFSampleQ:              20,
		MaxParents:              8,
		PhantomK:                8,

		MempoolBytesMax: 256 << 20,
		BlockBytesMax:   4 << 20,

		PerPeerRecvBPS:   peerlink.DefaultRecvBytesPerSec,
		PerPeerSendBPS:   peerlink.DefaultSendBytesPerSec,
		MinOutboundPeers: 8,
		InboundRatioMax:  0.7,
		MaxPerIP:         peerlink.DefaultMaxPerIP,
		MaxPerSubnet:     peerlink.DefaultMaxPerSubnet,
		ProtectedSlots:   4,

		OrphanCapacity: 4096,

		ParticipantTier: 0, // consensus.Tier1
		BootstrapPeers:  nil,
	}
}

// FinalityInterval and ClockTolerance convert the config's plain-int
// seconds fields into time.Duration, for passing to
// temporal.NewBoundaryClock.
func (c Config) FinalityInterval() time.Duration {
	return time.Duration(c.FinalityIntervalSeconds) * time.Second
}

func (c Config) ClockTolerance() time.Duration {
	return time.Duration(c.ClockToleranceSeconds) * time.Second
}

// Validate rejects a config whose values would violate an invariant
// of the components it feeds (spec.md §3's 1-8 parent bound, a
// positive finality interval, and so on).
func (c Config) Validate() error {
	if c.FinalityIntervalSeconds <= 0 {
		return fmt.Errorf("config: finality_interval_seconds must be positive")
	}
	if c.MaxParents < 1 || c.MaxParents > 8 {
		return fmt.Errorf("config: max_parents must be between 1 and 8")
	}
	if c.PhantomK < 1 {
		return fmt.Errorf("config: phantom_k must be positive")
	}
	if c.VDFIterations == 0 {
		return fmt.Errorf("config: vdf_iterations must be positive")
	}
	if c.InboundRatioMax <= 0 || c.InboundRatioMax > 1 {
		return fmt.Errorf("config: inbound_ratio_max must be in (0,1]")
	}
	return nil
}

// Load reads configuration from (in ascending precedence) the
// compiled-in defaults, a config file at path (if non-empty and
// present), and TEMPUS_-prefixed environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	applyDefaults(v, DefaultConfig())

	v.SetEnvPrefix("tempus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, cfg.Validate()
}

func applyDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("bootstrap_peers", d.BootstrapPeers)
	v.SetDefault("participant_tier", d.ParticipantTier)
	v.SetDefault("finality_interval_seconds", d.FinalityIntervalSeconds)
	v.SetDefault("clock_tolerance_seconds", d.ClockToleranceSeconds)
	v.SetDefault("vdf_iterations", d.VDFIterations)
	v.SetDefault("vdf_checkpoint_interval", d.VDFCheckpointInterval)
	v.SetDefault("vdf_sample_q", d.VDFSampleQ)
	v.SetDefault("max_parents", d.MaxParents)
	v.SetDefault("phantom_k", d.PhantomK)
	v.SetDefault("mempool_bytes_max", d.MempoolBytesMax)
	v.SetDefault("block_bytes_max", d.BlockBytesMax)
	v.SetDefault("per_peer_recv_bps", d.PerPeerRecvBPS)
	v.SetDefault("per_peer_send_bps", d.PerPeerSendBPS)
	v.SetDefault("min_outbound_peers", d.MinOutboundPeers)
	v.SetDefault("inbound_ratio_max", d.InboundRatioMax)
	v.SetDefault("max_per_ip", d.MaxPerIP)
	v.SetDefault("max_per_subnet", d.MaxPerSubnet)
	v.SetDefault("protected_slots", d.ProtectedSlots)
	v.SetDefault("orphan_capacity", d.OrphanCapacity)
}
