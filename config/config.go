// Package config holds the struct-tag-driven configuration for the
// automap core and the payment adjuster, parsed with
// github.com/jessevdk/go-flags the way lnd.go assembles its own Config
// struct from grouped, tagged fields.
package config

import (
	"time"

	flags "github.com/jessevdk/go-flags"
)

// MappingConfig carries the operator-tunable defaults handed to a
// Transactor's first AddMapping call.
type MappingConfig struct {
	HolePort     uint16        `long:"hole-port" description:"LAN-side and external port to map" default:"0"`
	NextLifetime time.Duration `long:"next-lifetime" description:"requested lifetime for the next (re)mapping" default:"600s"`
}

// HousekeeperConfig carries the housekeeping loop's tunables.
type HousekeeperConfig struct {
	RemapIntervalMs     uint32 `long:"remap-interval-ms" description:"override for the housekeeping remap interval, in milliseconds; 0 leaves the half-lifetime default in place"`
	AnnouncementTimeout time.Duration `long:"announcement-timeout" description:"bounded wait for an inbound router announcement" default:"1s"`
}

// AdjusterConfig carries the payment adjuster's tunables.
type AdjusterConfig struct {
	EstimatedGasLimitPerTransaction uint64 `long:"estimated-gas-limit" description:"estimated gas units consumed per payable transaction"`
	DesiredGasPriceGwei             uint64 `long:"desired-gas-price-gwei" description:"desired gas price, in gwei, used to derive the per-transaction fee"`
}

// Config bundles the three sub-configs the way lnd.go groups chain,
// wallet, and RPC sub-configs onto one top-level flags target.
type Config struct {
	Mapping     MappingConfig     `group:"mapping" namespace:"mapping"`
	Housekeeper HousekeeperConfig `group:"housekeeper" namespace:"housekeeper"`
	Adjuster    AdjusterConfig    `group:"adjuster" namespace:"adjuster"`

	DebugLevel string `short:"d" long:"debuglevel" description:"logging level for all subsystems {trace, debug, info, warn, error, critical}" default:"info"`
	LogDir     string `long:"logdir" description:"directory to write the rotating log file within" default:"."`
}

// Default returns a Config populated with the same defaults go-flags
// would apply from the struct tags above, for callers that construct one
// programmatically instead of parsing argv (e.g. tests, embedding hosts).
func Default() *Config {
	return &Config{
		Mapping: MappingConfig{
			NextLifetime: 600 * time.Second,
		},
		Housekeeper: HousekeeperConfig{
			AnnouncementTimeout: time.Second,
		},
		DebugLevel: "info",
		LogDir:     ".",
	}
}

// Parse parses argv into a Config seeded with Default's values.
func Parse(argv []string) (*Config, error) {
	cfg := Default()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	return cfg, nil
}
