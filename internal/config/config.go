// Package config holds the resolved settings of one invocation.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
	"github.com/idelchi/vaultseal/internal/journal"
)

// ErrUsage is returned for invalid combinations of settings.
var ErrUsage = errors.New("usage error")

// Config is populated from flags, environment and an optional config file.
type Config struct {
	// Action selects the direction in walker mode
	Action string `label:"--action" validate:"omitempty,oneof=encrypt decrypt"`

	// Path is the BIP-32 derivation path of the key
	Path string `label:"--path" validate:"required,bip32"`

	// Format, Encryption, KDF and ChunkSize shape the ciphertext
	Format     string `label:"--format"     validate:"oneof=line structured"`
	Encryption string `label:"--encryption" validate:"oneof=Onboard Extended Deterministic"`
	KDF        string `label:"--kdf"        validate:"oneof=legacy hkdf"`
	ChunkSize  int    `label:"--chunk-size" validate:"min=16,max=1048576"  mapstructure:"chunk-size"`

	// Walker settings
	Suffix      string   `label:"--suffix"       validate:"required,startswith=."`
	Exclude     []string `label:"--exclude"`
	ExcludeFrom string   `label:"--exclude-from" mapstructure:"exclude-from"`
	SkipDir     []string `label:"--skip-dir"     mapstructure:"skip-dir"`

	// Journal location; empty means inside the traversal root, "-" disables it
	Journal string `label:"--journal"`

	PreserveTimestamps bool `mapstructure:"preserve-timestamps"`
	Dry                bool
	Stats              bool
	Quiet              bool

	// Device settings
	Device    string `label:"--device"     validate:"oneof=soft bridge"`
	Seed      string `label:"--seed"       validate:"omitempty,hexadecimal,exclusive=SeedFile"`
	SeedFile  string `label:"--seed-file"  mapstructure:"seed-file"`
	BridgeURL string `label:"--bridge-url" validate:"omitempty,url" mapstructure:"bridge-url"`

	// Logging
	LogLevel  string `label:"--log-level"  validate:"oneof=debug info warn error" mapstructure:"log-level"`
	LogFormat string `label:"--log-format" validate:"oneof=text json"             mapstructure:"log-format"`

	// Single-file settings
	Key    string `label:"--key"`
	Output string `label:"--output"`

	// Positional arguments
	Files []string `label:"arguments" validate:"min=1"`

	// Decrypt is set by the invoked command
	Decrypt bool `mapstructure:"-"`
}

// Validate checks the configuration against its tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate(c); err != nil {
		return err
	}

	if c.Device == string(device.KindSoft) && c.Seed == "" && c.SeedFile == "" {
		return fmt.Errorf("%w: the soft device needs --seed or --seed-file", ErrUsage)
	}

	if c.Format == string(encryption.FormatLine) && c.Encryption != string(encryption.SchemeOnboard) {
		return fmt.Errorf("%w: --encryption %s requires --format structured", ErrUsage, c.Encryption)
	}

	return nil
}

// DerivationPath returns the parsed derivation path.
func (c *Config) DerivationPath() device.Path {
	return device.MustParsePath(c.Path)
}

// DeviceOptions resolves the seed and returns the options to open the oracle with.
func (c *Config) DeviceOptions() (device.Options, error) {
	opts := device.Options{Kind: device.Kind(c.Device), BridgeURL: c.BridgeURL}

	if opts.Kind != device.KindSoft {
		return opts, nil
	}

	text := c.Seed

	if c.SeedFile != "" {
		data, err := os.ReadFile(c.SeedFile)
		if err != nil {
			return opts, fmt.Errorf("reading seed file: %w", err)
		}

		text = strings.TrimSpace(string(data))
	}

	seed, err := hex.DecodeString(text)
	if err != nil {
		return opts, fmt.Errorf("%w: seed is not hex encoded: %w", ErrUsage, err)
	}

	opts.Seed = seed

	return opts, nil
}

// JournalPath returns where the journal for root lives, or "" when disabled.
func (c *Config) JournalPath(root string) string {
	switch c.Journal {
	case "-":
		return ""
	case "":
		return filepath.Join(root, journal.DefaultDir, journal.DefaultName)
	default:
		return c.Journal
	}
}

// ProcessorOptions maps the ciphertext settings onto processor options.
func (c *Config) ProcessorOptions() encryption.Options {
	return encryption.Options{
		Path:               c.DerivationPath(),
		Format:             encryption.Format(c.Format),
		Scheme:             encryption.Scheme(c.Encryption),
		KDF:                encryption.KDF(c.KDF),
		ChunkSize:          c.ChunkSize,
		PreserveTimestamps: c.PreserveTimestamps,
	}
}
