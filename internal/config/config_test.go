package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
)

const seed = "000102030405060708090a0b0c0d0e0f"

func valid() config.Config {
	return config.Config{
		Path:       device.DefaultPath,
		Format:     "line",
		Encryption: "Onboard",
		KDF:        "hkdf",
		ChunkSize:  1024,
		Suffix:     ".enc",
		Device:     "soft",
		Seed:       seed,
		LogLevel:   "info",
		LogFormat:  "text",
		Files:      []string{"."},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*config.Config)
		want   string
	}{
		{name: "defaults"},
		{name: "bridge without seed", modify: func(c *config.Config) { c.Device = "bridge"; c.Seed = "" }},
		{name: "structured extended", modify: func(c *config.Config) { c.Format = "structured"; c.Encryption = "Extended" }},
		{
			name:   "seed and seed file",
			modify: func(c *config.Config) { c.SeedFile = "seed.txt" },
			want:   "--seed is mutually exclusive with --seed-file",
		},
		{name: "bad path", modify: func(c *config.Config) { c.Path = "m/x" }, want: "--path \"m/x\" is not a derivation path"},
		{name: "bad action", modify: func(c *config.Config) { c.Action = "redact" }, want: "--action must be one of"},
		{name: "tiny chunks", modify: func(c *config.Config) { c.ChunkSize = 8 }, want: "--chunk-size must be at least 16"},
		{name: "no files", modify: func(c *config.Config) { c.Files = nil }, want: "arguments must be at least 1"},
		{name: "suffix without dot", modify: func(c *config.Config) { c.Suffix = "enc" }, want: "--suffix"},
		{name: "soft without seed", modify: func(c *config.Config) { c.Seed = "" }, want: "needs --seed or --seed-file"},
		{
			name:   "line with local scheme",
			modify: func(c *config.Config) { c.Encryption = "Deterministic" },
			want:   "requires --format structured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			if tt.modify != nil {
				tt.modify(&cfg)
			}

			err := cfg.Validate()
			if tt.want == "" {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, config.ErrUsage)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDeviceOptions(t *testing.T) {
	t.Parallel()

	cfg := valid()

	opts, err := cfg.DeviceOptions()
	require.NoError(t, err)
	assert.Equal(t, device.KindSoft, opts.Kind)
	assert.Len(t, opts.Seed, 16)

	file := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(file, []byte(strings.ToUpper(seed)+"\n"), 0o600))

	cfg.Seed = ""
	cfg.SeedFile = file

	fromFile, err := cfg.DeviceOptions()
	require.NoError(t, err)
	assert.Equal(t, opts.Seed, fromFile.Seed)

	cfg.SeedFile = ""
	cfg.Seed = "zz"

	_, err = cfg.DeviceOptions()
	require.ErrorIs(t, err, config.ErrUsage)
}

func TestJournalPath(t *testing.T) {
	t.Parallel()

	cfg := valid()
	assert.Equal(t, filepath.Join("root", ".vaultseal", "journal.db"), cfg.JournalPath("root"))

	cfg.Journal = "-"
	assert.Empty(t, cfg.JournalPath("root"))

	cfg.Journal = "/tmp/j.db"
	assert.Equal(t, "/tmp/j.db", cfg.JournalPath("root"))
}

func TestProcessorOptions(t *testing.T) {
	t.Parallel()

	cfg := valid()
	cfg.Format = "structured"
	cfg.Encryption = "Deterministic"
	cfg.PreserveTimestamps = true

	opts := cfg.ProcessorOptions()
	assert.Equal(t, encryption.FormatStructured, opts.Format)
	assert.Equal(t, encryption.SchemeDeterministic, opts.Scheme)
	assert.Equal(t, "m/10011'/0'", opts.Path.String())
	assert.True(t, opts.PreserveTimestamps)
}
