package logic_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/journal"
	"github.com/idelchi/vaultseal/internal/logic"
)

const seed = "000102030405060708090a0b0c0d0e0f"

type streams struct {
	out, err bytes.Buffer
}

func testEnv(s *streams) logic.Env {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return logic.Env{Log: log, Out: &s.out, Err: &s.err}
}

func testConfig(root string) *config.Config {
	return &config.Config{
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
		Files:      []string{root},
	}
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestRunRoundTrip(t *testing.T) {
	t.Parallel()

	for _, variant := range []struct{ format, scheme string }{
		{"line", "Onboard"},
		{"structured", "Onboard"},
		{"structured", "Extended"},
		{"structured", "Deterministic"},
	} {
		t.Run(variant.format+"-"+variant.scheme, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			files := map[string]string{
				"a.md":          "alpha",
				"notes/b.md":    string(bytes.Repeat([]byte("bravo "), 400)),
				"README.md":     "readme stays",
				".git/config":   "[core]",
				"empty.md":      "",
				"notes/c.md":    "charlie",
				"deep/er/d.txt": "delta",
			}
			writeFiles(t, root, files)

			cfg := testConfig(root)
			cfg.Format = variant.format
			cfg.Encryption = variant.scheme
			cfg.Stats = true

			var s streams

			require.NoError(t, logic.Run(context.Background(), testEnv(&s), cfg))

			for _, name := range []string{"a.md", "notes/b.md", "notes/c.md", "deep/er/d.txt"} {
				assert.NoFileExists(t, filepath.Join(root, name))
				assert.FileExists(t, filepath.Join(root, name+".enc"))
			}

			assert.FileExists(t, filepath.Join(root, "empty.md"))
			assert.NoFileExists(t, filepath.Join(root, "README.md.enc"))
			assert.NoFileExists(t, filepath.Join(root, ".git", "config.enc"))
			assert.Contains(t, s.out.String(), "Skipped")
			assert.Contains(t, s.err.String(), "Processed: 4")

			cfg.Decrypt = true

			require.NoError(t, logic.Run(context.Background(), testEnv(&s), cfg))

			for name, content := range files {
				assert.Equal(t, content, readFile(t, filepath.Join(root, name)), name)
				assert.NoFileExists(t, filepath.Join(root, name+".enc"))
			}
		})
	}
}

func TestRunDry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "alpha", ".vaultseal-tmp-99": "stale"})

	cfg := testConfig(root)
	cfg.Dry = true
	// The dry run never opens the device.
	cfg.Device = "bridge"
	cfg.BridgeURL = "http://127.0.0.1:1"

	var s streams

	require.NoError(t, logic.Run(context.Background(), testEnv(&s), cfg))

	assert.Contains(t, s.out.String(), "Would process")
	assert.FileExists(t, filepath.Join(root, "a.md"))
	assert.FileExists(t, filepath.Join(root, ".vaultseal-tmp-99"))
	assert.NoDirExists(t, filepath.Join(root, ".vaultseal"))
}

func TestRunRemovesStaleTemps(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "alpha", "sub/.vaultseal-tmp-42": "partial"})

	var s streams

	require.NoError(t, logic.Run(context.Background(), testEnv(&s), testConfig(root)))

	assert.NoFileExists(t, filepath.Join(root, "sub", ".vaultseal-tmp-42"))
	assert.FileExists(t, filepath.Join(root, "a.md.enc"))
}

func TestRunUnavailableDevice(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "alpha"})

	cfg := testConfig(root)
	cfg.Device = "bridge"
	cfg.BridgeURL = "http://127.0.0.1:1"

	var s streams

	err := logic.Run(context.Background(), testEnv(&s), cfg)
	require.ErrorIs(t, err, device.ErrOracleUnavailable)
	assert.FileExists(t, filepath.Join(root, "a.md"))
}

func TestRunReportsFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "alpha", "b.md": "bravo"})

	cfg := testConfig(root)

	var s streams

	require.NoError(t, logic.Run(context.Background(), testEnv(&s), cfg))

	// Corrupt one ciphertext; the other still decrypts.
	corrupt := filepath.Join(root, "a.md.enc")
	data, err := os.ReadFile(corrupt)
	require.NoError(t, err)

	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(corrupt, data, 0o600))

	cfg.Decrypt = true

	err = logic.Run(context.Background(), testEnv(&s), cfg)
	require.ErrorIs(t, err, logic.ErrFilesFailed)

	assert.FileExists(t, corrupt)
	assert.NoFileExists(t, filepath.Join(root, "a.md"))
	assert.Equal(t, "bravo", readFile(t, filepath.Join(root, "b.md")))
	assert.Contains(t, s.err.String(), "Error processing")

	jrn, err := journal.Open(filepath.Join(root, journal.DefaultDir, journal.DefaultName))
	require.NoError(t, err)

	defer jrn.Close()

	entries, err := jrn.Entries("decrypt")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].State)
	assert.Equal(t, corrupt, entries[0].Path)
}

func TestRunVerify(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "alpha", "b.md": "bravo"})

	cfg := testConfig(root)
	cfg.Journal = "-"

	var s streams

	require.NoError(t, logic.Run(context.Background(), testEnv(&s), cfg))
	require.NoError(t, logic.RunVerify(context.Background(), testEnv(&s), cfg))

	assert.Contains(t, s.out.String(), "OK")
	assert.FileExists(t, filepath.Join(root, "a.md.enc"))
	assert.NoFileExists(t, filepath.Join(root, "a.md"))

	corrupt := filepath.Join(root, "b.md.enc")
	data, err := os.ReadFile(corrupt)
	require.NoError(t, err)

	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(corrupt, data, 0o600))

	err = logic.RunVerify(context.Background(), testEnv(&s), cfg)
	require.ErrorIs(t, err, logic.ErrFilesFailed)
	assert.Contains(t, s.err.String(), "FAIL")
}

func TestRunFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "letter.txt")
	writeFiles(t, dir, map[string]string{"letter.txt": "dear reader"})

	cfg := testConfig(input)
	cfg.Encryption = "Extended"

	var s streams

	require.NoError(t, logic.RunFile(context.Background(), testEnv(&s), cfg))
	assert.FileExists(t, input+".enc")
	assert.NoFileExists(t, input)

	// The recorded key name wins, so a renamed file still decrypts.
	renamed := filepath.Join(dir, "renamed.txt.enc")
	require.NoError(t, os.Rename(input+".enc", renamed))

	cfg.Files = []string{renamed}

	require.NoError(t, logic.RunFile(context.Background(), testEnv(&s), cfg))
	assert.Equal(t, "dear reader", readFile(t, filepath.Join(dir, "renamed.txt")))
}

func TestRunCheck(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"notes/a.md": "a", "build/out.log": "b"})

	cfg := testConfig(root)
	cfg.Exclude = []string{"build", "*.log"}

	var s streams

	require.NoError(t, logic.RunCheck(testEnv(&s), cfg))
	assert.Contains(t, s.err.String(), "exclude: build: 2 paths")

	cfg.Exclude = append(cfg.Exclude, "missing")

	err := logic.RunCheck(testEnv(&s), cfg)
	require.ErrorIs(t, err, logic.ErrUnmatchedPatterns)

	cfg.Exclude = nil

	require.Error(t, logic.RunCheck(testEnv(&s), cfg))
}

func TestRunJournal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)

	var s streams

	require.NoError(t, logic.RunJournal(testEnv(&s), cfg))
	assert.Contains(t, s.out.String(), "no journal")

	jrn, err := journal.Open(cfg.JournalPath(root))
	require.NoError(t, err)
	require.NoError(t, jrn.Record("encrypt", "x.md", "writing", ""))
	require.NoError(t, jrn.Record("encrypt", "y.md", "done", ""))
	require.NoError(t, jrn.Close())

	s.out.Reset()

	require.NoError(t, logic.RunJournal(testEnv(&s), cfg))
	assert.Contains(t, s.out.String(), "x.md")
	assert.NotContains(t, s.out.String(), "y.md")
}
