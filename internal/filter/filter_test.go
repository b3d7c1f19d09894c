package filter_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/vaultseal/internal/filter"
	"github.com/idelchi/vaultseal/pkg/pathmatch"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()

	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("content of "+f), 0o600))
	}
}

func rels(entries []filter.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Rel)
	}

	return out
}

func TestWalkEncrypt(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"README.md",
		".gitignore",
		".git/config",
		".vaultseal/journal.db",
		"b.md",
		"a/z.md",
		"a/README.md",
		"a/done.md.enc",
		"notes/.git/HEAD",
		"notes/x.md",
	)

	sel, err := filter.Walk(filter.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"a/z.md", "b.md", "notes/x.md"}, rels(sel.Files))

	// Pruned directories are never scanned.
	assert.Equal(t, 7, sel.Scanned)
	assert.Equal(t, 4, sel.Excluded)

	first := sel.Files[0]
	assert.Equal(t, filepath.Join(root, "a", "z.md"), first.Path)
	assert.Equal(t, filepath.Join(root, "a", "z.md.enc"), first.Output)
	assert.Equal(t, "a/z.md", first.KeyName)
	assert.EqualValues(t, len("content of a/z.md"), first.Size)
}

func TestWalkDecrypt(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"a.md.enc",
		"plain.md",
		"Vault/secret.md.enc",
		"sub/c.md.enc",
		".enc",
	)

	t.Run("all", func(t *testing.T) {
		t.Parallel()

		sel, err := filter.Walk(filter.Options{Root: root, Decrypt: true})
		require.NoError(t, err)

		assert.Equal(t, []string{"Vault/secret.md.enc", "a.md.enc", "sub/c.md.enc"}, rels(sel.Files))

		last := sel.Files[2]
		assert.Equal(t, "sub/c.md", last.KeyName)
		assert.Equal(t, filepath.Join(root, "sub", "c.md"), last.Output)
	})

	t.Run("skip dirs", func(t *testing.T) {
		t.Parallel()

		sel, err := filter.Walk(filter.Options{Root: root, Decrypt: true, SkipDirs: []string{"Vault"}})
		require.NoError(t, err)

		assert.Equal(t, []string{"a.md.enc", "sub/c.md.enc"}, rels(sel.Files))
	})

	t.Run("skip dirs ignored when encrypting", func(t *testing.T) {
		t.Parallel()

		sel, err := filter.Walk(filter.Options{Root: root, SkipDirs: []string{"sub"}})
		require.NoError(t, err)

		assert.Equal(t, []string{"plain.md"}, rels(sel.Files))
	})
}

func TestWalkPatterns(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"keep.md",
		"drop.tmp",
		"notes/drafts/a.md",
		"notes/final/b.md",
		"img/attachments/c.png",
	)

	sel, err := filter.Walk(filter.Options{
		Root:    root,
		Exclude: []string{"*.tmp", "notes/drafts", "**/attachments"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.md", "notes/final/b.md"}, rels(sel.Files))

	_, err = filter.Walk(filter.Options{Root: root, Exclude: []string{"[bad"}})
	require.Error(t, err)
}

func TestWalkSkipsSpecialFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, "real.md", ".vaultseal-tmp-1234")

	require.NoError(t, os.Symlink(filepath.Join(root, "real.md"), filepath.Join(root, "link.md")))

	sel, err := filter.Walk(filter.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"real.md"}, rels(sel.Files))
	assert.Equal(t, []string{filepath.Join(root, ".vaultseal-tmp-1234")}, sel.Stale)
}

func TestWalkRootErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, "file.md")

	_, err := filter.Walk(filter.Options{Root: filepath.Join(root, "file.md")})
	require.ErrorIs(t, err, filter.ErrNotDirectory)

	_, err = filter.Walk(filter.Options{Root: filepath.Join(root, "missing")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, "a/b.md", "c.md")

	paths, err := filter.Paths(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "a/b.md", "c.md"}, paths)
}

func TestLoadPatterns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "excludes.jsonc")
	content := `[
  // generated output
  "build",
  "*.log", /* logs */
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	patterns, err := filter.LoadPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "*.log"}, patterns)

	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0o600))

	_, err = filter.LoadPatterns(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`["ok", "  ", "[broken"]`), 0o600))

	_, err = filter.LoadPatterns(path)
	require.ErrorIs(t, err, pathmatch.ErrBadPattern)
}
