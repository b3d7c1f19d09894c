package encryption_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
)

var testSeed = bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 8) //nolint:gochecknoglobals

type variant struct {
	name   string
	format encryption.Format
	scheme encryption.Scheme
	kdf    encryption.KDF
}

//nolint:gochecknoglobals
var variants = []variant{
	{"line-onboard", encryption.FormatLine, encryption.SchemeOnboard, ""},
	{"structured-onboard", encryption.FormatStructured, encryption.SchemeOnboard, ""},
	{"structured-extended", encryption.FormatStructured, encryption.SchemeExtended, encryption.KDFHKDF},
	{"structured-extended-legacy", encryption.FormatStructured, encryption.SchemeExtended, encryption.KDFLegacy},
	{"structured-deterministic", encryption.FormatStructured, encryption.SchemeDeterministic, encryption.KDFHKDF},
}

func newSession(t *testing.T) device.Session {
	t.Helper()

	soft, err := device.NewSoft(testSeed)
	require.NoError(t, err)

	t.Cleanup(func() { _ = soft.Close() })

	return soft
}

func newProcessor(t *testing.T, session device.Session, v variant) *encryption.Processor {
	t.Helper()

	proc, err := encryption.NewProcessor(encryption.Options{
		Session: session,
		Path:    device.MustParsePath(device.DefaultPath),
		Format:  v.format,
		Scheme:  v.scheme,
		KDF:     v.kdf,
	})
	require.NoError(t, err)

	return proc
}

func encryptTask(path, key string) encryption.Task {
	return encryption.Task{Action: encryption.ActionEncrypt, Input: path, Output: path + ".enc", KeyName: key}
}

func decryptTask(path, key string) encryption.Task {
	return encryption.Task{Action: encryption.ActionDecrypt, Input: path + ".enc", Output: path, KeyName: key}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)

	return data
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	sizes := []int{1, 15, 16, 17, 1023, 1024, 1025, 2048, 5000}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			proc := newProcessor(t, newSession(t), v)
			dir := t.TempDir()

			for _, size := range sizes {
				path := filepath.Join(dir, fmt.Sprintf("file-%d.bin", size))
				data := randomBytes(t, size)

				require.NoError(t, os.WriteFile(path, data, 0o640))

				res := proc.Process(t.Context(), encryptTask(path, filepath.Base(path)))
				require.NoError(t, res.Error, "size %d", size)
				assert.Equal(t, encryption.StateDone, res.State)
				assert.NoFileExists(t, path, "source removed after commit")
				assert.FileExists(t, path+".enc")

				res = proc.Process(t.Context(), decryptTask(path, filepath.Base(path)))
				require.NoError(t, res.Error, "size %d", size)
				assert.Equal(t, encryption.StateDone, res.State)
				assert.NoFileExists(t, path+".enc")

				got, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, data, got, "size %d", size)

				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
			}
		})
	}
}

func TestOnboardChunkCount(t *testing.T) {
	t.Parallel()

	proc := newProcessor(t, newSession(t), variants[0])
	dir := t.TempDir()

	tests := map[int]int{1: 1, 1024: 1, 1025: 2, 3072: 3}

	for size, chunks := range tests {
		path := filepath.Join(dir, fmt.Sprintf("f%d", size))
		require.NoError(t, os.WriteFile(path, randomBytes(t, size), 0o600))

		res := proc.Process(t.Context(), encryptTask(path, "k"))
		require.NoError(t, res.Error)
		assert.Equal(t, chunks, res.Chunks, "size %d", size)

		info, err := os.Stat(path + ".enc")
		require.NoError(t, err)

		full := size / 1024
		tail := size % 1024

		want := encryption.DigestSize + 1 + full*1040
		if tail > 0 {
			want += encryption.PaddedSize(tail, 16)
		}

		assert.EqualValues(t, want, info.Size(), "size %d", size)
	}
}

func TestEmptyFileIsSkipped(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		proc := newProcessor(t, newSession(t), v)
		path := filepath.Join(t.TempDir(), "empty.md")

		require.NoError(t, os.WriteFile(path, nil, 0o600))

		res := proc.Process(t.Context(), encryptTask(path, "empty.md"))
		require.NoError(t, res.Error)
		assert.Equal(t, encryption.StateSkipped, res.State)
		assert.FileExists(t, path)
		assert.NoFileExists(t, path+".enc")
	}
}

func TestTamperDetection(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			session := newSession(t)
			proc := newProcessor(t, session, v)

			dir := t.TempDir()
			path := filepath.Join(dir, "secret.txt")
			data := randomBytes(t, 40)

			require.NoError(t, os.WriteFile(path, data, 0o600))

			res := proc.Process(t.Context(), encryptTask(path, "secret.txt"))
			require.NoError(t, res.Error)

			pristine, err := os.ReadFile(path + ".enc")
			require.NoError(t, err)

			digest, body := tamperOffsets(t, v, pristine)

			check := func(offset int, tampered []byte) {
				t.Helper()

				target := filepath.Join(t.TempDir(), "secret.txt")
				require.NoError(t, os.WriteFile(target+".enc", tampered, 0o600))

				res := proc.Process(t.Context(), decryptTask(target, "secret.txt"))
				require.ErrorIs(t, res.Error, encryption.ErrIntegrityMismatch, "offset %d: %q", offset, tampered[offset])
				assert.Equal(t, encryption.StateFailed, res.State)
				assert.NoFileExists(t, target, "no plaintext output on failure")
				assert.FileExists(t, target+".enc")
				assertNoTempFiles(t, filepath.Dir(target))
			}

			for _, offset := range append(digest, body...) {
				tampered := bytes.Clone(pristine)
				tampered[offset] ^= 0x01

				check(offset, tampered)
			}

			// Bytes that break the record encoding rather than just the digest value.
			for _, offset := range digest {
				for _, value := range []byte{'"', '\\', '\n', 0x00, 0x1f} {
					tampered := bytes.Clone(pristine)
					tampered[offset] = value

					check(offset, tampered)
				}
			}
		})
	}
}

// tamperOffsets returns the digest and ciphertext byte offsets of an encrypted file.
func tamperOffsets(t *testing.T, v variant, data []byte) (digest, body []int) {
	t.Helper()

	if v.format == encryption.FormatLine {
		for i := range encryption.DigestSize {
			digest = append(digest, i)
		}

		for i := encryption.DigestSize + 1; i < len(data); i++ {
			body = append(body, i)
		}

		return digest, body
	}

	recordLength := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	record := data[4 : 4+recordLength]

	start := bytes.Index(record, []byte(`"digest":"`)) + len(`"digest":"`)
	for i := range encryption.DigestSize {
		digest = append(digest, 4+start+i)
	}

	for i := 4 + recordLength; i < len(data); i++ {
		body = append(body, i)
	}

	return digest, body
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".vaultseal-tmp-")
	}
}

func TestKeyBindingOnRename(t *testing.T) {
	t.Parallel()

	proc := newProcessor(t, newSession(t), variants[0])
	dir := t.TempDir()

	original := filepath.Join(dir, "a.md")
	moved := filepath.Join(dir, "b.md")

	require.NoError(t, os.WriteFile(original, randomBytes(t, 3000), 0o600))

	res := proc.Process(t.Context(), encryptTask(original, "a.md"))
	require.NoError(t, res.Error)

	require.NoError(t, os.Rename(original+".enc", moved+".enc"))

	for range 2 {
		res = proc.Process(t.Context(), decryptTask(moved, "b.md"))
		require.ErrorIs(t, res.Error, encryption.ErrIntegrityMismatch)
		assert.NoFileExists(t, moved)
		assert.FileExists(t, moved+".enc")
	}
}

func TestStructuredHeaderCarriesKey(t *testing.T) {
	t.Parallel()

	v := variants[1]
	session := newSession(t)
	proc := newProcessor(t, session, v)
	dir := t.TempDir()

	original := filepath.Join(dir, "a.md")
	moved := filepath.Join(dir, "b.md")
	data := randomBytes(t, 100)

	require.NoError(t, os.WriteFile(original, data, 0o600))
	require.NoError(t, proc.Process(t.Context(), encryptTask(original, "a.md")).Error)
	require.NoError(t, os.Rename(original+".enc", moved+".enc"))

	other, err := encryption.NewProcessor(encryption.Options{
		Session: session,
		Path:    device.MustParsePath("m/1'"),
		Format:  v.format,
	})
	require.NoError(t, err)

	res := other.Process(t.Context(), decryptTask(moved, "b.md"))
	require.NoError(t, res.Error)
	require.Len(t, res.Warnings, 2)

	for _, warning := range res.Warnings {
		require.ErrorIs(t, warning, encryption.ErrKeyPathMismatch)
	}

	got, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// flakySession fails every transform after the first `after` calls.
type flakySession struct {
	device.Session

	mu    sync.Mutex
	after int
	calls int
}

func (f *flakySession) Transform(
	ctx context.Context, dir device.Direction, path device.Path, key string, iv, block []byte,
) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()

	if calls > f.after {
		return nil, &device.OracleUnavailableError{Op: "transform", Err: errors.New("unplugged")}
	}

	return f.Session.Transform(ctx, dir, path, key, iv, block)
}

// editingSession rewrites a file on its first call, as a concurrent editor would.
type editingSession struct {
	device.Session

	once    sync.Once
	path    string
	content []byte
	err     error
}

func (e *editingSession) Transform(
	ctx context.Context, dir device.Direction, path device.Path, key string, iv, block []byte,
) ([]byte, error) {
	e.edit()

	return e.Session.Transform(ctx, dir, path, key, iv, block)
}

func (e *editingSession) PublicKeyMaterial(ctx context.Context, path device.Path) ([]byte, error) {
	e.edit()

	return e.Session.PublicKeyMaterial(ctx, path)
}

func (e *editingSession) edit() {
	e.once.Do(func() { e.err = os.WriteFile(e.path, e.content, 0o600) })
}

func TestInputChangedDuringEncrypt(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		if v.scheme == encryption.SchemeExtended {
			// Extended reads the whole input before touching the key source.
			continue
		}

		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := filepath.Join(dir, "draft.md")
			edited := randomBytes(t, 3000)

			require.NoError(t, os.WriteFile(path, randomBytes(t, 3000), 0o600))

			session := &editingSession{Session: newSession(t), path: path, content: edited}
			proc := newProcessor(t, session, v)

			res := proc.Process(t.Context(), encryptTask(path, "draft.md"))
			require.NoError(t, session.err)
			require.ErrorIs(t, res.Error, encryption.ErrInputChanged)
			assert.Equal(t, encryption.StateFailed, res.State)

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, edited, got, "source kept")
			assert.NoFileExists(t, path+".enc")
			assertNoTempFiles(t, dir)
		})
	}
}

func TestOracleFailureLeavesNoPartialOutput(t *testing.T) {
	t.Parallel()

	session := &flakySession{Session: newSession(t), after: 2}
	proc := newProcessor(t, session, variants[0])

	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	data := randomBytes(t, 10*1024)

	require.NoError(t, os.WriteFile(path, data, 0o600))

	res := proc.Process(t.Context(), encryptTask(path, "big.bin"))
	require.ErrorIs(t, res.Error, device.ErrOracleUnavailable)
	assert.Equal(t, encryption.StateFailed, res.State)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, path+".enc")
	assertNoTempFiles(t, dir)
}

func TestResumeAfterCrashBeforeDelete(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			proc := newProcessor(t, newSession(t), v)
			dir := t.TempDir()
			path := filepath.Join(dir, "note.md")
			data := randomBytes(t, 2500)

			require.NoError(t, os.WriteFile(path, data, 0o600))
			require.NoError(t, proc.Process(t.Context(), encryptTask(path, "note.md")).Error)

			// A crash between rename and delete leaves both files.
			require.NoError(t, os.WriteFile(path, data, 0o600))

			ciphertext, err := os.ReadFile(path + ".enc")
			require.NoError(t, err)

			res := proc.Process(t.Context(), encryptTask(path, "note.md"))
			require.NoError(t, res.Error)
			assert.True(t, res.Resumed)
			assert.NoFileExists(t, path)

			after, err := os.ReadFile(path + ".enc")
			require.NoError(t, err)
			assert.Equal(t, ciphertext, after, "ciphertext is not re-encrypted")

			// Same on the way back.
			require.NoError(t, proc.Process(t.Context(), decryptTask(path, "note.md")).Error)
			require.NoError(t, os.WriteFile(path+".enc", ciphertext, 0o600))

			res = proc.Process(t.Context(), decryptTask(path, "note.md"))
			require.NoError(t, res.Error)
			assert.True(t, res.Resumed)
			assert.NoFileExists(t, path+".enc")

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestResumeRefusesDifferentContent(t *testing.T) {
	t.Parallel()

	proc := newProcessor(t, newSession(t), variants[0])
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")

	require.NoError(t, os.WriteFile(path, []byte("first version"), 0o600))
	require.NoError(t, proc.Process(t.Context(), encryptTask(path, "note.md")).Error)
	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o600))

	res := proc.Process(t.Context(), encryptTask(path, "note.md"))
	require.ErrorIs(t, res.Error, encryption.ErrOutputExists)
	assert.FileExists(t, path)
	assert.FileExists(t, path+".enc")
}

func TestVerify(t *testing.T) {
	t.Parallel()

	proc := newProcessor(t, newSession(t), variants[0])
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")

	require.NoError(t, os.WriteFile(path, randomBytes(t, 4000), 0o600))
	require.NoError(t, proc.Process(t.Context(), encryptTask(path, "note.md")).Error)

	res := proc.Verify(t.Context(), decryptTask(path, "note.md"))
	require.NoError(t, res.Error)
	assert.Equal(t, 4, res.Chunks)
	assert.NoFileExists(t, path)

	res = proc.Verify(t.Context(), decryptTask(path, "other.md"))
	require.ErrorIs(t, res.Error, encryption.ErrIntegrityMismatch)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty+".enc", nil, 0o600))

	res = proc.Verify(t.Context(), decryptTask(empty, "empty.md"))
	require.NoError(t, res.Error)
	assert.Equal(t, encryption.StateSkipped, res.State)
}

func TestProcessorOptionValidation(t *testing.T) {
	t.Parallel()

	session := newSession(t)

	_, err := encryption.NewProcessor(encryption.Options{
		Session: session,
		Format:  encryption.FormatLine,
		Scheme:  encryption.SchemeExtended,
	})
	require.ErrorIs(t, err, encryption.ErrUnsupportedScheme)

	_, err = encryption.NewProcessor(encryption.Options{
		Session:   limitedSession{session},
		Format:    encryption.FormatLine,
		ChunkSize: 1024,
	})
	require.ErrorIs(t, err, encryption.ErrChunkTooLarge)

	_, err = encryption.NewProcessor(encryption.Options{
		Session:   limitedSession{session},
		Format:    encryption.FormatLine,
		ChunkSize: 1008,
	})
	require.NoError(t, err)
}

type limitedSession struct {
	device.Session
}

func (limitedSession) MaxBlockSize() int { return 1024 }
