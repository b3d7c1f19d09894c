package encryption

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/fileutil"
	"github.com/idelchi/vaultseal/internal/logging"
)

// ErrChunkTooLarge is returned when padded chunks exceed what the device accepts per call.
var ErrChunkTooLarge = errors.New("chunk size exceeds device limit")

// Options configure a Processor.
type Options struct {
	// Session is the open oracle
	Session device.Session

	// Path is the configured derivation path
	Path device.Path

	// Format selects the header variant written and expected
	Format Format

	// Scheme and KDF apply to newly encrypted files
	Scheme Scheme
	KDF    KDF

	// ChunkSize is the plaintext chunk size for new files and for line headers
	ChunkSize int

	// PreserveTimestamps copies the input modification time to the output
	PreserveTimestamps bool

	// Recorder receives every state transition; optional
	Recorder Recorder

	// Logger receives per-file logs; optional
	Logger *logrus.Entry
}

// Task is a single file to process.
type Task struct {
	Action  Action
	Input   string
	Output  string
	KeyName string
}

// Processor moves single files through the encrypt or decrypt lifecycle.
type Processor struct {
	opts   Options
	framer Framer
	log    *logrus.Entry
}

// NewProcessor validates opts against the session.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Session == nil {
		return nil, errors.New("no oracle session")
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	if opts.Scheme == "" {
		opts.Scheme = SchemeOnboard
	}

	if opts.KDF == "" {
		opts.KDF = KDFHKDF
	}

	framer, err := NewFramer(opts.Format)
	if err != nil {
		return nil, err
	}

	if opts.Format == FormatLine && opts.Scheme != SchemeOnboard {
		return nil, fmt.Errorf("%w: %s requires the structured header", ErrUnsupportedScheme, opts.Scheme)
	}

	if limiter, ok := opts.Session.(device.BlockLimiter); ok && opts.Scheme == SchemeOnboard {
		if padded := PaddedSize(opts.ChunkSize, device.BlockSize); padded > limiter.MaxBlockSize() {
			return nil, fmt.Errorf("%w: chunk size %d pads to %d bytes, device accepts %d",
				ErrChunkTooLarge, opts.ChunkSize, padded, limiter.MaxBlockSize())
		}
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	return &Processor{opts: opts, framer: framer, log: log.WithField("component", "processor")}, nil
}

// Process runs task to a terminal state. Cancellation of ctx does not interrupt a file
// already in progress.
func (p *Processor) Process(ctx context.Context, task Task) Result {
	ctx = context.WithoutCancel(ctx)

	log := p.log.WithFields(logrus.Fields{"action": task.Action, "file": task.Input})
	tr := newTracker(task.Action, task.Input, p.opts.Recorder, log)
	res := Result{Input: task.Input, Output: task.Output, Action: task.Action}

	var err error

	switch task.Action {
	case ActionEncrypt:
		err = p.encrypt(ctx, task, tr, &res, log)
	case ActionDecrypt:
		err = p.decrypt(ctx, task, tr, &res, log)
	default:
		err = fmt.Errorf("unknown action %q", task.Action)
	}

	if err != nil {
		tr.fail(err)

		res.Error = err
	}

	res.State = tr.state

	return res
}

// Verify decrypts task.Input in memory and checks its digest without writing anything.
// Empty inputs are skipped as Process skips them.
func (p *Processor) Verify(ctx context.Context, task Task) Result {
	res := Result{Input: task.Input, Action: ActionDecrypt, State: StateDone}

	info, err := regularFile(task.Input)
	if err != nil {
		res.State = StateFailed
		res.Error = err

		return res
	}

	res.InputSize = info.Size()

	if info.Size() == 0 {
		res.State = StateSkipped

		return res
	}

	h, actual, err := p.decryptTo(ctx, task.Input, task.KeyName, io.Discard, &res)
	if err == nil {
		err = verifyDigest(h.Digest, actual)
	}

	if err != nil {
		res.State = StateFailed
		res.Error = err
	}

	return res
}

//nolint:funlen,cyclop
func (p *Processor) encrypt(ctx context.Context, task Task, tr *tracker, res *Result, log *logrus.Entry) (err error) {
	if err := tr.to(StateReading); err != nil {
		return err
	}

	info, err := regularFile(task.Input)
	if err != nil {
		return err
	}

	res.InputSize = info.Size()

	if info.Size() == 0 {
		log.Debug("skipping empty file")

		return tr.to(StateSkipped)
	}

	digest, err := digestFile(task.Input)
	if err != nil {
		return err
	}

	exists, err := fileutil.Exists(task.Output)
	if err != nil {
		return err
	}

	if exists {
		return p.resumeEncrypt(ctx, task, tr, res, digest, log)
	}

	h := &Header{
		KeyPath:   p.opts.Path.String(),
		KeyName:   task.KeyName,
		Digest:    digest,
		Scheme:    p.opts.Scheme,
		ChunkSize: p.opts.ChunkSize,
	}

	if p.framer.Format() == FormatStructured {
		if !h.Scheme.usesDevice() {
			h.KDF = p.opts.KDF
		}

		if ivSize, _ := fixedFields(h.Scheme); ivSize > 0 {
			h.IV = make([]byte, ivSize)
			if _, err := rand.Read(h.IV); err != nil {
				return fmt.Errorf("generating IV: %w", err)
			}
		}
	}

	raw, err := p.framer.Encode(h)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}

	if err := tr.to(StateTranscoding); err != nil {
		return err
	}

	tc, err := fileutil.NewTempContext(task.Input, task.Output)
	if err != nil {
		return fmt.Errorf("preparing atomic write: %w", err)
	}

	defer tc.CleanupOnError(&err)

	in, err := os.Open(filepath.Clean(task.Input))
	if err != nil {
		return fmt.Errorf("opening input file: %w", err)
	}
	defer in.Close()

	writer := bufio.NewWriter(tc.TmpFile)

	if _, err := writer.Write(raw); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	// The header digest was taken on an earlier read; what gets sealed must match it.
	sealed := NewHasher()

	chunks, err := newCodec(h, p.opts.Session, p.opts.Path).seal(ctx, io.TeeReader(in, sealed), writer, h)
	if err != nil {
		return fmt.Errorf("encrypting file: %w", err)
	}

	if chunks == 0 {
		return fmt.Errorf("%w: input shrank to zero bytes", ErrEmptyCiphertext)
	}

	if actual := sealed.Sum(); !DigestEqual(h.Digest, actual) {
		return fmt.Errorf("%w: digest %s became %s", ErrInputChanged, h.Digest, actual)
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}

	if offset := p.framer.TagOffset(h); offset >= 0 {
		if _, err := tc.TmpFile.WriteAt(h.Tag, int64(offset)); err != nil {
			return fmt.Errorf("writing tag: %w", err)
		}
	}

	res.Chunks = chunks

	return p.commit(tr, tc, task, info, res)
}

//nolint:funlen
func (p *Processor) decrypt(ctx context.Context, task Task, tr *tracker, res *Result, log *logrus.Entry) (err error) {
	if err := tr.to(StateReading); err != nil {
		return err
	}

	info, err := regularFile(task.Input)
	if err != nil {
		return err
	}

	res.InputSize = info.Size()

	if info.Size() == 0 {
		log.Debug("skipping empty file")

		return tr.to(StateSkipped)
	}

	exists, err := fileutil.Exists(task.Output)
	if err != nil {
		return err
	}

	if exists {
		return p.resumeDecrypt(task, tr, res, log)
	}

	if err := tr.to(StateTranscoding); err != nil {
		return err
	}

	tc, err := fileutil.NewTempContext(task.Input, task.Output)
	if err != nil {
		return fmt.Errorf("preparing atomic write: %w", err)
	}

	defer tc.CleanupOnError(&err)

	writer := bufio.NewWriter(tc.TmpFile)

	h, actual, err := p.decryptTo(ctx, task.Input, task.KeyName, writer, res)
	if err != nil {
		return err
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}

	if err := tr.to(StateVerifying); err != nil {
		return err
	}

	if err := verifyDigest(h.Digest, actual); err != nil {
		return err
	}

	return p.commit(tr, tc, task, info, res)
}

// commit moves the fully written temp file into place and only then deletes the input.
func (p *Processor) commit(tr *tracker, tc *fileutil.TempContext, task Task, info os.FileInfo, res *Result) error {
	if err := tr.to(StateWriting); err != nil {
		return err
	}

	if err := tc.Commit(task.Output, info.Mode().Perm()); err != nil {
		return err
	}

	size, err := fileutil.FinalizeOutput(task.Output, p.opts.PreserveTimestamps, info.ModTime())
	if err != nil {
		return fmt.Errorf("finalizing output: %w", err)
	}

	res.OutputSize = size

	if err := tr.to(StateCommitting); err != nil {
		return err
	}

	if err := fileutil.RemoveSource(task.Input); err != nil {
		return err
	}

	return tr.to(StateDone)
}

// resumeEncrypt handles an input whose ciphertext already exists, as left by a run
// interrupted between rename and delete. The ciphertext must decrypt to the input.
func (p *Processor) resumeEncrypt(
	ctx context.Context,
	task Task,
	tr *tracker,
	res *Result,
	digest string,
	log *logrus.Entry,
) error {
	log.Warn("output exists, verifying it against the input")

	if err := tr.to(StateVerifying); err != nil {
		return err
	}

	scratch := Result{}

	h, actual, err := p.decryptTo(ctx, task.Output, task.KeyName, io.Discard, &scratch)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrOutputExists, task.Output, err)
	}

	if !DigestEqual(h.Digest, digest) || !DigestEqual(actual, digest) {
		return fmt.Errorf("%w: %q holds different content", ErrOutputExists, task.Output)
	}

	return p.finishResume(tr, task, res)
}

// resumeDecrypt handles a ciphertext whose plaintext already exists.
func (p *Processor) resumeDecrypt(task Task, tr *tracker, res *Result, log *logrus.Entry) error {
	log.Warn("output exists, verifying it against the recorded digest")

	if err := tr.to(StateVerifying); err != nil {
		return err
	}

	ct, err := p.openCiphertext(task.Input, task.KeyName, res)
	if err != nil {
		return err
	}

	ct.Close()

	actual, err := digestFile(task.Output)
	if err != nil {
		return err
	}

	if !DigestEqual(ct.header.Digest, actual) {
		return fmt.Errorf("%w: %q holds different content", ErrOutputExists, task.Output)
	}

	return p.finishResume(tr, task, res)
}

func (p *Processor) finishResume(tr *tracker, task Task, res *Result) error {
	if err := tr.to(StateWriting); err != nil {
		return err
	}

	if err := fileutil.SyncFile(task.Output); err != nil {
		return err
	}

	info, err := os.Stat(task.Output)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	res.OutputSize = info.Size()
	res.Resumed = true

	if err := tr.to(StateCommitting); err != nil {
		return err
	}

	if err := fileutil.RemoveSource(task.Input); err != nil {
		return err
	}

	return tr.to(StateDone)
}

// ciphertext is an opened ciphertext positioned after its header.
type ciphertext struct {
	file    *os.File
	body    *bufio.Reader
	header  *Header
	keyPath device.Path
}

func (c *ciphertext) Close() {
	c.file.Close() //nolint:errcheck,gosec // read-only
}

// openCiphertext decodes the header of path and resolves which key decrypts it.
// Values recorded in a structured header win over the configured ones.
func (p *Processor) openCiphertext(path, keyName string, res *Result) (*ciphertext, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening input file: %w", err)
	}

	body := bufio.NewReader(file)

	h, err := p.framer.Decode(body)
	if err != nil {
		file.Close() //nolint:errcheck,gosec // read-only

		// A complete but unreadable record is indistinguishable from a tampered one.
		if errors.Is(err, errBadRecord) {
			return nil, &IntegrityMismatchError{Cause: fmt.Errorf("decoding header: %w", err)}
		}

		return nil, fmt.Errorf("decoding header: %w", err)
	}

	ct := &ciphertext{file: file, body: body, header: h, keyPath: p.opts.Path}

	if h.Version != VersionStructured {
		h.KeyPath = p.opts.Path.String()
		h.KeyName = keyName
		h.ChunkSize = p.opts.ChunkSize

		return ct, nil
	}

	if h.KeyPath != "" {
		recorded, err := device.ParsePath(h.KeyPath)
		if err != nil {
			ct.Close()

			return nil, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
		}

		if !recorded.Equal(p.opts.Path) {
			p.warn(res, &KeyPathMismatchError{Field: "key path", Recorded: h.KeyPath, Configured: p.opts.Path.String()})
		}

		ct.keyPath = recorded
	}

	switch {
	case h.KeyName == "":
		h.KeyName = keyName
	case keyName != "" && h.KeyName != keyName:
		p.warn(res, &KeyPathMismatchError{Field: "key name", Recorded: h.KeyName, Configured: keyName})
	}

	return ct, nil
}

// decryptTo decrypts path into w and returns its header and the digest of the plaintext.
func (p *Processor) decryptTo(ctx context.Context, path, keyName string, w io.Writer, res *Result) (*Header, string, error) {
	ct, err := p.openCiphertext(path, keyName, res)
	if err != nil {
		return nil, "", err
	}
	defer ct.Close()

	hasher := NewHasher()

	chunks, err := newCodec(ct.header, p.opts.Session, ct.keyPath).
		open(ctx, ct.body, io.MultiWriter(w, hasher), ct.header)

	res.Chunks = chunks

	if err != nil {
		return ct.header, "", fmt.Errorf("decrypting file: %w", err)
	}

	if chunks == 0 {
		return ct.header, "", ErrEmptyCiphertext
	}

	return ct.header, hasher.Sum(), nil
}

func (p *Processor) warn(res *Result, warning error) {
	res.Warnings = append(res.Warnings, warning)

	p.log.WithField("file", res.Input).WithError(warning).Warn("using recorded value")
}

func regularFile(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is not a regular file", path)
	}

	return info, nil
}

func digestFile(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", path, err)
	}
	defer file.Close()

	return Digest(file)
}
