package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBridgeURL is where the bridge daemon listens by default.
	DefaultBridgeURL = "http://127.0.0.1:21325"

	bridgeOrigin = "https://python.trezor.io"

	// maxValueSize is the largest value a single CipherKeyValue call accepts.
	maxValueSize = 1024

	maxResponseSize = 1 << 20
	maxButtonRounds = 8
)

var (
	// ErrNoDevice is returned when the bridge reports no connected device.
	ErrNoDevice = errors.New("no device connected")
	// ErrDeviceLocked is returned when the device asks for a PIN or passphrase.
	ErrDeviceLocked = errors.New("device requires PIN or passphrase entry")
	// ErrUnexpectedMessage is returned for out-of-protocol replies.
	ErrUnexpectedMessage = errors.New("unexpected device message")
)

// Bridge is a session with a hardware device reached through the bridge daemon.
type Bridge struct {
	mu      sync.Mutex
	client  *http.Client
	base    string
	session string
}

type bridgeDevice struct {
	Path    string  `json:"path"`
	Session *string `json:"session"`
}

// OpenBridge enumerates devices, acquires the first one and initializes it.
// A nil client uses a client with a generous timeout for button presses.
func OpenBridge(ctx context.Context, baseURL string, client *http.Client) (*Bridge, error) {
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}

	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	b := &Bridge{client: client, base: strings.TrimRight(baseURL, "/")}

	var devices []bridgeDevice
	if err := b.post(ctx, "/enumerate", "", &devices); err != nil {
		return nil, unavailable("enumerate", err)
	}

	if len(devices) == 0 {
		return nil, unavailable("enumerate", ErrNoDevice)
	}

	previous := "null"
	if devices[0].Session != nil {
		previous = *devices[0].Session
	}

	var acquired struct {
		Session string `json:"session"`
	}

	if err := b.post(ctx, "/acquire/"+url.PathEscape(devices[0].Path)+"/"+previous, "", &acquired); err != nil {
		return nil, unavailable("acquire", err)
	}

	b.session = acquired.Session

	msgType, payload, err := b.call(ctx, msgInitialize, nil)
	if err != nil {
		b.release(ctx)

		return nil, unavailable("initialize", err)
	}

	if msgType != msgFeatures {
		b.release(ctx)

		return nil, unavailable("initialize", replyError(msgType, payload))
	}

	return b, nil
}

// MaxBlockSize implements BlockLimiter.
func (b *Bridge) MaxBlockSize() int { return maxValueSize }

// Transform implements Transformer.
func (b *Bridge) Transform(ctx context.Context, dir Direction, path Path, keyName string, iv, block []byte) ([]byte, error) {
	if len(block)%BlockSize != 0 {
		return nil, ErrInvalidBlock
	}

	if len(block) > maxValueSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrBlockTooLarge, len(block), maxValueSize)
	}

	request := cipherKeyValueRequest{Path: path, Key: keyName, Value: block, Encrypt: dir == Encrypt, IV: iv}

	msgType, payload, err := b.exchange(ctx, msgCipherKeyValue, request.marshal())
	if err != nil {
		return nil, unavailable("cipher key value", err)
	}

	if msgType != msgCipheredKeyValue {
		return nil, unavailable("cipher key value", replyError(msgType, payload))
	}

	value, err := unmarshalBytesField(payload, 1)
	if err != nil {
		return nil, unavailable("cipher key value", err)
	}

	if len(value) != len(block) {
		return nil, unavailable("cipher key value", fmt.Errorf("%w: %d bytes for %d", ErrMalformedMessage, len(value), len(block)))
	}

	return value, nil
}

// PublicKeyMaterial implements KeyMaterialSource.
func (b *Bridge) PublicKeyMaterial(ctx context.Context, path Path) ([]byte, error) {
	request := getPublicKeyRequest{Path: path}

	msgType, payload, err := b.exchange(ctx, msgGetPublicKey, request.marshal())
	if err != nil {
		return nil, unavailable("get public key", err)
	}

	if msgType != msgPublicKey {
		return nil, unavailable("get public key", replyError(msgType, payload))
	}

	pub, err := unmarshalPublicKey(payload)
	if err != nil {
		return nil, unavailable("get public key", err)
	}

	return pub, nil
}

// Close releases the device.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := b.post(ctx, "/release/"+b.session, "", nil)

	b.session = ""

	return err
}

// exchange sends a request and acknowledges button requests until a final reply.
func (b *Bridge) exchange(ctx context.Context, msgType uint16, payload []byte) (uint16, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == "" {
		return 0, nil, ErrClosed
	}

	replyType, reply, err := b.call(ctx, msgType, payload)

	for range maxButtonRounds {
		if err != nil || replyType != msgButtonRequest {
			break
		}

		replyType, reply, err = b.call(ctx, msgButtonAck, nil)
	}

	return replyType, reply, err
}

func (b *Bridge) call(ctx context.Context, msgType uint16, payload []byte) (uint16, []byte, error) {
	var body string
	if err := b.post(ctx, "/call/"+b.session, encodeFrame(msgType, payload), &body); err != nil {
		return 0, nil, err
	}

	return decodeFrame(body)
}

func (b *Bridge) release(ctx context.Context) {
	_ = b.post(ctx, "/release/"+b.session, "", nil)

	b.session = ""
}

// post sends body to the daemon. out may be nil, a *string for raw replies, or a JSON target.
func (b *Bridge) post(ctx context.Context, endpoint, body string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+endpoint, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Origin", bridgeOrigin)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(data)))
	}

	switch target := out.(type) {
	case nil:
		return nil
	case *string:
		*target = strings.TrimSpace(string(data))

		return nil
	default:
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("decoding %s: %w", endpoint, err)
		}

		return nil
	}
}

// replyError turns an unexpected reply into an error.
func replyError(msgType uint16, payload []byte) error {
	switch msgType {
	case msgFailure:
		return unmarshalFailure(payload)
	case msgPinMatrixRequest, msgPassphraseRequest:
		return ErrDeviceLocked
	default:
		return fmt.Errorf("%w: type %d", ErrUnexpectedMessage, msgType)
	}
}
