package device

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Failure codes used by the emulator.
const (
	failureUnexpectedMessage = 1
	failureDataError         = 3
	failureProcessError      = 9
)

// Emulator serves the bridge protocol on top of another Session,
// so the bridge client can be used against a software device.
type Emulator struct {
	// ButtonRequests is how many confirmations each CipherKeyValue asks for before replying.
	ButtonRequests int

	mu      sync.Mutex
	backend Session
	session int
	pending *pendingCall
}

type pendingCall struct {
	request cipherKeyValueRequest
	buttons int
}

// NewEmulator wraps backend.
func NewEmulator(backend Session) *Emulator {
	return &Emulator{backend: backend}
}

// Handler returns the HTTP handler.
func (e *Emulator) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /enumerate", e.enumerate)
	mux.HandleFunc("POST /acquire/{path}/{previous}", e.acquire)
	mux.HandleFunc("POST /call/{session}", e.call)
	mux.HandleFunc("POST /release/{session}", e.release)

	return mux
}

func (e *Emulator) enumerate(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	device := bridgeDevice{Path: "emulator"}

	if e.session > 0 {
		session := strconv.Itoa(e.session)
		device.Session = &session
	}

	writeJSON(w, []bridgeDevice{device})
}

func (e *Emulator) acquire(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.PathValue("path") != "emulator" {
		http.Error(w, "device not found", http.StatusBadRequest)

		return
	}

	e.session++
	e.pending = nil

	writeJSON(w, map[string]string{"session": strconv.Itoa(e.session)})
}

func (e *Emulator) release(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.PathValue("session") != strconv.Itoa(e.session) {
		http.Error(w, "wrong previous session", http.StatusBadRequest)

		return
	}

	e.session = 0
	e.pending = nil

	writeJSON(w, map[string]string{})
}

func (e *Emulator) call(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == 0 || r.PathValue("session") != strconv.Itoa(e.session) {
		http.Error(w, "wrong previous session", http.StatusBadRequest)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	msgType, payload, err := decodeFrame(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	replyType, reply := e.dispatch(r, msgType, payload)

	_, _ = io.WriteString(w, encodeFrame(replyType, reply))
}

func (e *Emulator) dispatch(r *http.Request, msgType uint16, payload []byte) (uint16, []byte) {
	switch msgType {
	case msgInitialize:
		e.pending = nil

		return msgFeatures, nil
	case msgGetPublicKey:
		var request getPublicKeyRequest
		if err := request.unmarshal(payload); err != nil {
			return msgFailure, marshalFailure(failureDataError, err.Error())
		}

		pub, err := e.backend.PublicKeyMaterial(r.Context(), request.Path)
		if err != nil {
			return msgFailure, marshalFailure(failureProcessError, err.Error())
		}

		return msgPublicKey, marshalPublicKey(pub)
	case msgCipherKeyValue:
		var request cipherKeyValueRequest
		if err := request.unmarshal(payload); err != nil {
			return msgFailure, marshalFailure(failureDataError, err.Error())
		}

		if len(request.Value)%BlockSize != 0 {
			return msgFailure, marshalFailure(failureDataError, ErrInvalidBlock.Error())
		}

		if len(request.Value) > maxValueSize {
			return msgFailure, marshalFailure(failureDataError, ErrBlockTooLarge.Error())
		}

		e.pending = &pendingCall{request: request, buttons: e.ButtonRequests}

		return e.advance(r)
	case msgButtonAck:
		if e.pending == nil {
			return msgFailure, marshalFailure(failureUnexpectedMessage, "unexpected ButtonAck")
		}

		return e.advance(r)
	default:
		return msgFailure, marshalFailure(failureUnexpectedMessage, fmt.Sprintf("unsupported message %d", msgType))
	}
}

func (e *Emulator) advance(r *http.Request) (uint16, []byte) {
	if e.pending.buttons > 0 {
		e.pending.buttons--

		return msgButtonRequest, nil
	}

	request := e.pending.request
	e.pending = nil

	dir := Decrypt
	if request.Encrypt {
		dir = Encrypt
	}

	value, err := e.backend.Transform(r.Context(), dir, request.Path, request.Key, request.IV, request.Value)
	if err != nil {
		return msgFailure, marshalFailure(failureProcessError, err.Error())
	}

	return msgCipheredKeyValue, marshalBytesField(1, value)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(v)
}
