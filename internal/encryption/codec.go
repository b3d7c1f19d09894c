package encryption

import (
	"context"
	"io"

	"github.com/idelchi/vaultseal/internal/device"
)

// codec enciphers the content following a header.
// Both directions return the number of chunks processed.
type codec interface {
	seal(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error)
	open(ctx context.Context, src io.Reader, dst io.Writer, h *Header) (int, error)
}

// newCodec selects the codec for h, keyed at path.
func newCodec(h *Header, session device.Session, path device.Path) codec {
	switch h.Scheme {
	case SchemeExtended:
		return gcmCodec{source: session, path: path}
	case SchemeDeterministic:
		return sivCodec{source: session, path: path}
	default:
		return onboardCodec{&Transcoder{
			Oracle:    session,
			Path:      path,
			KeyName:   h.KeyName,
			IV:        h.IV,
			ChunkSize: h.ChunkSize,
		}}
	}
}

type onboardCodec struct {
	*Transcoder
}

func (c onboardCodec) seal(ctx context.Context, src io.Reader, dst io.Writer, _ *Header) (int, error) {
	return c.Encrypt(ctx, src, dst)
}

func (c onboardCodec) open(ctx context.Context, src io.Reader, dst io.Writer, _ *Header) (int, error) {
	return c.Decrypt(ctx, src, dst)
}
