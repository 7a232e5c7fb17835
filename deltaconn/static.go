package deltaconn

import (
	"context"
	"fmt"

	"github.com/vovakirdan/deltaconn-go/deltaconn/rest"
)

// StaticSource yields the raw frames of a stored session in their original
// order. Frames stops early with yield's error.
type StaticSource interface {
	Frames(ctx context.Context, yield func(frame []byte) error) error
}

// NewHTTPSource serves a session published under the static endpoints of c.
func NewHTTPSource(c *rest.Client, sessionID string) StaticSource {
	return &httpSource{client: c, sessionID: sessionID}
}

type httpSource struct {
	client    *rest.Client
	sessionID string
}

func (s *httpSource) Frames(ctx context.Context, yield func([]byte) error) error {
	manifest, err := s.client.GetManifest(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	for n := manifest.FirstFrame; n < manifest.NumMessages; n++ {
		frame, err := s.client.GetStaticFrame(ctx, s.sessionID, n)
		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		if err := yield(frame); err != nil {
			return err
		}
	}
	return nil
}
