package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/replayops/recfleet/internal/acquire"
	"github.com/replayops/recfleet/internal/api/dto"
)

// Renderer produces the capture artifact for a job. The production fleet
// plugs in a renderer that drives the actual game client; the default
// manifest renderer stands in for development and smoke testing.
type Renderer interface {
	// Render returns the artifact bytes and their content type.
	Render(ctx context.Context, job dto.JobDTO, payload acquire.Payload) ([]byte, string, error)
}

// manifestRenderer emits a JSON manifest describing the capture request
// instead of a real recording.
type manifestRenderer struct{}

// NewManifestRenderer returns the development renderer.
func NewManifestRenderer() Renderer {
	return manifestRenderer{}
}

func (manifestRenderer) Render(_ context.Context, job dto.JobDTO, payload acquire.Payload) ([]byte, string, error) {
	manifest := map[string]any{
		"job_id":      job.JobID,
		"kind":        payload.Kind,
		"source":      payload.Source,
		"title":       payload.Title,
		"resolution":  payload.Options.Resolution,
		"fps":         payload.Options.FPS,
		"rendered_at": time.Now().UnixMilli(),
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode capture manifest: %w", err)
	}
	return raw, "application/json", nil
}
