// Package acquire defines the payload schema shared by the content
// acquisition collaborators (replay downloads, post search, metadata
// scraping). The scheduling core treats the payload as opaque bytes; only
// this package and the recorder agents interpret it.
package acquire

import (
	"encoding/json"
	"fmt"

	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// Kind identifies which collaborator produced the job.
type Kind string

const (
	// KindReplay records from a downloaded replay file.
	KindReplay Kind = "replay"
	// KindPost records from a capture reference found via post search.
	KindPost Kind = "post"
	// KindMetadata records from a scraped match metadata reference.
	KindMetadata Kind = "metadata"
)

// RenderOptions tune the capture the recorder produces.
type RenderOptions struct {
	Resolution string `json:"resolution,omitempty"`
	FPS        int    `json:"fps,omitempty"`
}

// Payload is the job-type-specific data carried by a job. Immutable after
// the job is created.
type Payload struct {
	Kind    Kind          `json:"kind"`
	Source  string        `json:"source"`
	Title   string        `json:"title,omitempty"`
	Options RenderOptions `json:"options,omitempty"`
}

// Validate rejects malformed submissions before a job row is created.
func (p *Payload) Validate() error {
	switch p.Kind {
	case KindReplay, KindPost, KindMetadata:
	default:
		return fmt.Errorf("%w: unknown payload kind %q", domain.ErrInvalidInput, p.Kind)
	}
	if p.Source == "" {
		return fmt.Errorf("%w: payload source is required", domain.ErrInvalidInput)
	}
	if p.Options.FPS < 0 {
		return fmt.Errorf("%w: fps must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

// Parse decodes and validates a raw job payload.
func Parse(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: malformed payload: %v", domain.ErrInvalidInput, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Encode serializes a payload for job creation.
func (p *Payload) Encode() (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return raw, nil
}
