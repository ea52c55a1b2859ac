package acquire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayops/recfleet/internal/scheduler/domain"
)

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{
			name:    "valid replay",
			payload: Payload{Kind: KindReplay, Source: "https://cdn.example.com/match-42.replay"},
		},
		{
			name:    "valid post with options",
			payload: Payload{Kind: KindPost, Source: "post:991200", Options: RenderOptions{Resolution: "1080p", FPS: 60}},
		},
		{
			name:    "valid metadata",
			payload: Payload{Kind: KindMetadata, Source: "match:8812"},
		},
		{
			name:    "unknown kind",
			payload: Payload{Kind: "torrent", Source: "x"},
			wantErr: true,
		},
		{
			name:    "missing source",
			payload: Payload{Kind: KindReplay},
			wantErr: true,
		},
		{
			name:    "negative fps",
			payload: Payload{Kind: KindReplay, Source: "x", Options: RenderOptions{FPS: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	p, err := Parse(json.RawMessage(`{"kind":"replay","source":"match-42.replay","title":"Grand finals"}`))
	require.NoError(t, err)
	assert.Equal(t, KindReplay, p.Kind)
	assert.Equal(t, "Grand finals", p.Title)

	_, err = Parse(json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Parse(json.RawMessage(`{"kind":"replay"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPayload_EncodeRoundTrip(t *testing.T) {
	in := Payload{Kind: KindPost, Source: "post:7", Options: RenderOptions{Resolution: "720p", FPS: 30}}
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	bad := Payload{Kind: "nope", Source: "x"}
	_, err = bad.Encode()
	assert.Error(t, err)
}
