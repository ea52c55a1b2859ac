package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Ordering(t *testing.T) {
	ordered := []Status{
		StatusPending,
		StatusAssigned,
		StatusRecording,
		StatusUploading,
		StatusSuccessful,
		StatusFailed,
		StatusDeleted,
	}

	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
	}
}

func TestStatus_Finished(t *testing.T) {
	tests := []struct {
		status   Status
		finished bool
	}{
		{StatusPending, false},
		{StatusAssigned, false},
		{StatusRecording, false},
		{StatusUploading, false},
		{StatusSuccessful, true},
		{StatusFailed, true},
		{StatusDeleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.finished, tt.status.Finished())
		})
	}
}

func TestStatus_Active(t *testing.T) {
	active := []Status{StatusAssigned, StatusRecording, StatusUploading}
	inactive := []Status{StatusPending, StatusSuccessful, StatusFailed, StatusDeleted}

	for _, s := range active {
		assert.True(t, s.Active(), s.String())
	}
	for _, s := range inactive {
		assert.False(t, s.Active(), s.String())
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "pending", input: "pending", want: StatusPending},
		{name: "uploading", input: "uploading", want: StatusUploading},
		{name: "deleted", input: "deleted", want: StatusDeleted},
		{name: "unknown name", input: "exploded", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase rejected", input: "PENDING", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_StringRoundTrip(t *testing.T) {
	for s := StatusPending; s <= StatusDeleted; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestWorker_Online(t *testing.T) {
	now := NowMillis()
	tolerance := 30 * time.Second

	tests := []struct {
		name     string
		lastPoll int64
		online   bool
	}{
		{name: "just polled", lastPoll: now, online: true},
		{name: "within tolerance", lastPoll: now - 29_000, online: true},
		{name: "exactly at tolerance", lastPoll: now - 30_000, online: true},
		{name: "past tolerance", lastPoll: now - 30_001, online: false},
		{name: "never polled", lastPoll: 0, online: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Worker{ID: "rec-1", LastPoll: tt.lastPoll}
			assert.Equal(t, tt.online, w.Online(now, tolerance))
		})
	}
}
