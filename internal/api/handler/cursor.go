package handler

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/replayops/recfleet/internal/scheduler"
)

func DecodeJobCursor(cursorStr string) (*scheduler.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt, jobID int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(decodedParts[1], "%d", &jobID); err != nil {
		return nil, fmt.Errorf("invalid jobID in cursor: %w", err)
	}

	return &scheduler.JobCursor{
		CreatedAt: createdAt,
		ID:        jobID,
	}, nil
}

func EncodeJobCursor(cursor *scheduler.JobCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.CreatedAt, cursor.ID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
