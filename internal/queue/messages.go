package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator"

	"github.com/OFFIS-RIT/relannis/pkg/common"
)

var validate = validator.New()

type ImportMessage struct {
	Path      string `json:"path" validate:"required"`
	Overwrite bool   `json:"overwrite"`
	Alias     string `json:"alias"`
}

type DeleteMessage struct {
	Names []string `json:"names" validate:"required,min=1,dive,required"`
}

type ImportedEvent struct {
	CorpusID   int64  `json:"corpus_id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Nodes      int64  `json:"nodes"`
	MediaFiles int    `json:"media_files"`
	DurationMs int64  `json:"duration_ms"`
}

type ImportFailedEvent struct {
	Path  string `json:"path"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type DeletedEvent struct {
	Names []string `json:"names"`
	IDs   []int64  `json:"ids"`
}

// decode unmarshals and validates a queue message. Malformed messages are
// reported as format errors so they go straight to the dead-letter queue.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &common.FormatError{Path: "message", Reason: err.Error()}
	}
	if err := validate.Struct(v); err != nil {
		return &common.FormatError{Path: "message", Reason: err.Error()}
	}
	return nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}
