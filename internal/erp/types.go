package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StatusDescriptor is one ProgressStatus record of an ERP system.
// Records selected with only Name and Description carry an empty ID.
type StatusDescriptor struct {
	ID          string `json:"Id"`
	Name        string `json:"Name,omitempty"`
	Description string `json:"Description,omitempty"`
}

// UnmarshalJSON accepts string or numeric values; other shapes decode as empty.
func (s *StatusDescriptor) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*s = StatusDescriptor{
		ID:          scalarText(fields["Id"]),
		Name:        scalarText(fields["Name"]),
		Description: scalarText(fields["Description"]),
	}
	return nil
}

func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return ""
		}
		return text
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return ""
	}
	return number.String()
}

// ListJobsOptions maps onto the OData-style query parameters of the job list endpoint.
type ListJobsOptions struct {
	Filter string
	Expand string
	Select string
	Top    int
}

// StatusPatch is the body of a job status update.
type StatusPatch struct {
	ProgressStatus      string `json:"ProgressStatus"`
	StatusCompletedDate string `json:"StatusCompletedDate"`
	FeedbackText        string `json:"FeedbackText,omitempty"`
}

// NewStatusPatch builds a patch stamped with completedAt in UTC ISO-8601.
func NewStatusPatch(status, feedback string, completedAt time.Time) StatusPatch {
	return StatusPatch{
		ProgressStatus:      status,
		StatusCompletedDate: completedAt.UTC().Format(time.RFC3339),
		FeedbackText:        strings.TrimSpace(feedback),
	}
}

// Image is a single image attachment.
type Image struct {
	Data      []byte
	Extension string
}

// NormalizedExtension returns the extension without a leading dot, lower-cased.
func (i Image) NormalizedExtension() string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(i.Extension), "."))
}

// attachImagePayload is the body of the REST_AttachImageToJob action.
type attachImagePayload struct {
	JobID                    string `json:"JobId"`
	ImageFileBase64          string `json:"ImageFileBase64"`
	ImageFileBase64Extension string `json:"ImageFileBase64Extension"`
}

// Response is the outcome of a successful mutating call.
// NoContent distinguishes "nothing returned" from an empty JSON payload.
type Response struct {
	StatusCode int
	NoContent  bool
	Body       json.RawMessage
}

// decodeItems accepts a bare JSON array or an envelope carrying it under "items" or "value".
func decodeItems(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Items json.RawMessage `json:"items"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode list envelope: %w", err)
	}
	raw := envelope.Items
	if len(raw) == 0 {
		raw = envelope.Value
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode list envelope: missing items")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode list items: %w", err)
	}
	return items, nil
}
