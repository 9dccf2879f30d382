package syncer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/datatypes"
)

const (
	defaultDescription = "N/A"
	defaultStatus      = "UNKNOWN"
)

// MalformedRecordError reports an upstream job record that cannot be cached.
type MalformedRecordError struct {
	ErpSystemID uint64
	Index       int
	Reason      string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("sync: malformed job record %d for erp system %d: %s", e.Index, e.ErpSystemID, e.Reason)
}

// changeDateLayouts are tried in order; zone-less layouts are read as UTC.
var changeDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// mapJob converts one raw upstream record into its cached form.
// fallback stamps records whose change date is missing or unreadable.
func mapJob(raw json.RawMessage, tenantID uint64, index int, changeField string, fallback time.Time) (*models.CachedJob, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, &MalformedRecordError{ErpSystemID: tenantID, Index: index, Reason: "record is not an object"}
	}

	id, ok := scalarString(fields["Id"])
	if !ok || strings.TrimSpace(id) == "" {
		return nil, &MalformedRecordError{ErpSystemID: tenantID, Index: index, Reason: "missing Id"}
	}

	job := &models.CachedJob{
		ErpSystemID:     tenantID,
		ID:              id,
		Description:     defaultDescription,
		ProgressStatus:  defaultStatus,
		Payload:         datatypes.JSON(bytes.Clone(raw)),
		RecordChangedAt: fallback.UTC(),
	}
	if description, okDesc := scalarString(fields["Description"]); okDesc && description != "" {
		job.Description = description
	}
	if status, okStatus := scalarString(fields["ProgressStatus"]); okStatus && status != "" {
		job.ProgressStatus = status
	}
	job.EquipmentDescription = nestedString(fields["Equipment"], "Description")
	job.ProcessFunctionDescription = nestedString(fields["ProcessFunction"], "Description")
	job.VendorID = nestedString(fields["Vendor"], "Id")

	if changed, okChanged := scalarString(fields[changeField]); okChanged {
		if parsed, okParsed := parseChangeDate(changed); okParsed {
			job.RecordChangedAt = parsed
		}
	}
	return job, nil
}

// scalarString reads a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", false
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", false
	}
	return n.String(), true
}

func nestedString(raw json.RawMessage, key string) *string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil
	}
	value, ok := scalarString(obj[key])
	if !ok {
		return nil
	}
	return &value
}

func parseChangeDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range changeDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// changedSinceFilter builds the incremental filter expression for the job list.
func changedSinceFilter(field string, since time.Time) string {
	return fmt.Sprintf("%s gt %s", field, since.UTC().Format(time.RFC3339))
}
