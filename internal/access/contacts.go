package access

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/leveranciersportal/portalsync/internal/models"
)

// vendorFields holds the raw members of a job's Vendor object. Members are decoded
// one at a time so an odd type in one field never hides the contacts.
// ObjectContacts and Employee arrive either as a single object or as a list.
type vendorFields map[string]json.RawMessage

type contactShape struct {
	Employee json.RawMessage `json:"Employee"`
}

type employeeShape struct {
	EmailAddress *string `json:"EmailAddress"`
}

// ContactEmails returns every employee email reachable through Vendor.ObjectContacts,
// in payload order. Malformed structures contribute nothing.
func ContactEmails(payload []byte) []string {
	vendor, ok := parseVendor(payload)
	if !ok {
		return nil
	}
	var emails []string
	for _, rawContact := range oneOrMany(vendor["ObjectContacts"]) {
		var contact contactShape
		if errContact := json.Unmarshal(rawContact, &contact); errContact != nil {
			continue
		}
		for _, rawEmployee := range oneOrMany(contact.Employee) {
			var employee employeeShape
			if errEmployee := json.Unmarshal(rawEmployee, &employee); errEmployee != nil {
				continue
			}
			if employee.EmailAddress == nil || *employee.EmailAddress == "" {
				continue
			}
			emails = append(emails, *employee.EmailAddress)
		}
	}
	return emails
}

// VendorName returns Vendor.Name, falling back to Vendor.Description.
func VendorName(payload []byte) string {
	vendor, ok := parseVendor(payload)
	if !ok {
		return ""
	}
	if name := strings.TrimSpace(scalarText(vendor["Name"])); name != "" {
		return name
	}
	return strings.TrimSpace(scalarText(vendor["Description"]))
}

// IsAuthorized reports whether email is one of the job's contact emails.
// Comparison is exact: no trimming and no case folding.
func IsAuthorized(job *models.CachedJob, email string) bool {
	if job == nil || email == "" {
		return false
	}
	for _, candidate := range ContactEmails(job.Payload) {
		if candidate == email {
			return true
		}
	}
	return false
}

func parseVendor(payload []byte) (vendorFields, bool) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, false
	}
	var root map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(payload, &root); errUnmarshal != nil {
		return nil, false
	}
	var vendor vendorFields
	if errVendor := json.Unmarshal(root["Vendor"], &vendor); errVendor != nil || vendor == nil {
		return nil, false
	}
	return vendor, true
}

// scalarText renders a JSON string or number as text. Other types yield "".
func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch {
	case trimmed[0] == '"':
		var s string
		if errUnmarshal := json.Unmarshal(trimmed, &s); errUnmarshal != nil {
			return ""
		}
		return s
	case trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'):
		var n json.Number
		if errUnmarshal := json.Unmarshal(trimmed, &n); errUnmarshal != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

// oneOrMany normalizes a JSON object or array of objects into a list of raw elements.
func oneOrMany(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}
	case '[':
		var items []json.RawMessage
		if errUnmarshal := json.Unmarshal(trimmed, &items); errUnmarshal != nil {
			return nil
		}
		return items
	default:
		return nil
	}
}
