package models

// SupplierAccessEntry summarizes which jobs an external email can reach.
// It is derived from cached job payloads and never persisted.
type SupplierAccessEntry struct {
	Email       string   `json:"email"`
	VendorNames []string `json:"vendor_names"`
	JobCount    int      `json:"job_count"`
}
