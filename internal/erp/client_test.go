package erp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leveranciersportal/portalsync/internal/models"
)

func testSystem(url string) models.ErpSystem {
	return models.ErpSystem{ID: 1, Name: "Tenant", Domain: url, APIKey: "secret-key"}
}

func TestListJobs_SendsCredentialAndQuery(t *testing.T) {
	var gotKey, gotFilter, gotExpand, gotTop string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/object/Job" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotKey = r.Header.Get("ApiKey")
		gotFilter = r.URL.Query().Get("$filter")
		gotExpand = r.URL.Query().Get("$expand")
		gotTop = r.URL.Query().Get("$top")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"Id":"J-1"},{"Id":"J-2"}]}`))
	}))
	defer server.Close()

	client := NewClient(Options{Timeout: 5 * time.Second})
	items, err := client.ListJobs(context.Background(), testSystem(server.URL), ListJobsOptions{
		Filter: "RecordChangeDate gt 2024-01-01T00:00:00Z",
		Expand: "Vendor/ObjectContacts/Employee",
		Top:    50,
	})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if gotKey != "secret-key" {
		t.Fatalf("unexpected credential header %q", gotKey)
	}
	if gotFilter != "RecordChangeDate gt 2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected filter %q", gotFilter)
	}
	if gotExpand != "Vendor/ObjectContacts/Employee" {
		t.Fatalf("unexpected expand %q", gotExpand)
	}
	if gotTop != "50" {
		t.Fatalf("unexpected top %q", gotTop)
	}
}

func TestListJobs_AcceptsBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"Id":"A"}]`))
	}))
	defer server.Close()

	items, err := NewClient(Options{}).ListJobs(context.Background(), testSystem(server.URL), ListJobsOptions{})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestListStatuses_ValueEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/object/ProgressStatus" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"value":[{"Id":"OPEN","Description":"Open"},{"Id":"CLOSED"}]}`))
	}))
	defer server.Close()

	statuses, err := NewClient(Options{}).ListStatuses(context.Background(), testSystem(server.URL))
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if len(statuses) != 2 || statuses[0].ID != "OPEN" || statuses[0].Description != "Open" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestListStatuses_NumericAndNameOnlyRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"Id":42,"Description":"Waiting"},{"Name":"DONE","Description":"Done"},{"Id":{"nested":true},"Name":7}]`))
	}))
	defer server.Close()

	statuses, err := NewClient(Options{}).ListStatuses(context.Background(), testSystem(server.URL))
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	want := []StatusDescriptor{
		{ID: "42", Description: "Waiting"},
		{Name: "DONE", Description: "Done"},
		{Name: "7"},
	}
	if len(statuses) != len(want) {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status %d = %+v, want %+v", i, statuses[i], want[i])
		}
	}
}

func TestPatchJobStatus_NoContent(t *testing.T) {
	var gotPath, gotAuth string
	var patch StatusPatch
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &patch)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(Options{AuthHeader: "Authorization", AuthPrefix: "Bearer "})
	completed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	resp, err := client.PatchJobStatus(context.Background(), testSystem(server.URL), "J-1", NewStatusPatch("DONE", " looks good ", completed))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !resp.NoContent {
		t.Fatalf("expected no content response")
	}
	if gotPath != "/api/v1/object/Job('J-1')" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if patch.ProgressStatus != "DONE" || patch.FeedbackText != "looks good" || patch.StatusCompletedDate != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected patch body: %+v", patch)
	}
}

func TestAttachImage_EncodesPayload(t *testing.T) {
	var payload attachImagePayload
	var gotElement string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/action/REST_AttachImageToJob" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotElement = r.Header.Get("ApplicationElementId")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(Options{ApplicationElementID: "ELEMENT"})
	resp, err := client.AttachImage(context.Background(), testSystem(server.URL), "J-9", Image{Data: []byte("png-bytes"), Extension: ".PNG"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if resp.NoContent || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotElement != "ELEMENT" {
		t.Fatalf("unexpected element header %q", gotElement)
	}
	if payload.JobID != "J-9" || payload.ImageFileBase64Extension != "png" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	decoded, errDecode := base64.StdEncoding.DecodeString(payload.ImageFileBase64)
	if errDecode != nil || string(decoded) != "png-bytes" {
		t.Fatalf("unexpected image data %q", payload.ImageFileBase64)
	}
}

func TestClient_UpstreamErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	_, err := NewClient(Options{}).ListJobs(context.Background(), testSystem(server.URL), ListJobsOptions{})
	upstream, ok := AsUpstreamError(err)
	if !ok {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.StatusCode != http.StatusInternalServerError || string(upstream.Body) != "boom" {
		t.Fatalf("unexpected upstream error: %+v", upstream)
	}
}

func TestClient_UnconfiguredTenant(t *testing.T) {
	_, err := NewClient(Options{}).ListStatuses(context.Background(), models.ErpSystem{ID: 1, Domain: "erp.example.com"})
	if !errors.Is(err, ErrTenantNotConfigured) {
		t.Fatalf("expected ErrTenantNotConfigured, got %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"erp.example.com":          "https://erp.example.com",
		"erp.example.com/":         "https://erp.example.com",
		"http://localhost:8080":    "http://localhost:8080",
		" https://erp.example.com": "https://erp.example.com",
	}
	for in, want := range cases {
		if got := BaseURL(in); got != want {
			t.Fatalf("BaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
