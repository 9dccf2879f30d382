package erp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/leveranciersportal/portalsync/internal/metrics"
	"github.com/leveranciersportal/portalsync/internal/models"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultAuthHeader     = "ApiKey"

	applicationElementHeader = "ApplicationElementId"

	statusPath      = "/api/v1/object/ProgressStatus"
	jobPath         = "/api/v1/object/Job"
	attachImagePath = "/api/v1/action/REST_AttachImageToJob"
)

// Options configures a Client.
type Options struct {
	AuthHeader           string        // Header carrying the ERP credential.
	AuthPrefix           string        // Optional value prefix, e.g. "Bearer ".
	ApplicationElementID string        // Value of the ApplicationElementId header on image uploads.
	Timeout              time.Duration // Upper bound for a single call.
	HTTPClient           *http.Client  // Optional base client; its transport is traced.
}

// Client is a stateless adapter over the REST surface of an ERP system.
// It never retries; retry policy belongs to the caller.
type Client struct {
	http                 *resty.Client
	authHeader           string
	authPrefix           string
	applicationElementID string
	timeout              time.Duration
}

// NewClient constructs an ERP client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	authHeader := strings.TrimSpace(opts.AuthHeader)
	if authHeader == "" {
		authHeader = defaultAuthHeader
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	traced := &http.Client{
		Transport:     otelhttp.NewTransport(transport),
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       timeout,
	}

	client := resty.NewWithClient(traced).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(log.WithField("component", "erp")).
		SetHeader("Accept", "application/json")

	return &Client{
		http:                 client,
		authHeader:           authHeader,
		authPrefix:           opts.AuthPrefix,
		applicationElementID: strings.TrimSpace(opts.ApplicationElementID),
		timeout:              timeout,
	}
}

// ListStatuses returns the progress statuses known to the ERP system.
func (c *Client) ListStatuses(ctx context.Context, system models.ErpSystem) ([]StatusDescriptor, error) {
	resp, err := c.do(ctx, system, "list_statuses", http.MethodGet, statusPath, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("erp: list statuses: %w", err)
	}
	statuses := make([]StatusDescriptor, 0, len(items))
	for _, item := range items {
		var status StatusDescriptor
		if errUnmarshal := json.Unmarshal(item, &status); errUnmarshal != nil {
			return nil, fmt.Errorf("erp: list statuses: decode status: %w", errUnmarshal)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ListJobs returns raw job records. Building a valid filter is the caller's job.
func (c *Client) ListJobs(ctx context.Context, system models.ErpSystem, opts ListJobsOptions) ([]json.RawMessage, error) {
	query := make(map[string]string)
	if filter := strings.TrimSpace(opts.Filter); filter != "" {
		query["$filter"] = filter
	}
	if expand := strings.TrimSpace(opts.Expand); expand != "" {
		query["$expand"] = expand
	}
	if sel := strings.TrimSpace(opts.Select); sel != "" {
		query["$select"] = sel
	}
	if opts.Top > 0 {
		query["$top"] = strconv.Itoa(opts.Top)
	}

	resp, err := c.do(ctx, system, "list_jobs", http.MethodGet, jobPath, query, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("erp: list jobs: %w", err)
	}
	return items, nil
}

// PatchJobStatus updates the progress status of a job.
func (c *Client) PatchJobStatus(ctx context.Context, system models.ErpSystem, jobID string, patch StatusPatch) (Response, error) {
	if strings.TrimSpace(jobID) == "" {
		return Response{}, fmt.Errorf("erp: patch job status: empty job id")
	}
	resp, err := c.do(ctx, system, "patch_job_status", http.MethodPatch, jobEntityPath(jobID), nil, patch, nil)
	if err != nil {
		return Response{}, err
	}
	return toResponse(resp), nil
}

// AttachImage uploads one image to a job.
func (c *Client) AttachImage(ctx context.Context, system models.ErpSystem, jobID string, image Image) (Response, error) {
	if strings.TrimSpace(jobID) == "" {
		return Response{}, fmt.Errorf("erp: attach image: empty job id")
	}
	if len(image.Data) == 0 {
		return Response{}, fmt.Errorf("erp: attach image: empty image")
	}
	payload := attachImagePayload{
		JobID:                    jobID,
		ImageFileBase64:          base64.StdEncoding.EncodeToString(image.Data),
		ImageFileBase64Extension: image.NormalizedExtension(),
	}
	var headers map[string]string
	if c.applicationElementID != "" {
		headers = map[string]string{applicationElementHeader: c.applicationElementID}
	}
	resp, err := c.do(ctx, system, "attach_image", http.MethodPost, attachImagePath, nil, payload, headers)
	if err != nil {
		return Response{}, err
	}
	return toResponse(resp), nil
}

func (c *Client) do(ctx context.Context, system models.ErpSystem, operation, method, path string, query map[string]string, body any, headers map[string]string) (*resty.Response, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("erp: client not initialized")
	}
	if !system.Configured() {
		return nil, ErrTenantNotConfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.http.R().
		SetContext(requestCtx).
		SetHeader(c.authHeader, c.authPrefix+strings.TrimSpace(system.APIKey))
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	for key, value := range headers {
		req.SetHeader(key, value)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	started := time.Now()
	resp, err := req.Execute(method, BaseURL(system.Domain)+path)
	if err != nil {
		metrics.ObserveERPRequest(operation, 0, time.Since(started))
		return nil, fmt.Errorf("erp: %s: request failed: %w", operation, err)
	}
	metrics.ObserveERPRequest(operation, resp.StatusCode(), time.Since(started))

	if !resp.IsSuccess() {
		return nil, &UpstreamError{
			Operation:  operation,
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
		}
	}
	return resp, nil
}

// BaseURL turns a configured domain into an absolute base URL; bare hosts default to https.
func BaseURL(domain string) string {
	base := strings.TrimRight(strings.TrimSpace(domain), "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base
}

// jobEntityPath addresses a single job, quoting the id the OData way.
func jobEntityPath(jobID string) string {
	quoted := strings.ReplaceAll(jobID, "'", "''")
	return jobPath + "('" + url.PathEscape(quoted) + "')"
}

func toResponse(resp *resty.Response) Response {
	out := Response{StatusCode: resp.StatusCode()}
	body := resp.Body()
	if resp.StatusCode() == http.StatusNoContent || resp.Header().Get("Content-Length") == "0" || len(body) == 0 {
		out.NoContent = true
		return out
	}
	out.Body = json.RawMessage(body)
	return out
}
