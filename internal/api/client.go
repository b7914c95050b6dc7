package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	httpTimeoutEnvKey  = "TALLY_HTTP_TIMEOUT"
	apiTokenEnvKey     = "TALLY_API_TOKEN"
	adminTokenEnvKey   = "TALLY_ADMIN_TOKEN"
	actorIDEnvKey      = "TALLY_ACTOR_ID"
)

// Client is a simple HTTP client for the tally API.
type Client struct {
	baseURL    string
	http       *http.Client
	authToken  string
	adminToken string
	actorID    string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken:  strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken: strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
		actorID:    strings.TrimSpace(os.Getenv(actorIDEnvKey)),
	}
}

// SetActor sets the X-Actor-ID sent with every request.
func (c *Client) SetActor(actorID string) {
	c.actorID = strings.TrimSpace(actorID)
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) GetInfo(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &resp)
	return resp, err
}

func (c *Client) CreateExpense(ctx context.Context, req ExpenseCreateRequest) (ExpenseResponse, error) {
	var resp ExpenseResponse
	err := c.do(ctx, http.MethodPost, "/v1/expenses", nil, req, &resp)
	return resp, err
}

func (c *Client) ListExpenses(ctx context.Context, query url.Values) ([]ExpenseResponse, error) {
	var resp []ExpenseResponse
	err := c.do(ctx, http.MethodGet, "/v1/expenses", query, nil, &resp)
	return resp, err
}

func (c *Client) GetExpense(ctx context.Context, id string) (ExpenseResponse, error) {
	var resp ExpenseResponse
	err := c.do(ctx, http.MethodGet, "/v1/expenses/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) UpdateExpense(ctx context.Context, id string, req ExpenseUpdateRequest) (ExpenseResponse, error) {
	var resp ExpenseResponse
	err := c.do(ctx, http.MethodPatch, "/v1/expenses/"+url.PathEscape(id), nil, req, &resp)
	return resp, err
}

// DeleteExpense deletes an expense with all of its attachments.
func (c *Client) DeleteExpense(ctx context.Context, id string) (DeleteResponse, error) {
	var resp DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/v1/expenses/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) ListAttachments(ctx context.Context, expenseID string) ([]AttachmentResponse, error) {
	var resp []AttachmentResponse
	err := c.do(ctx, http.MethodGet, expenseAttachmentsPath(expenseID), nil, nil, &resp)
	return resp, err
}

// UploadAttachments streams files as multipart "file" parts. With a single
// file and several names, every name becomes an attachment sharing the
// uploaded blob.
func (c *Client) UploadAttachments(ctx context.Context, expenseID string, names []string, files []UploadFile) ([]AttachmentResponse, error) {
	var resp []AttachmentResponse
	if len(files) == 0 {
		return resp, fmt.Errorf("at least one file is required")
	}

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		writer.CloseWithError(writeUploadForm(form, names, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+expenseAttachmentsPath(expenseID), body)
	if err != nil {
		_ = body.Close()
		return resp, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	err = c.send(req, &resp)
	_ = body.Close()
	return resp, err
}

func writeUploadForm(form *multipart.Writer, names []string, files []UploadFile) error {
	for _, name := range names {
		if err := form.WriteField("name", name); err != nil {
			return err
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "file",
			"filename": file.Filename,
		}))
		mediaType := file.MediaType
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		header.Set("Content-Type", mediaType)
		part, err := form.CreatePart(header)
		if err != nil {
			return err
		}
		if file.Content != nil {
			if _, err := io.Copy(part, file.Content); err != nil {
				return err
			}
		}
	}
	return form.Close()
}

// CreateAttachmentRef attaches an existing blob, or creates a link attachment.
func (c *Client) CreateAttachmentRef(ctx context.Context, expenseID string, req AttachmentRefRequest) (AttachmentResponse, error) {
	var resp AttachmentResponse
	err := c.do(ctx, http.MethodPost, expenseAttachmentsPath(expenseID)+"/refs", nil, req, &resp)
	return resp, err
}

func (c *Client) CreateAttachmentBatch(ctx context.Context, expenseID string, req AttachmentBatchRequest) ([]AttachmentResponse, error) {
	var resp []AttachmentResponse
	err := c.do(ctx, http.MethodPost, expenseAttachmentsPath(expenseID)+"/batch", nil, req, &resp)
	return resp, err
}

// DeleteAttachments removes the listed attachments of an expense, or all of
// them when ids is empty.
func (c *Client) DeleteAttachments(ctx context.Context, expenseID string, ids []string) (DeleteResponse, error) {
	var resp DeleteResponse
	query := url.Values{}
	if len(ids) > 0 {
		query.Set("ids", strings.Join(ids, ","))
	}
	err := c.do(ctx, http.MethodDelete, expenseAttachmentsPath(expenseID), query, nil, &resp)
	return resp, err
}

func (c *Client) GetAttachment(ctx context.Context, id string) (AttachmentResponse, error) {
	var resp AttachmentResponse
	err := c.do(ctx, http.MethodGet, "/v1/attachments/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) RenameAttachment(ctx context.Context, id, name string) (AttachmentResponse, error) {
	var resp AttachmentResponse
	err := c.do(ctx, http.MethodPatch, "/v1/attachments/"+url.PathEscape(id), nil, AttachmentRenameRequest{Name: name}, &resp)
	return resp, err
}

func (c *Client) DeleteAttachment(ctx context.Context, id string) (DeleteResponse, error) {
	var resp DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/v1/attachments/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// DownloadAttachment streams attachment bytes to w and returns the served
// content type.
func (c *Client) DownloadAttachment(ctx context.Context, id string, w io.Writer) (string, error) {
	return c.download(ctx, "/v1/attachments/"+url.PathEscape(id)+"/download", w)
}

// DownloadThumbnail streams a preview variant such as "outside-360.jpg".
func (c *Client) DownloadThumbnail(ctx context.Context, id, file string, w io.Writer) (string, error) {
	return c.download(ctx, "/v1/attachments/"+url.PathEscape(id)+"/thumbnails/"+url.PathEscape(file), w)
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return resp.Header.Get("Content-Type"), err
}

// AdminGCBlobs runs a blob sweep. A non-dry run needs confirm.
func (c *Client) AdminGCBlobs(ctx context.Context, req BlobGCRequest, confirm bool) (BlobGCResponse, error) {
	var resp BlobGCResponse
	payload, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/admin/gc-blobs", bytes.NewReader(payload))
	if err != nil {
		return resp, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if confirm {
		httpReq.Header.Set("X-Confirm", "true")
	}
	c.setAdminHeader(httpReq)
	err = c.send(httpReq, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = "api error: " + resp.Status
	return apiErr
}

func expenseAttachmentsPath(expenseID string) string {
	return "/v1/expenses/" + url.PathEscape(expenseID) + "/attachments"
}

func (c *Client) setHeaders(req *http.Request) {
	if req == nil {
		return
	}
	if c.authToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
	}
}

func (c *Client) setAdminHeader(req *http.Request) {
	if c.adminToken == "" || req == nil {
		return
	}
	req.Header.Set("X-Admin-Token", c.adminToken)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
