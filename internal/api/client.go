package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"chatvault/internal/models"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	httpTimeoutEnvKey  = "CHATVAULT_HTTP_TIMEOUT"
	apiTokenEnvKey     = "CHATVAULT_API_TOKEN"
	adminTokenEnvKey   = "CHATVAULT_ADMIN_TOKEN"
)

// Client is a simple HTTP client for the chatvault API.
type Client struct {
	baseURL string
	http    *http.Client
	// transfer carries uploads and downloads, which are bounded by the
	// caller's context rather than a fixed timeout.
	transfer   *http.Client
	authToken  string
	adminToken string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: httpTimeoutFromEnv()},
		transfer:   &http.Client{},
		authToken:  strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken: strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EventsURL returns the websocket URL of the event stream.
func (c *Client) EventsURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/events")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api_url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// AuthHeader returns the headers a websocket dial needs to pass the API
// token check.
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}
	return header
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

// FileUpload describes one multipart upload.
type FileUpload struct {
	Filename    string
	Kind        string
	ContentType string
	Body        io.Reader
}

// UploadFile streams a file to POST /v1/files.
func (c *Client) UploadFile(ctx context.Context, upload FileUpload) (FileUploadResponse, error) {
	var resp FileUploadResponse
	if upload.Body == nil {
		return resp, errors.New("upload body is required")
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(writer, upload))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", pr)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeader(req)

	httpResp, err := c.transfer.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

func writeUploadForm(writer *multipart.Writer, upload FileUpload) error {
	if upload.Kind != "" {
		if err := writer.WriteField("file_type", upload.Kind); err != nil {
			return err
		}
	}
	if upload.ContentType != "" {
		if err := writer.WriteField("content_type", upload.ContentType); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", upload.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return err
	}
	return writer.Close()
}

// GetFile fetches a blob in the inline base64 shape.
func (c *Client) GetFile(ctx context.Context, id string) (FileResponse, error) {
	var resp FileResponse
	err := c.doWith(ctx, c.transfer, http.MethodGet, "/v1/files/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// DownloadFile streams raw blob bytes to w and returns the served content type.
func (c *Client) DownloadFile(ctx context.Context, id string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+url.PathEscape(id)+"/content", nil)
	if err != nil {
		return "", err
	}
	c.setAuthHeader(req)
	resp, err := c.transfer.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

func (c *Client) CreateMessage(ctx context.Context, req MessageCreateRequest) (models.Message, error) {
	var resp models.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages", nil, req, &resp)
	return resp, err
}

func (c *Client) ListMessages(ctx context.Context) ([]models.Message, error) {
	var resp []models.Message
	err := c.do(ctx, http.MethodGet, "/v1/messages", nil, nil, &resp)
	return resp, err
}

func (c *Client) RetainMessages(ctx context.Context, req RetainRequest) (RetainResponse, error) {
	var resp RetainResponse
	err := c.do(ctx, http.MethodPost, "/v1/messages/retain", nil, req, &resp)
	return resp, err
}

func (c *Client) SaveMessage(ctx context.Context, req SaveMessageRequest) (models.SavedMessage, error) {
	var resp models.SavedMessage
	err := c.do(ctx, http.MethodPost, "/v1/saved", nil, req, &resp)
	return resp, err
}

func (c *Client) ListSaved(ctx context.Context) ([]models.SavedMessage, error) {
	var resp []models.SavedMessage
	err := c.do(ctx, http.MethodGet, "/v1/saved", nil, nil, &resp)
	return resp, err
}

func (c *Client) DeleteSaved(ctx context.Context, originalID string) (SavedDeleteResponse, error) {
	var resp SavedDeleteResponse
	err := c.do(ctx, http.MethodDelete, "/v1/saved/"+url.PathEscape(originalID), nil, nil, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/v1/login", nil, req, &resp)
	return resp, err
}

func (c *Client) Notify(ctx context.Context, req NotifyRequest) (NotifyResponse, error) {
	var resp NotifyResponse
	err := c.do(ctx, http.MethodPost, "/v1/notify", nil, req, &resp)
	return resp, err
}

func (c *Client) SweepOrphans(ctx context.Context, apply bool) (OrphanSweepResponse, error) {
	var resp OrphanSweepResponse
	query := url.Values{}
	if apply {
		query.Set("apply", "true")
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/gc-orphans", query, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	return c.doWith(ctx, c.http, method, path, query, body, out)
}

func (c *Client) doWith(ctx context.Context, client *http.Client, method, path string, query url.Values, body any, out any) error {
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
	c.setAuthHeader(req)
	if strings.HasPrefix(path, "/v1/admin/") {
		c.setAdminHeader(req)
	}

	resp, err := client.Do(req)
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

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
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
