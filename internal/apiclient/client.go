// Package apiclient talks to the markbook HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/pavelanni/markbook/internal/model"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the markbook API. It keeps session cookies between calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	lang       string
}

// New creates a client for the server at baseURL. A nil httpClient gets a
// default client with a cookie jar.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// WithLanguage sets the Accept-Language sent with every request.
func (c *Client) WithLanguage(lang string) *Client {
	c.lang = lang
	return c
}

// UploadResult is the reply to a successful upload.
type UploadResult struct {
	RecordID string `json:"recordId"`
	ImageURL string `json:"imageUrl"`
	Message  string `json:"message"`
}

// Upload sends a file as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename, mimeType string, data []byte) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close form: %w", err)
	}

	var out UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/upload", &buf, mw.FormDataContentType(), &out); err != nil {
		return UploadResult{}, err
	}
	if out.RecordID == "" {
		return UploadResult{}, errors.New("upload reply has no record id")
	}
	return out, nil
}

// CountQuestions asks the server how many questions a record holds. When the
// server cannot tell (422) the returned count is unknown and err is an
// *APIError carrying the server's warning.
func (c *Client) CountQuestions(ctx context.Context, id string) (model.QuestionCount, error) {
	var out model.QuestionCount
	err := c.do(ctx, http.MethodPost, "/api/records/"+url.PathEscape(id)+"/count-questions", nil, "", &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return model.QuestionCount{
				Method:     model.CountMethodUnknown,
				Confidence: model.ConfidenceLow,
				Warning:    apiErr.Message,
			}, err
		}
		return model.QuestionCount{}, err
	}
	return out, nil
}

// ExtractText runs OCR on a record and returns the transcription.
func (c *Client) ExtractText(ctx context.Context, id string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/records/"+url.PathEscape(id)+"/ocr", nil, "", &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Analyze grades a record.
func (c *Client) Analyze(ctx context.Context, id string) (*model.AnalysisResult, error) {
	var out struct {
		Result *model.AnalysisResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/records/"+url.PathEscape(id)+"/analyze", nil, "", &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, errors.New("analysis reply has no result")
	}
	return out.Result, nil
}

func (c *Client) GetRecord(ctx context.Context, id string) (*model.RecordView, error) {
	var out struct {
		Record model.RecordView `json:"record"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/records/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Record, nil
}

func (c *Client) ListRecords(ctx context.Context) ([]model.RecordSummary, error) {
	var out struct {
		Records []model.RecordSummary `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/records", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) WrongQuestions(ctx context.Context) ([]model.WrongQuestion, error) {
	var out []model.WrongQuestion
	if err := c.do(ctx, http.MethodGet, "/api/wrong-questions", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClassifiedWrongQuestions(ctx context.Context) (model.WrongQuestionClassification, error) {
	var out model.WrongQuestionClassification
	err := c.do(ctx, http.MethodGet, "/api/wrong-questions/classified", nil, "", &out)
	return out, err
}

// Login starts a cookie session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/auth/login", bytes.NewReader(body), "application/json", nil)
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/healthz", nil, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s reply: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", path, err)
	}
	return nil
}

// errorMessage pulls a human message out of an error body. The "error" field
// may be a string or a map of field errors; plain-text bodies are used as is.
func errorMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Warning string          `json:"warning"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	var s string
	if len(env.Error) > 0 && json.Unmarshal(env.Error, &s) == nil && s != "" {
		return s
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Warning
}
