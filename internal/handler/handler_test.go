package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/llm"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type fakeProvider struct {
	count       int
	countErr    error
	text        string
	textErr     error
	result      *model.AnalysisResult
	analyzeErr  error
	analyzeCall atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ExtractText(context.Context, llm.Document) (string, error) {
	return f.text, f.textErr
}

func (f *fakeProvider) Analyze(context.Context, llm.Document) (*model.AnalysisResult, error) {
	f.analyzeCall.Add(1)
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	res := *f.result
	return &res, nil
}

func (f *fakeProvider) AnalyzeText(ctx context.Context, _ string) (*model.AnalysisResult, error) {
	return f.Analyze(ctx, llm.Document{})
}

func (f *fakeProvider) CountQuestions(context.Context, llm.Document) (int, error) {
	return f.count, f.countErr
}

func sampleResult() *model.AnalysisResult {
	return &model.AnalysisResult{
		OverallScore: 80,
		Grade:        "B",
		Feedback:     model.Feedback{DetailedFeedback: "good"},
		QuestionAnalysis: []model.QuestionResult{
			{QuestionNumber: 1, Score: 10, MaxScore: 10, IsCorrect: true},
			{QuestionNumber: 2, Score: 0, MaxScore: 10, IsCorrect: false, QuestionText: "solve the equation x+1=2"},
		},
	}
}

type testServer struct {
	*httptest.Server
	store    *store.Memory
	provider *fakeProvider
	dir      string
}

func newTestServer(t *testing.T, cfg model.ServerConfig) *testServer {
	t.Helper()
	cfg.UploadDir = t.TempDir()
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	mem := store.NewMemory()
	p := &fakeProvider{count: 3, text: "1. a\n2. b", result: sampleResult()}
	h, err := New(mem, p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: mem, provider: p, dir: cfg.UploadDir}
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, filename, contentType string, data []byte) (*http.Response, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, data)
	resp, err := http.Post(s.URL+"/api/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decode(t, resp)
}

func (s *testServer) post(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func (s *testServer) uploadPaper(t *testing.T) string {
	t.Helper()
	resp, body := s.upload(t, "paper.jpg", "image/jpeg", []byte("jpeg-bytes"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, body %v", resp.StatusCode, body)
	}
	return body["recordId"].(string)
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{MaxUploadBytes: 64})

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantStatus  int
	}{
		{"image", "paper.JPG", "image/jpeg", []byte("jpeg"), http.StatusCreated},
		{"pdf by extension", "paper.pdf", "application/octet-stream", []byte("%PDF-1.4"), http.StatusCreated},
		{"unsupported", "notes.txt", "text/plain", []byte("hello"), http.StatusBadRequest},
		{"empty", "paper.png", "image/png", nil, http.StatusBadRequest},
		{"too large", "paper.png", "image/png", bytes.Repeat([]byte("x"), 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.upload(t, tt.filename, tt.contentType, tt.data)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusCreated {
				if body["success"] != false || body["error"] == "" {
					t.Errorf("error body = %v", body)
				}
				return
			}
			id, _ := body["recordId"].(string)
			rec, err := s.store.GetRecord(context.Background(), id)
			if err != nil {
				t.Fatalf("GetRecord: %v", err)
			}
			if rec.Status != model.StatusUploaded {
				t.Errorf("status = %q", rec.Status)
			}
			if !strings.HasPrefix(body["imageUrl"].(string), "/api/uploads/") {
				t.Errorf("imageUrl = %v", body["imageUrl"])
			}
			if _, err := os.Stat(rec.FilePath); err != nil {
				t.Errorf("stored file: %v", err)
			}
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()
	resp, err := http.Post(s.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	body := decode(t, resp)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "No file uploaded" {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestCountQuestions(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})
	id := s.uploadPaper(t)

	resp, body := s.post(t, "/api/records/"+id+"/count-questions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["questionCount"] != float64(3) || body["method"] != "llm" || body["confidence"] != "high" {
		t.Errorf("body = %v", body)
	}

	s.provider.countErr = llm.ErrMalformedResponse
	s.provider.text = ""
	resp, body = s.post(t, "/api/records/"+id+"/count-questions")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["success"] != false || body["questionCount"] != nil || body["method"] != "unknown" {
		t.Errorf("body = %v", body)
	}
}

func TestCountQuestionsProviderErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{llm.ErrUnauthorized, http.StatusUnauthorized},
		{llm.ErrRateLimited, http.StatusTooManyRequests},
		{llm.ErrOverloaded, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer(t, model.ServerConfig{})
			id := s.uploadPaper(t)
			s.provider.countErr = fmt.Errorf("upstream: %w", tt.err)
			s.provider.text = "1. a\n2. b"

			resp, body := s.post(t, "/api/records/"+id+"/count-questions")
			if resp.StatusCode != tt.status || body["success"] != false || body["method"] != nil {
				t.Errorf("status = %d, body %v", resp.StatusCode, body)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})
	id := s.uploadPaper(t)

	resp, body := s.post(t, "/api/records/"+id+"/analyze")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	result := body["result"].(map[string]any)
	if result["overallScore"] != float64(80) || result["maxScore"] != float64(100) {
		t.Errorf("result = %v", result)
	}
	rec, _ := s.store.GetRecord(context.Background(), id)
	if rec.Status != model.StatusCompleted || rec.Score == nil || *rec.Score != 80 {
		t.Errorf("record = %+v", rec)
	}

	// A completed record is served from storage.
	resp, _ = s.post(t, "/api/records/"+id+"/analyze")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second analyze status = %d", resp.StatusCode)
	}
	if n := s.provider.analyzeCall.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestAnalyzeCleanupUploads(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{CleanupUploads: true})
	id := s.uploadPaper(t)
	rec, _ := s.store.GetRecord(context.Background(), id)

	if resp, body := s.post(t, "/api/records/"+id+"/analyze"); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if _, err := os.Stat(rec.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("upload still present: %v", err)
	}
}

func TestAnalyzeProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", llm.Classify(429, errors.New("slow down")), http.StatusTooManyRequests},
		{"overloaded", llm.Classify(503, errors.New("busy")), http.StatusServiceUnavailable},
		{"unauthorized", llm.Classify(401, errors.New("bad key")), http.StatusUnauthorized},
		{"malformed", fmt.Errorf("%w: junk", llm.ErrMalformedResponse), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, model.ServerConfig{})
			id := s.uploadPaper(t)
			s.provider.analyzeErr = tt.err

			resp, body := s.post(t, "/api/records/"+id+"/analyze")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["success"] != false || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
			rec, _ := s.store.GetRecord(context.Background(), id)
			if rec.Status != model.StatusError {
				t.Errorf("record status = %q, want error", rec.Status)
			}

			s.provider.analyzeErr = nil
			if resp, _ := s.post(t, "/api/records/"+id+"/analyze"); resp.StatusCode != http.StatusOK {
				t.Errorf("retry status = %d", resp.StatusCode)
			}
		})
	}
}

func TestOCR(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})
	id := s.uploadPaper(t)

	resp, body := s.post(t, "/api/records/"+id+"/ocr")
	if resp.StatusCode != http.StatusOK || body["text"] != "1. a\n2. b" {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	rec, _ := s.store.GetRecord(context.Background(), id)
	if rec.Status != model.StatusOCRCompleted || rec.OriginalText == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetAndListRecords(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})

	resp, body := func() (*http.Response, map[string]any) {
		resp, err := http.Get(s.URL + "/api/records/missing")
		if err != nil {
			t.Fatal(err)
		}
		return resp, decode(t, resp)
	}()
	if resp.StatusCode != http.StatusNotFound || body["error"] != "Record not found" {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}

	id := s.uploadPaper(t)
	s.uploadPaper(t)
	s.post(t, "/api/records/"+id+"/analyze")

	resp, err := http.Get(s.URL + "/api/records/" + id)
	if err != nil {
		t.Fatal(err)
	}
	body = decode(t, resp)
	record := body["record"].(map[string]any)
	if record["status"] != "completed" || record["analysisResult"] == nil {
		t.Errorf("record = %v", record)
	}

	resp, err = http.Get(s.URL + "/api/records")
	if err != nil {
		t.Fatal(err)
	}
	body = decode(t, resp)
	if records := body["records"].([]any); len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestWrongQuestions(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})

	resp, err := http.Get(s.URL + "/api/wrong-questions")
	if err != nil {
		t.Fatal(err)
	}
	var empty []model.WrongQuestion
	if err := json.NewDecoder(resp.Body).Decode(&empty); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty notebook = %v, want []", empty)
	}

	id := s.uploadPaper(t)
	s.post(t, "/api/records/"+id+"/analyze")

	resp, err = http.Get(s.URL + "/api/wrong-questions")
	if err != nil {
		t.Fatal(err)
	}
	var wqs []model.WrongQuestion
	if err := json.NewDecoder(resp.Body).Decode(&wqs); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(wqs) != 1 || wqs[0].QuestionNumber != 2 || wqs[0].ExamID != id {
		t.Fatalf("wrong questions = %+v", wqs)
	}

	resp, err = http.Get(s.URL + "/api/wrong-questions/classified")
	if err != nil {
		t.Fatal(err)
	}
	var classified model.WrongQuestionClassification
	if err := json.NewDecoder(resp.Body).Decode(&classified); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if classified.Summary.TotalQuestions != 1 || len(classified.ByKnowledgePoint["equation"]) != 1 {
		t.Errorf("classified = %+v", classified)
	}
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{RequireAuth: true})
	client := s.Client()
	jar := newJar()
	client.Jar = jar

	resp, err := client.Get(s.URL + "/api/records")
	if err != nil {
		t.Fatal(err)
	}
	if body := decode(t, resp); resp.StatusCode != http.StatusUnauthorized || body["error"] != "Login required" {
		t.Fatalf("anonymous status = %d, body %v", resp.StatusCode, body)
	}

	resp, err = client.Post(s.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"secret1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if body := decode(t, resp); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body %v", resp.StatusCode, body)
	}

	resp, err = client.Post(s.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"secret1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, resp); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}

	resp, err = client.Get(s.URL + "/api/auth/me")
	if err != nil {
		t.Fatal(err)
	}
	body := decode(t, resp)
	if user, _ := body["user"].(map[string]any); user == nil || user["username"] != "alice" {
		t.Errorf("me body = %v", body)
	}

	resp, err = client.Get(s.URL + "/api/records")
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, resp); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}

	resp, err = client.Get(s.URL + "/api/admin/records")
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, resp); resp.StatusCode != http.StatusForbidden {
		t.Errorf("admin status = %d, want 403", resp.StatusCode)
	}

	resp, err = client.Post(s.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	decode(t, resp)
	resp, err = client.Get(s.URL + "/api/auth/me")
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, resp); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{})
	resp, err := http.Post(s.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"bob","password":"secret1"}`))
	if err != nil {
		t.Fatal(err)
	}
	decode(t, resp)

	resp, err = http.Post(s.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"bob","password":"wrong-pass"}`))
	if err != nil {
		t.Fatal(err)
	}
	if body := decode(t, resp); resp.StatusCode != http.StatusUnauthorized || body["error"] != "Invalid username or password" {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}

	resp, err = http.Post(s.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"x","password":"1"}`))
	if err != nil {
		t.Fatal(err)
	}
	body := decode(t, resp)
	fields, _ := body["error"].(map[string]any)
	if resp.StatusCode != http.StatusBadRequest || fields["username"] == nil || fields["password"] == nil {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestRecordsScopedToOwner(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{RequireAuth: true})
	ctx := context.Background()
	other := int64(99)
	rec, err := s.store.CreateRecord(ctx, model.ExamRecord{Filename: "x.jpg", UserID: &other})
	if err != nil {
		t.Fatal(err)
	}

	client := s.Client()
	client.Jar = newJar()
	resp, err := client.Post(s.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"carol","password":"secret1"}`))
	if err != nil {
		t.Fatal(err)
	}
	decode(t, resp)

	resp, err = client.Get(s.URL + "/api/records/" + rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, resp); resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign record status = %d, want 404", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, model.ServerConfig{RateLimit: 0.001, RateBurst: 1})
	id := s.uploadPaper(t)

	if resp, _ := s.post(t, "/api/records/"+id+"/count-questions"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, body := s.post(t, "/api/records/"+id+"/count-questions")
	if resp.StatusCode != http.StatusTooManyRequests || body["error"] != "Too many requests, please slow down" {
		t.Errorf("second status = %d, body %v", resp.StatusCode, body)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 100 {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func newJar() http.CookieJar {
	jar, _ := cookiejar.New(nil)
	return jar
}
