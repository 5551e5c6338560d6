package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/markbook/internal/model"
)

func TestParseAnalysis(t *testing.T) {
	t.Run("fenced reply with float scores", func(t *testing.T) {
		raw := "Here you go:\n```json\n" + `{
			"overallScore": 123.6,
			"grade": " a- ",
			"feedback": {"strengths": ["neat"], "detailedFeedback": "ok"},
			"questionAnalysis": [
				{"questionNumber": 1, "score": 4.5, "maxScore": 5, "isCorrect": false},
				{"score": 5, "maxScore": 5, "isCorrect": true}
			]
		}` + "\n```"
		res, err := ParseAnalysis(raw)
		if err != nil {
			t.Fatalf("ParseAnalysis: %v", err)
		}
		if res.OverallScore != 100 || res.MaxScore != 100 || res.Grade != "A-" {
			t.Errorf("header = %d/%d %q", res.OverallScore, res.MaxScore, res.Grade)
		}
		if len(res.QuestionAnalysis) != 2 || res.QuestionAnalysis[1].QuestionNumber != 2 {
			t.Errorf("questions = %+v", res.QuestionAnalysis)
		}
		if res.QuestionAnalysis[0].Score != 4.5 {
			t.Errorf("question score = %v", res.QuestionAnalysis[0].Score)
		}
		if res.Feedback.Improvements == nil {
			t.Error("missing improvements should normalize to an empty list")
		}
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"not json", "I could not read the paper."},
		{"missing feedback", `{"overallScore": 80, "grade": "B", "questionAnalysis": []}`},
		{"negative question number", `{"overallScore": 80, "grade": "B", "feedback": {}, "questionAnalysis": [{"questionNumber": -1}]}`},
		{"negative score", `{"overallScore": 80, "grade": "B", "feedback": {}, "questionAnalysis": [{"questionNumber": 1, "score": -2}]}`},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAnalysis(tt.raw); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{`{"questionCount": 5}`, 5, false},
		{"```json\n{\"questionCount\": 12.0}\n```", 12, false},
		{" 7 ", 7, false},
		{"many", 0, true},
		{`{"count": 3}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCount(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCount error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("upstream")
	tests := []struct {
		status int
		err    error
		want   error
	}{
		{401, base, ErrUnauthorized},
		{403, base, ErrUnauthorized},
		{429, base, ErrRateLimited},
		{503, base, ErrOverloaded},
		{529, base, ErrOverloaded},
		{500, errors.New("model is overloaded"), ErrOverloaded},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			got := Classify(tt.status, tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("original error should stay in the chain")
			}
		})
	}

	for _, status := range []int{400, 500} {
		if got := Classify(status, base); got != base {
			t.Errorf("Classify(%d) = %v, want the error unchanged", status, got)
		}
	}
	if got := Classify(429, nil); got != ErrRateLimited {
		t.Errorf("Classify(429, nil) = %v", got)
	}
}

func TestCountPattern(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"arabic dots", "1. 选择题\n2. 填空题\n3. 解答题\n", 3},
		{"decimals are not numbering", "1.5 + 2 = ?\n2.25 is the answer\n", 0},
		{"ideographic comma", "1、计算\n2、化简\n2、化简(重复)\n", 2},
		{"chinese section headers", "一、基础题\n二、应用题\n", 2},
		{"di n ti", "第1题 ...\n第2题 ...\n第十一题 ...", 3},
		{"sub-parts ignored when main numbering exists", "1. 物质\n(1) a\n(2) b\n2. 计算\n", 2},
		{"parenthesised only", "(1) a\n(2) b\n（3） c\n", 3},
		{"single question", "1. 证明题\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountPattern(tt.text); got != tt.want {
				t.Errorf("CountPattern = %d, want %d", got, tt.want)
			}
		})
	}
}

type fakeProvider struct {
	count     int
	countErr  error
	text      string
	textErr   error
	result    *model.AnalysisResult
	err       error
	textCalls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ExtractText(context.Context, Document) (string, error) {
	f.textCalls++
	return f.text, f.textErr
}

func (f *fakeProvider) Analyze(context.Context, Document) (*model.AnalysisResult, error) {
	return f.result, f.err
}

func (f *fakeProvider) AnalyzeText(context.Context, string) (*model.AnalysisResult, error) {
	return f.result, f.err
}

func (f *fakeProvider) CountQuestions(context.Context, Document) (int, error) {
	return f.count, f.countErr
}

func TestCountQuestions(t *testing.T) {
	ctx := context.Background()
	doc := Document{Data: []byte("img"), MIMEType: "image/png", Name: "p.png"}

	t.Run("provider count trusted", func(t *testing.T) {
		qc, _ := CountQuestions(ctx, &fakeProvider{count: 8}, doc, "")
		if !qc.Known() || *qc.Count != 8 || qc.Method != model.CountMethodLLM || qc.Confidence != model.ConfidenceHigh {
			t.Errorf("count = %+v", qc)
		}
	})

	t.Run("implausible count falls back to known text", func(t *testing.T) {
		p := &fakeProvider{count: 150}
		qc, _ := CountQuestions(ctx, p, doc, "1. a\n2. b\n3. c")
		if !qc.Known() || *qc.Count != 3 || qc.Method != model.CountMethodPattern || qc.Confidence != model.ConfidenceMedium {
			t.Errorf("count = %+v", qc)
		}
		if qc.Warning == "" {
			t.Error("pattern count should carry a warning")
		}
		if p.textCalls != 0 {
			t.Error("known text should not trigger a transcription")
		}
	})

	t.Run("provider error transcribes", func(t *testing.T) {
		p := &fakeProvider{countErr: ErrMalformedResponse, text: "第1题"}
		qc, err := CountQuestions(ctx, p, doc, "")
		if err != nil {
			t.Fatal(err)
		}
		if !qc.Known() || *qc.Count != 1 || qc.Confidence != model.ConfidenceLow {
			t.Errorf("count = %+v", qc)
		}
		if p.textCalls != 1 {
			t.Errorf("transcriptions = %d, want 1", p.textCalls)
		}
	})

	for _, sentinel := range []error{ErrUnauthorized, ErrRateLimited, ErrOverloaded} {
		t.Run("fails fast on "+sentinel.Error(), func(t *testing.T) {
			p := &fakeProvider{countErr: fmt.Errorf("upstream: %w", sentinel), text: "1. a\n2. b"}
			qc, err := CountQuestions(ctx, p, doc, "")
			if !errors.Is(err, sentinel) {
				t.Errorf("error = %v, want %v", err, sentinel)
			}
			if qc.Known() || p.textCalls != 0 {
				t.Errorf("count = %+v after %d transcriptions", qc, p.textCalls)
			}
		})
	}

	t.Run("nothing works", func(t *testing.T) {
		p := &fakeProvider{count: 0, textErr: errors.New("ocr down")}
		qc, _ := CountQuestions(ctx, p, doc, "")
		if qc.Known() || qc.Count != nil || qc.Method != model.CountMethodUnknown || qc.Confidence != model.ConfidenceLow {
			t.Errorf("count = %+v", qc)
		}
		if qc.Warning == "" {
			t.Error("unknown count should explain itself")
		}
	})
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(context.Context, Document) (string, error) { return f.text, f.err }

func TestOCRPipeline(t *testing.T) {
	ctx := context.Background()
	grader := &fakeProvider{result: &model.AnalysisResult{OverallScore: 90, Grade: "A-"}}
	p := NewOCRPipeline(fakeExtractor{text: "1. x=2"}, grader)

	res, err := p.Analyze(ctx, Document{Data: []byte("img"), MIMEType: "image/jpeg", Name: "a.jpg"})
	if err != nil || res.OverallScore != 90 {
		t.Fatalf("Analyze = %+v, %v", res, err)
	}

	if _, err := p.CountQuestions(ctx, Document{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("CountQuestions error = %v, want ErrUnavailable", err)
	}
	qc, err := CountQuestions(ctx, p, Document{MIMEType: "image/jpeg"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if qc.Method != model.CountMethodPattern || *qc.Count != 1 {
		t.Errorf("pipeline count = %+v", qc)
	}

	failing := NewOCRPipeline(fakeExtractor{err: ErrUnavailable}, grader)
	if _, err := failing.Analyze(ctx, Document{MIMEType: "image/png"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Analyze with failing OCR = %v", err)
	}
}

func TestPDFTextRejectsImages(t *testing.T) {
	_, err := PDFText{}.ExtractText(context.Background(), Document{Data: []byte("x"), MIMEType: "image/png", Name: "a.png"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func TestOpenAIClientAnalyzeImage(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		chatReply(t, w, `{"overallScore": 72.4, "grade": "C+", "feedback": {"strengths": [], "improvements": ["units"], "detailedFeedback": ""}, "questionAnalysis": [{"questionNumber": 1, "isCorrect": false}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL+"/v1", "key", "text-model", "vision-model", Options{Lang: "en"})
	res, err := c.Analyze(context.Background(), Document{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png", Name: "p.png"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.OverallScore != 72 || res.Grade != "C+" || res.WrongCount() != 1 {
		t.Errorf("result = %+v", res)
	}
	for _, want := range []string{"vision-model", "data:image/png;base64,", "json_object"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusServiceUnavailable, ErrOverloaded},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "test_error"}}`)
			}))
			defer srv.Close()

			c := NewOpenAI(srv.URL+"/v1", "key", "m", "", Options{})
			_, err := c.AnalyzeText(context.Background(), "1. 1+1=3")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenAIClientMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "sorry, I cannot grade this")
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL+"/v1", "key", "m", "", Options{})
	if _, err := c.AnalyzeText(context.Background(), "text"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}
