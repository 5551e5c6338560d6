package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return ContextFor(lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Markbook" {
		t.Errorf("T(AppTitle) = %q, want 'Markbook'", got)
	}

	got = T(ctx, "ProgressUploading")
	if got != "Uploading paper..." {
		t.Errorf("T(ProgressUploading) = %q", got)
	}
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	got := T(ctx, "AppTitle")
	if got != "错题本" {
		t.Errorf("T(AppTitle) = %q, want '错题本'", got)
	}

	got = T(ctx, "ProgressAnalyzing")
	if got != "AI正在分析试卷..." {
		t.Errorf("T(ProgressAnalyzing) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "WrongQuestionsCount", 1)
	if got1 != "1 wrong question" {
		t.Errorf("Tp(WrongQuestionsCount, 1) = %q", got1)
	}

	got5 := Tp(ctx, "WrongQuestionsCount", 5)
	if got5 != "5 wrong questions" {
		t.Errorf("Tp(WrongQuestionsCount, 5) = %q", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ProgressReconnecting", map[string]any{"Attempt": 2, "Max": 4})
	if got != "Connection problem, reconnecting (attempt 2/4)..." {
		t.Errorf("Td(ProgressReconnecting) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMatch(t *testing.T) {
	initLang(t, "zh")

	tests := []struct {
		header string
		want   string
	}{
		{"", "zh"},
		{"en-US,en;q=0.9", "en"},
		{"zh-CN,zh;q=0.9,en;q=0.5", "zh"},
		{"not a header;;", "zh"},
	}
	for _, tt := range tests {
		if got := Match(tt.header, "zh"); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestMiddlewareNegotiates(t *testing.T) {
	initLang(t, "zh")

	var got string
	h := Middleware("zh")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrNoFile")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "No file uploaded" {
		t.Errorf("translated = %q, want English", got)
	}
	if rec.Header().Get("Content-Language") != "en" {
		t.Errorf("Content-Language = %q", rec.Header().Get("Content-Language"))
	}
}
