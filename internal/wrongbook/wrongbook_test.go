package wrongbook

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

func completedRecord(t *testing.T, id string, uploaded time.Time, qs ...model.QuestionResult) model.ExamRecord {
	t.Helper()
	rec := model.ExamRecord{ID: id, Filename: id + ".jpg", Status: model.StatusAnalyzing, UploadedAt: uploaded}
	if err := rec.Complete(&model.AnalysisResult{OverallScore: 70, Grade: "C", QuestionAnalysis: qs}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return rec
}

func TestDerive(t *testing.T) {
	day1 := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	records := []model.ExamRecord{
		completedRecord(t, "r1", day1,
			model.QuestionResult{QuestionNumber: 1, IsCorrect: true},
			model.QuestionResult{QuestionNumber: 2, IsCorrect: false, QuestionText: "2+2"},
			model.QuestionResult{QuestionNumber: 3, IsCorrect: false, QuestionText: "3*3"},
		),
		{ID: "pending", Status: model.StatusUploaded},
		{ID: "corrupt", Status: model.StatusCompleted, AnalysisResult: "{not json"},
		completedRecord(t, "r2", day2,
			model.QuestionResult{QuestionNumber: 1, IsCorrect: false, QuestionText: "x"},
		),
	}

	got := Derive(records)
	if len(got) != 3 {
		t.Fatalf("got %d wrong questions, want 3", len(got))
	}
	want := []struct {
		exam string
		num  int
		date string
	}{
		{"r1", 2, "2026-05-02"},
		{"r1", 3, "2026-05-02"},
		{"r2", 1, "2026-05-01"},
	}
	for i, w := range want {
		if got[i].ExamID != w.exam || got[i].QuestionNumber != w.num || got[i].ExamDate != w.date {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestDeriveEmpty(t *testing.T) {
	got := Derive(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Derive(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestClassifyRules(t *testing.T) {
	tests := []struct {
		name       string
		q          model.WrongQuestion
		knowledge  string
		errorType  string
		difficulty string
	}{
		{
			name:       "derivative calculation",
			q:          model.WrongQuestion{QuestionText: "求函数 f(x)=x^3 的导数", Feedback: "计算错误"},
			knowledge:  "calculus",
			errorType:  "calculation",
			difficulty: MediumLabel,
		},
		{
			name:       "geometry proof left blank",
			q:          model.WrongQuestion{QuestionText: "证明三角形ABC是等腰三角形", Feedback: "未作答"},
			knowledge:  "geometry",
			errorType:  "incomplete",
			difficulty: "hard",
		},
		{
			name:       "english grammar choice",
			q:          model.WrongQuestion{QuestionText: "Multiple choice: pick the correct tense", Feedback: "Careless slip"},
			knowledge:  "grammar",
			errorType:  "careless",
			difficulty: "easy",
		},
		{
			name:       "nothing recognizable",
			q:          model.WrongQuestion{QuestionText: "???"},
			knowledge:  OtherLabel,
			errorType:  OtherLabel,
			difficulty: MediumLabel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KnowledgePoint(tt.q); got != tt.knowledge {
				t.Errorf("KnowledgePoint = %q, want %q", got, tt.knowledge)
			}
			if got := ErrorType(tt.q); got != tt.errorType {
				t.Errorf("ErrorType = %q, want %q", got, tt.errorType)
			}
			if got := Difficulty(tt.q); got != tt.difficulty {
				t.Errorf("Difficulty = %q, want %q", got, tt.difficulty)
			}
		})
	}
}

func TestClassifyPartitions(t *testing.T) {
	wqs := []model.WrongQuestion{
		{ExamID: "a", QuestionNumber: 1, QuestionText: "解方程 2x+1=5", Feedback: "计算错误"},
		{ExamID: "a", QuestionNumber: 2, QuestionText: "求概率", Feedback: "概念不清"},
		{ExamID: "b", QuestionNumber: 1, QuestionText: "解方程 x^2=4", Feedback: "漏解, 不完整"},
	}
	c := Classify(wqs)

	for name, part := range map[string]map[string][]model.WrongQuestion{
		"knowledge":  c.ByKnowledgePoint,
		"errorType":  c.ByErrorType,
		"difficulty": c.ByDifficulty,
	} {
		total := 0
		for _, bucket := range part {
			total += len(bucket)
		}
		if total != len(wqs) {
			t.Errorf("%s partition holds %d questions, want %d", name, total, len(wqs))
		}
	}

	eq := c.ByKnowledgePoint["equation"]
	if len(eq) != 2 || eq[0].ExamID != "a" || eq[1].ExamID != "b" {
		t.Errorf("equation bucket = %+v", eq)
	}
	if c.Summary.TotalQuestions != 3 {
		t.Errorf("TotalQuestions = %d", c.Summary.TotalQuestions)
	}
	wantKP := []string{"equation", "probability"}
	if len(c.Summary.KnowledgePoints) != len(wantKP) {
		t.Fatalf("KnowledgePoints = %v, want %v", c.Summary.KnowledgePoints, wantKP)
	}
	for i := range wantKP {
		if c.Summary.KnowledgePoints[i] != wantKP[i] {
			t.Errorf("KnowledgePoints = %v, want %v", c.Summary.KnowledgePoints, wantKP)
		}
	}
}

func TestClassifyEmpty(t *testing.T) {
	c := Classify(nil)
	if c.Summary.TotalQuestions != 0 || len(c.ByErrorType) != 0 {
		t.Errorf("unexpected classification of nothing: %+v", c)
	}
	if c.Summary.KnowledgePoints == nil {
		t.Error("summary label lists should be empty, not nil")
	}
}

func TestCollectAndExportScopedByUser(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	alice, bob := int64(1), int64(2)

	add := func(user *int64, correct bool) {
		rec, err := mem.CreateRecord(ctx, model.ExamRecord{Filename: "p.jpg", UserID: user})
		if err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
		_, err = mem.UpdateRecord(ctx, rec.ID, func(r *model.ExamRecord) error {
			r.Status = model.StatusAnalyzing
			return r.Complete(&model.AnalysisResult{
				OverallScore: 80,
				Grade:        "B",
				QuestionAnalysis: []model.QuestionResult{
					{QuestionNumber: 1, IsCorrect: correct, QuestionText: "解方程"},
				},
			})
		})
		if err != nil {
			t.Fatalf("UpdateRecord: %v", err)
		}
	}
	add(&alice, false)
	add(&alice, true)
	add(&bob, false)

	mine, err := Collect(ctx, mem, &alice)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(mine) != 1 || *mine[0].UserID != alice {
		t.Errorf("alice wrong questions = %+v", mine)
	}

	all, err := Collect(ctx, mem, nil)
	if err != nil {
		t.Fatalf("Collect(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all wrong questions = %d, want 2", len(all))
	}

	exp, err := Export(ctx, mem, &alice, "alice")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exp.User != "alice" || exp.TotalPapers != 2 || exp.AverageScore != 80 {
		t.Errorf("export header = %+v", exp)
	}
	if len(exp.WrongQuestions) != 1 || exp.Classification.Summary.TotalQuestions != 1 {
		t.Errorf("export wrong questions = %+v", exp.WrongQuestions)
	}
}
