package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/workflow"
)

func TestReadPaper(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		data     []byte
		wantMIME string
	}{
		{"paper.jpg", []byte("\xff\xd8\xff\xe0 jpeg"), "image/jpeg"},
		{"paper.pdf", []byte("%PDF-1.4\n"), "application/pdf"},
		{"scan", []byte("%PDF-1.7\n"), "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			f, err := readPaper(path)
			if err != nil {
				t.Fatal(err)
			}
			if f.MIMEType != tt.wantMIME || f.Name != tt.name || !bytes.Equal(f.Data, tt.data) {
				t.Errorf("readPaper = %q %q", f.Name, f.MIMEType)
			}
		})
	}
}

func TestPrintClassification(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatal(err)
	}
	ctx := appI18n.ContextFor("en")
	wq := model.WrongQuestion{QuestionNumber: 2}
	c := model.WrongQuestionClassification{
		ByKnowledgePoint: map[string][]model.WrongQuestion{"equation": {wq}},
		ByErrorType:      map[string][]model.WrongQuestion{"calculation": {wq}},
		ByDifficulty:     map[string][]model.WrongQuestion{"medium": {wq}},
		Summary: model.ClassificationSummary{
			TotalQuestions:   1,
			KnowledgePoints:  []string{"equation"},
			ErrorTypes:       []string{"calculation"},
			DifficultyLevels: []string{"medium"},
		},
	}
	var buf bytes.Buffer
	printClassification(&buf, ctx, c)
	out := buf.String()
	for _, want := range []string{"1 wrong question", "Equations and inequalities: 1", "Calculation error: 1", "Medium: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProgressPrinterSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	show := progressPrinter(&buf)
	s := workflow.State{AppState: workflow.StateProcessing, Progress: workflow.Progress{Percent: 20, Message: "Upload complete"}}
	show(s)
	show(s)
	s.Notice = "busy"
	show(s)
	show(s)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[0] != "[ 20%] Upload complete" || lines[1] != "! busy" {
		t.Errorf("lines = %q", lines)
	}
}
