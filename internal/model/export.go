package model

// NotebookExport is the JSON document written by the export command.
type NotebookExport struct {
	ExportedAt     string                      `json:"exported_at"`
	User           string                      `json:"user,omitempty"`
	TotalPapers    int                         `json:"total_papers"`
	AverageScore   float64                     `json:"average_score"`
	Papers         []RecordSummary             `json:"papers"`
	WrongQuestions []WrongQuestion             `json:"wrong_questions"`
	Classification WrongQuestionClassification `json:"classification"`
}
