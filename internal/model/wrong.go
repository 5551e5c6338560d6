package model

// WrongQuestion is a question the provider marked incorrect, tagged with the
// paper it came from.
type WrongQuestion struct {
	QuestionNumber int     `json:"questionNumber"`
	QuestionText   string  `json:"questionText"`
	UserAnswer     string  `json:"userAnswer"`
	CorrectAnswer  string  `json:"correctAnswer"`
	Explanation    string  `json:"explanation"`
	Feedback       string  `json:"feedback"`
	Score          float64 `json:"score"`
	MaxScore       float64 `json:"maxScore"`
	ExamID         string  `json:"examId"`
	ExamDate       string  `json:"examDate"`
	UserID         *int64  `json:"userId,omitempty"`
}

// ClassificationSummary counts the classified set and lists the labels in use.
type ClassificationSummary struct {
	TotalQuestions   int      `json:"totalQuestions"`
	KnowledgePoints  []string `json:"knowledgePoints"`
	ErrorTypes       []string `json:"errorTypes"`
	DifficultyLevels []string `json:"difficultyLevels"`
}

// WrongQuestionClassification partitions wrong questions three independent ways.
type WrongQuestionClassification struct {
	ByKnowledgePoint map[string][]WrongQuestion `json:"byKnowledgePoint"`
	ByErrorType      map[string][]WrongQuestion `json:"byErrorType"`
	ByDifficulty     map[string][]WrongQuestion `json:"byDifficulty"`
	Summary          ClassificationSummary      `json:"summary"`
}

// CountMethod says how a question count was obtained.
type CountMethod string

const (
	CountMethodLLM     CountMethod = "llm"
	CountMethodPattern CountMethod = "ocr_regex"
	CountMethodUnknown CountMethod = "unknown"
)

// Confidence grades how far a question count can be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// QuestionCount is the result of a question-count request. Count is nil when
// no count could be determined.
type QuestionCount struct {
	Count      *int        `json:"questionCount"`
	Method     CountMethod `json:"method"`
	Confidence Confidence  `json:"confidence"`
	Warning    string      `json:"warning,omitempty"`
}

// Known reports whether a usable count was obtained.
func (c QuestionCount) Known() bool {
	return c.Count != nil && *c.Count > 0
}
