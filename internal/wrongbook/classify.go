package wrongbook

import (
	"sort"
	"strings"

	"github.com/pavelanni/markbook/internal/model"
)

// Category labels. They are stable keys; display names live in the locale files.
const (
	OtherLabel  = "other"
	MediumLabel = "medium"
)

type rule struct {
	label    string
	keywords []string
}

// Rules are tried in order and the first hit wins, so more specific topics
// come before broader ones.
var knowledgeRules = []rule{
	{"calculus", []string{"导数", "积分", "极限", "微分", "derivative", "integral", "calculus", "limit"}},
	{"sequence", []string{"数列", "等差", "等比", "通项", "sequence", "arithmetic progression", "geometric progression"}},
	{"probability", []string{"概率", "统计", "期望", "方差", "排列", "组合", "probability", "statistic", "variance", "permutation", "combination"}},
	{"function", []string{"函数", "定义域", "值域", "单调", "对数", "指数", "function", "domain", "logarithm", "exponential"}},
	{"geometry", []string{"几何", "三角形", "圆", "面积", "体积", "角度", "平行", "垂直", "向量", "坐标", "triangle", "circle", "area", "volume", "angle", "geometry", "vector", "parallel", "perpendicular"}},
	{"equation", []string{"方程", "不等式", "解集", "求根", "equation", "inequalit", "solve for"}},
	{"physics", []string{"受力", "重力", "摩擦力", "力学", "速度", "加速度", "电路", "电流", "电压", "能量", "force", "velocity", "acceleration", "circuit", "voltage", "energy"}},
	{"chemistry", []string{"化学", "反应", "元素", "分子", "原子", "溶液", "化合物", "chemical", "reaction", "molecule", "atom", "compound"}},
	{"grammar", []string{"语法", "时态", "从句", "主谓", "介词", "grammar", "tense", "clause", "preposition", "subject-verb"}},
	{"vocabulary", []string{"词汇", "单词", "拼写", "词义", "vocabulary", "spelling", "synonym", "word meaning"}},
	{"reading", []string{"阅读", "短文", "文章", "reading", "passage", "comprehension"}},
	{"writing", []string{"作文", "写作", "essay", "writing", "composition"}},
}

var errorTypeRules = []rule{
	{"incomplete", []string{"不完整", "未完成", "未作答", "没有作答", "空白", "遗漏", "缺少", "incomplete", "unanswered", "left blank", "missing step"}},
	{"misreading", []string{"审题", "题意", "看错题", "理解错题目", "misread", "misunderstood the question", "read the question"}},
	{"careless", []string{"粗心", "马虎", "抄错", "符号错误", "careless", "sign error", "typo", "copied"}},
	{"calculation", []string{"计算", "算错", "运算", "calculation", "arithmetic", "miscalculat", "computation"}},
	{"concept", []string{"概念", "定义", "定理", "公式", "性质", "concept", "definition", "theorem", "formula", "property"}},
	{"method", []string{"方法", "思路", "解法", "approach", "method", "strategy"}},
}

var difficultyRules = []rule{
	{"hard", []string{"证明", "综合", "压轴", "探究", "难题", "拓展", "prove", "proof", "comprehensive", "challeng", "multi-step"}},
	{"easy", []string{"选择题", "填空", "判断题", "基础", "简单", "直接", "multiple choice", "true or false", "fill in", "basic", "simple"}},
}

func match(rules []rule, fallback string, texts ...string) string {
	text := strings.ToLower(strings.Join(texts, "\n"))
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.label
			}
		}
	}
	return fallback
}

// KnowledgePoint returns the knowledge-point label of a wrong question.
func KnowledgePoint(q model.WrongQuestion) string {
	return match(knowledgeRules, OtherLabel, q.QuestionText, q.CorrectAnswer, q.Explanation)
}

// ErrorType returns the error-type label of a wrong question.
func ErrorType(q model.WrongQuestion) string {
	return match(errorTypeRules, OtherLabel, q.Feedback, q.Explanation)
}

// Difficulty returns the difficulty label of a wrong question.
func Difficulty(q model.WrongQuestion) string {
	return match(difficultyRules, MediumLabel, q.QuestionText, q.Explanation)
}

// Classify partitions wrong questions by knowledge point, error type and
// difficulty. Every question lands in exactly one bucket of each partition,
// and bucket lists keep the input order.
func Classify(wqs []model.WrongQuestion) model.WrongQuestionClassification {
	c := model.WrongQuestionClassification{
		ByKnowledgePoint: make(map[string][]model.WrongQuestion),
		ByErrorType:      make(map[string][]model.WrongQuestion),
		ByDifficulty:     make(map[string][]model.WrongQuestion),
	}
	for _, q := range wqs {
		kp := KnowledgePoint(q)
		c.ByKnowledgePoint[kp] = append(c.ByKnowledgePoint[kp], q)
		et := ErrorType(q)
		c.ByErrorType[et] = append(c.ByErrorType[et], q)
		dl := Difficulty(q)
		c.ByDifficulty[dl] = append(c.ByDifficulty[dl], q)
	}
	c.Summary = model.ClassificationSummary{
		TotalQuestions:   len(wqs),
		KnowledgePoints:  sortedKeys(c.ByKnowledgePoint),
		ErrorTypes:       sortedKeys(c.ByErrorType),
		DifficultyLevels: sortedKeys(c.ByDifficulty),
	}
	return c
}

func sortedKeys(m map[string][]model.WrongQuestion) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
