// Package chat 实现平台内的临床导航助手：配置了 Gemini 时调用大模型，否则使用关键词规则回复。
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	StatusGemini    = "GEMINI_AI_ACTIVE"
	StatusHeuristic = "HEURISTIC_ACTIVE"
)

const systemPrompt = `
You are UrSol, an Advanced Clinical AI Assistant specialized in Oral Oncology.
Your mission is to guide users through the OralCare AI platform, explain diagnostic results, and provide empathetic clinical guidance.

Guidelines:
1. Empathy: Be professional yet compassionate.
2. Navigation: Always suggest relevant platform tools (Dashboard for vitals, Predict for new scans, History for records).
3. Safety: For persistent oral symptoms (>2 weeks), always recommend immediate clinical evaluation by an oncologist.
4. Locality: If the user mentions a location, mention that our 'Hospital Discovery' tool can find 10+ facilities near them.
5. Conciseness: Keep responses around 2-4 sentences unless explaining a complex medical concept.
`

const (
	standbyReply  = "I'm standing by, clinical lead. How can I assist with your diagnostic workflow?"
	fallbackReply = "I'm having trouble accessing my Large Language core, but I can still assist with platform navigation. Would you like to start a new screening or check your history?"
	greetingReply = "Greetings! I am **UrSol**, your clinical assistant. (Gemini core not active). I can help you navigate to 'Predict' or 'History'. How can I help?"
	basicReply    = "I'm in basic navigation mode. Please configure my Gemini AI core for advanced medical reasoning. For now, should I direct you to the screening portal?"
)

// locations 按匹配优先级排列
var locations = []string{"mysore", "bangalore", "mumbai", "delhi", "jp nagar"}

var locationContext = map[string]string{
	"mysore":    "In **Mysore**, top specialists are available at **JSS Hospital** and **Narayana Multispeciality Clinic**. JP Nagar specifically has excellent primary diagnostic units. I recommend using our 'Hospital Discovery' tool pre-set for Mysore coordinates.",
	"bangalore": "In **Bangalore**, dedicated oncology centers like **HCG Cancer Centre** and **Mazumdar Shaw Medical Center** are world-class. You can find 20+ results in our Referral Network.",
	"default":   "I can help you find specialists. Please grant location permissions to our 'Hospital Discovery' tool to see the nearest 10+ clinics in real-time.",
}

var greetings = []string{"hello", "hi", "hey"}

// Reply 是一次对话的回复
type Reply struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// Assistant 是对话助手，可并发使用
type Assistant struct {
	gen    Generator // nil 表示规则模式
	logger *slog.Logger
	now    func() time.Time
}

// Option 配置 Assistant
type Option func(*Assistant)

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// WithClock 设置时间来源，测试用
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// NewAssistant 创建助手，gen 为 nil 时只使用关键词规则
func NewAssistant(gen Generator, opts ...Option) *Assistant {
	a := &Assistant{gen: gen, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status 返回当前工作模式
func (a *Assistant) Status() string {
	if a.gen != nil {
		return StatusGemini
	}
	return StatusHeuristic
}

// Reply 回复一条用户消息。大模型调用失败时返回固定的降级文案，不返回错误。
func (a *Assistant) Reply(ctx context.Context, message string) Reply {
	msg := strings.ToLower(message)
	var text string
	switch {
	case strings.TrimSpace(msg) == "":
		text = standbyReply
	case a.gen != nil:
		text = a.generate(ctx, msg)
	default:
		text = heuristicReply(msg)
	}
	return Reply{
		Response:  text,
		Timestamp: a.now().UTC().Format("2006-01-02T15:04:05.000000"),
		Status:    a.Status(),
	}
}

func (a *Assistant) generate(ctx context.Context, msg string) string {
	var extra string
	if loc, ok := findLocation(msg); ok {
		extra = "\nSpecific Context: " + contextFor(loc)
	}
	prompt := systemPrompt + extra + "\n\nUser: " + msg + "\nUrSol:"
	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Error("chat generation failed", "error", err)
		return fallbackReply
	}
	return text
}

func heuristicReply(msg string) string {
	if loc, ok := findLocation(msg); ok {
		return "I see you're inquiring about facilities near **" + strings.ToUpper(loc) + "**. " +
			contextFor(loc) + " Would you like me to open the Hospital Discovery tool for you?"
	}
	for _, g := range greetings {
		if strings.Contains(msg, g) {
			return greetingReply
		}
	}
	return basicReply
}

func findLocation(msg string) (string, bool) {
	for _, loc := range locations {
		if strings.Contains(msg, loc) {
			return loc, true
		}
	}
	return "", false
}

// contextFor 返回地点的补充信息，jp nagar 属于 mysore
func contextFor(loc string) string {
	if loc == "jp nagar" {
		loc = "mysore"
	}
	if c, ok := locationContext[loc]; ok {
		return c
	}
	return locationContext["default"]
}

// FeedbackSource 写入反馈记录的来源标识
const FeedbackSource = "UrSol_Gemini_AI"
