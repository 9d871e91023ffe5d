// Package sentiment 通过 Perplexity chat completions 评估代币上市传闻与整体情绪。
package sentiment

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/domain"
	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

var log = logrus.WithField("component", "sentiment")

const (
	defaultModel = "sonar-pro"
	neutralScore = 50
	summaryLen   = 200
)

// Mood 情绪分类
type Mood string

const (
	MoodBullish Mood = "BULLISH"
	MoodBearish Mood = "BEARISH"
	MoodNeutral Mood = "NEUTRAL"
)

// Config Perplexity 配置
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client Perplexity 舆情客户端
type Client struct {
	cfg     Config
	client  *sdkhttp.Client
	enabled bool
}

// NewClient 创建客户端；未配置 APIKey 时所有查询返回 0 分
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{cfg: cfg, enabled: cfg.APIKey != ""}
	c.client = sdkhttp.NewClient(cfg.BaseURL,
		sdkhttp.WithTimeout(cfg.Timeout),
		sdkhttp.WithRetry(0),
		sdkhttp.WithHeader("Authorization", "Bearer "+cfg.APIKey),
	)
	if !c.enabled {
		log.Warnf("Perplexity API not configured")
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Query 发送一次对话；未配置或失败时返回空串
func (c *Client) Query(ctx context.Context, prompt string) (string, error) {
	if !c.enabled {
		return "", nil
	}
	var out chatResponse
	_, err := c.client.DoRequest(ctx, http.MethodPost, "/chat/completions", &sdkhttp.RequestOptions{
		Data: chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: "You are a crypto market analyst. Provide concise, factual analysis."},
				{Role: "user", Content: prompt},
			},
			Temperature: 0.2,
			MaxTokens:   500,
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("perplexity query: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("perplexity query: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// CheckListingRumors 查询上市传闻，分数 0（无传闻）到 100（已确认）
// 服务不可用时返回 0 分且不返回错误，调用方据此直接跳过
func (c *Client) CheckListingRumors(ctx context.Context, symbol string) (domain.RumorReport, error) {
	token := BaseAsset(symbol)
	prompt := fmt.Sprintf(`Search Twitter, Telegram, and crypto news for any rumors about %s being listed on Binance.

Analyze:
1. Are there credible rumors about a Binance listing?
2. What is the source quality (official, influencer, random)?
3. How recent are these rumors?

Respond with:
- SCORE: 0-100 (0 = no rumors, 100 = confirmed listing)
- SUMMARY: One sentence summary
- SOURCES: Key sources found`, token)

	report := domain.RumorReport{Symbol: symbol, Summary: "Unable to analyze"}
	text, err := c.Query(ctx, prompt)
	if err != nil {
		log.Errorf("❌ [%s] 传闻查询失败: %v", token, err)
		return report, nil
	}
	if text == "" {
		return report, nil
	}
	report.Score = ExtractScore(text)
	report.Summary = truncate(text, summaryLen)
	return report, nil
}

// TokenSentiment 整体情绪分析结果
type TokenSentiment struct {
	Symbol  string `json:"symbol"`
	Mood    Mood   `json:"mood"`
	Score   int    `json:"score"`
	Summary string `json:"summary"`
}

// AnalyzeTokenSentiment 整体情绪，服务不可用时返回中性 50 分
func (c *Client) AnalyzeTokenSentiment(ctx context.Context, symbol string) TokenSentiment {
	token := BaseAsset(symbol)
	prompt := fmt.Sprintf(`Analyze current market sentiment for %s cryptocurrency.

Consider:
1. Recent news and announcements
2. Social media sentiment (Twitter, Reddit)
3. On-chain activity if notable
4. Any upcoming events or catalysts

Respond with:
- SENTIMENT: BULLISH / BEARISH / NEUTRAL
- SCORE: 0-100 (0 = extremely bearish, 100 = extremely bullish)
- KEY_FACTORS: Top 3 factors affecting sentiment`, token)

	out := TokenSentiment{Symbol: symbol, Mood: MoodNeutral, Score: neutralScore}
	text, err := c.Query(ctx, prompt)
	if err != nil {
		log.Warnf("[%s] 情绪分析失败: %v", token, err)
		return out
	}
	if text == "" {
		return out
	}
	out.Score = ExtractScore(text)
	out.Mood = Classify(out.Score)
	out.Summary = truncate(text, 300)
	return out
}

// Classify 分数 > 60 看多，< 40 看空，其余中性
func Classify(score int) Mood {
	switch {
	case score > 60:
		return MoodBullish
	case score < 40:
		return MoodBearish
	default:
		return MoodNeutral
	}
}

var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)SCORE:\s*(\d+)`),
	regexp.MustCompile(`(\d+)/100`),
	regexp.MustCompile(`(?i)(\d+)\s*out of\s*100`),
}

// ExtractScore 按顺序匹配 "SCORE: n"、"n/100"、"n out of 100"，结果截断到 0..100；都不匹配返回 50
func ExtractScore(text string) int {
	for _, re := range scorePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// 超长数字溢出，按上限处理
			return 100
		}
		return clamp(n, 0, 100)
	}
	return neutralScore
}

// BaseAsset "PEPE/USDT" / "PEPE_USDT" / "PEPEUSDT" -> "PEPE"
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "_", ":"} {
		if i := strings.Index(s, sep); i > 0 {
			return s[:i]
		}
	}
	if strings.HasSuffix(s, "USDT") && len(s) > 4 {
		return strings.TrimSuffix(s, "USDT")
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
