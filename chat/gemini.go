package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Generator 把提示词补全为一段回复
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator 通过 Gemini API 生成回复
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator 创建 Gemini 客户端。model 为空时从可用模型中挑选，优先 flash 系列。
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model, err = discoverModel(ctx, client)
		if err != nil {
			return nil, err
		}
	}
	slog.Info("gemini linked", "model", model)
	return &GeminiGenerator{client: client, model: model}, nil
}

func discoverModel(ctx context.Context, client *genai.Client) (string, error) {
	page, err := client.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return "", fmt.Errorf("list gemini models: %w", err)
	}
	var names []string
	for _, m := range page.Items {
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			names = append(names, m.Name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no gemini generation models available for this key")
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), "flash") {
			return n, nil
		}
	}
	return names[0], nil
}

// Model 返回使用的模型名
func (g *GeminiGenerator) Model() string { return g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}
