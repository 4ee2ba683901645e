package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-3-5-sonnet-20241022"
	defaultMaxTokens = 2048
)

// AnthropicReviewer はAnthropic Messages APIを使用したReviewer実装。
type AnthropicReviewer struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicReviewer はAnthropicReviewerを生成する。
// timeoutはレビュー1回あたりのデッドライン。0の場合はデッドラインを設定しない。
func NewAnthropicReviewer(apiKey, model string, timeout time.Duration) (*AnthropicReviewer, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic reviewer requires an API key")
	}

	m := strings.TrimSpace(model)
	if m == "" {
		m = defaultModel
	}

	return &AnthropicReviewer{
		client:  anthropic.NewClient(option.WithAPIKey(key)),
		model:   m,
		timeout: timeout,
	}, nil
}

// Review はコードレビューを実行する。
// モデル応答はparseResponseで常に整形式のJSONに正規化されるため、
// エラーはAPI呼び出し自体の失敗のみを意味する。
func (r *AnthropicReviewer) Review(ctx context.Context, code, language string) (json.RawMessage, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(code, language))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic review failed: %w", err)
	}

	return parseResponse(collectText(msg.Content)), nil
}

// collectText は応答のテキストブロックを連結する。
func collectText(blocks []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(block.Text)
	}
	return sb.String()
}

// compile-time interface check
var _ Reviewer = (*AnthropicReviewer)(nil)
