// Package review はAIコードレビューの外部コラボレータを抽象化する。
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Reviewer はコードと言語タグから構造化レビューを生成するインターフェース。
// 結果の構造はReviewerが所有し、エンジン側は不透明なJSONとして扱う。
type Reviewer interface {
	// Review はコードレビューを実行する。
	// 外部サービスが応答しない場合はエラーを返す。
	Review(ctx context.Context, code, language string) (json.RawMessage, error)
}

// Result はレビュー結果の標準構造。
// モデル出力のパースに失敗した場合のフォールバック生成にも使用する。
type Result struct {
	OverallScore    int      `json:"overall_score"`
	Summary         string   `json:"summary"`
	Issues          []Issue  `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Compliments     []string `json:"compliments"`
}

// Issue はレビューで検出された個別の問題。
type Issue struct {
	Type       string `json:"type"`     // security, performance, bug, style, best_practice
	Severity   string `json:"severity"` // error, warning, info
	Line       *int   `json:"line"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// buildPrompt はレビュー用プロンプトを構築する。
func buildPrompt(code, language string) string {
	return fmt.Sprintf(`Please review the following %s code:

`+"```%s\n%s\n```"+`

Please provide a comprehensive review including:

1. Code Quality: structure, readability, maintainability
2. Security: potential vulnerabilities
3. Performance: optimization opportunities
4. Best Practices: adherence to %s conventions
5. Bug Detection: potential bugs or logical errors
6. Suggestions: specific improvements with examples

Format your response as JSON with the following structure:
{
  "overall_score": 1-10,
  "summary": "Brief overall assessment",
  "issues": [
    {
      "type": "security|performance|bug|style|best_practice",
      "severity": "error|warning|info",
      "line": number or null,
      "message": "Description of the issue",
      "suggestion": "How to fix it"
    }
  ],
  "recommendations": ["General recommendation"],
  "compliments": ["What was done well"]
}

Respond with the JSON object only.`, language, language, code, language)
}

// parseResponse はモデルの応答テキストからレビュー結果JSONを抽出する。
// 応答に含まれる最初のJSONオブジェクトを取り出し、必須フィールドを補完する。
// 抽出に失敗した場合は応答全文をsummaryに入れたフォールバック構造を返す。
func parseResponse(text string) json.RawMessage {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate := text[start : end+1]

		var result Result
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			normalize(&result)
			data, err := json.Marshal(&result)
			if err == nil {
				return data
			}
		}
	}

	return fallbackResult(text)
}

// normalize は欠落フィールドにデフォルト値を補完する。
func normalize(r *Result) {
	if r.OverallScore < 1 || r.OverallScore > 10 {
		r.OverallScore = 7
	}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	if r.Compliments == nil {
		r.Compliments = []string{}
	}
}

// fallbackResult はパース不能な応答から常に整形式の結果を生成する。
func fallbackResult(text string) json.RawMessage {
	summary := strings.TrimSpace(text)
	if len(summary) > 500 {
		summary = summary[:500]
	}
	if summary == "" {
		summary = "AI review completed"
	}

	result := Result{
		OverallScore:    7,
		Summary:         summary,
		Issues:          []Issue{},
		Recommendations: []string{},
		Compliments:     []string{},
	}
	data, err := json.Marshal(&result)
	if err != nil {
		// Resultは常にマーシャル可能
		return json.RawMessage(`{"overall_score":7,"summary":"AI review completed","issues":[],"recommendations":[],"compliments":[]}`)
	}
	return data
}
