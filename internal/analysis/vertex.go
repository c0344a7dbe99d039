package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/pagewise/analysisflow/internal/gcp"
	"github.com/pagewise/analysisflow/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexAnalyzer implements Analyzer on a Vertex AI generative model
// configured for JSON output.
type VertexAnalyzer struct {
	client *gcp.VertexClient
}

// NewVertexAnalyzer wraps a pre-configured Vertex client.
func NewVertexAnalyzer(client *gcp.VertexClient) *VertexAnalyzer {
	return &VertexAnalyzer{client: client}
}

func (a *VertexAnalyzer) AnalyzePage(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
	model := a.client.AnalyzerModel
	pagePart := genai.Blob{MIMEType: "application/pdf", Data: pageData}
	prompt := genai.Text(gcp.AnalyzerUserPrompt)

	resp, err := model.GenerateContent(ctx, pagePart, prompt)
	if err != nil {
		if isRateLimit(err) {
			return nil, fmt.Errorf("generate content: %w", ErrRateLimited)
		}
		return nil, fmt.Errorf("failed to generate analysis from gemini: %w", err)
	}

	jsonString := extractJSONContent(resp)
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON")
	}

	// Sanity check for LLM refusal. If the model refuses to answer, fail the
	// page rather than record a refusal as an analysis.
	refusalPhrases := []string{
		"i am unable to",
		"i cannot fulfill",
		"i cannot answer",
		"i cannot provide",
		"as a large language model",
	}
	lowerContent := strings.ToLower(jsonString)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lowerContent, phrase) {
			return nil, fmt.Errorf("gemini response indicates refusal")
		}
	}

	var payload models.AnalysisPayload
	if err := json.Unmarshal([]byte(jsonString), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}
	return &payload, nil
}

// isRateLimit classifies the only retryable failure: the service shedding
// load, surfaced as HTTP 429 or gRPC ResourceExhausted depending on transport.
func isRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 429 {
		return true
	}
	return status.Code(err) == codes.ResourceExhausted
}

// extractJSONContent robustly gets the raw text content from the model
// response, stripping fences the model sometimes adds despite the JSON mime
// setting.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	if txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text); ok {
		cleanJSON := strings.TrimSpace(string(txt))
		cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
		cleanJSON = strings.TrimSuffix(cleanJSON, "```")
		return strings.TrimSpace(cleanJSON)
	}
	return ""
}
