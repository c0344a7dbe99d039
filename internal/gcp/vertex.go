package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Page Analyzer Model Prompts ---
const AnalyzerSystemPrompt = "You are a document analysis tool. Your task is to analyze one page of a document and report its contents as structured JSON. Accuracy and information preservation are of utmost importance."
const AnalyzerUserPrompt = `You will be provided with a single page of a document.

Analyze it and respond with a single JSON object with exactly these keys:
  - "summary": A concise summary of the page content.
  - "entities": An array of the named entities (people, organizations, places, products) mentioned on the page.
  - "keyPoints": An array of the page's key points, each a single sentence.
  - "sentiment": One of "positive", "neutral", or "negative" describing the overall tone of the page.

The final output MUST be a single, valid JSON object. Do not include any text before or after the JSON object.`

// VertexClient holds the pre-configured generative model for page analysis.
type VertexClient struct {
	AnalyzerModel *genai.GenerativeModel
	baseClient    *genai.Client
}

// NewVertexClient creates a new client holding the analyzer model.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	analyzerModel := baseClient.GenerativeModel("gemini-1.5-pro")
	analyzerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnalyzerSystemPrompt)},
	}
	analyzerModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	analyzerModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		AnalyzerModel: analyzerModel,
		baseClient:    baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
