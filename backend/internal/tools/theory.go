package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/remote"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// TheoryConsultationAdapter answers general music questions with a text
// generation model behind a Hugging Face inference endpoint
type TheoryConsultationAdapter struct {
	apiKey   string
	endpoint string
	client   *remote.Client
	logger   *zap.Logger
}

// NewTheoryConsultationAdapter creates the adapter. The endpoint is called
// directly, never through the forwarding proxy.
func NewTheoryConsultationAdapter(apiKey, endpoint string, hc *http.Client) *TheoryConsultationAdapter {
	return &TheoryConsultationAdapter{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: strings.TrimSpace(endpoint),
		client:   remote.NewClient(constants.ServiceTheory, apiKey, remote.WithHTTPClient(hc)),
		logger:   logger.Named("theory"),
	}
}

// Name returns the tool name
func (t *TheoryConsultationAdapter) Name() string {
	return ToolConsultMusicTheory
}

// Status returns the progress line
func (t *TheoryConsultationAdapter) Status() string {
	return constants.StatusConsultingTheory
}

type generationParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens"`
	ReturnFullText bool `json:"return_full_text"`
}

type generationRequest struct {
	Inputs     string               `json:"inputs"`
	Parameters generationParameters `json:"parameters"`
}

type generationError struct {
	Error         string   `json:"error"`
	EstimatedTime *float64 `json:"estimated_time"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

// Call sends the raw query and returns the generated text
func (t *TheoryConsultationAdapter) Call(ctx context.Context, req Request) (string, error) {
	if t.apiKey == "" {
		return "", apperrors.NewCredentialMissing("Hugging Face API Key", "Please configure it in settings to consult ChatMusician.")
	}
	if t.endpoint == "" {
		return "", apperrors.NewCredentialMissing("ChatMusician endpoint URL", "Please configure it in settings to consult ChatMusician.")
	}

	raw, err := t.client.Do(ctx, http.MethodPost, t.endpoint, generationRequest{
		Inputs: req.Query,
		Parameters: generationParameters{
			MaxNewTokens:   constants.TheoryMaxNewTokens,
			ReturnFullText: false,
		},
	})
	if err != nil {
		return "", err
	}
	return parseGeneration(raw)
}

// parseGeneration accepts [{"generated_text": ...}] and reports
// {"error": ..., "estimated_time": ...} as a model error
func parseGeneration(raw []byte) (string, error) {
	var modelErr generationError
	if err := json.Unmarshal(raw, &modelErr); err == nil && modelErr.Error != "" {
		wait := "unknown"
		if modelErr.EstimatedTime != nil && *modelErr.EstimatedTime > 0 {
			wait = fmt.Sprintf("%g", *modelErr.EstimatedTime)
		}
		return "", apperrors.NewMalformedResponse(constants.ServiceTheory,
			fmt.Sprintf("HF Model Error: %s (Estimated wait: %ss)", modelErr.Error, wait), nil)
	}

	var generations []generation
	if err := json.Unmarshal(raw, &generations); err != nil || len(generations) == 0 || generations[0].GeneratedText == "" {
		return "", apperrors.NewMalformedResponse(constants.ServiceTheory,
			"received empty or malformed response from ChatMusician", err)
	}
	return generations[0].GeneratedText, nil
}
