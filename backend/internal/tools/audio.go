package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/jobs"
	"music-tutor/backend/internal/remote"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// NoAudioMessage is relayed to the reasoning engine when analyze_audio runs
// without an upload
const NoAudioMessage = "No audio file is currently uploaded. Cannot analyze audio content. Please ask the user to upload a file if they want audio analysis."

// DefaultAudioModel is the Replicate model answering analyze_audio
const DefaultAudioModel = "zsxkib/audio-flamingo-3"

// DefaultReplicateBaseURL is the Replicate API root
const DefaultReplicateBaseURL = "https://api.replicate.com"

// AudioAnalysisAdapter answers questions about the uploaded clip with an
// audio-language model hosted on Replicate
type AudioAnalysisAdapter struct {
	apiKey   string
	baseURL  string
	model    string
	client   *remote.Client
	settings Settings
	logger   *zap.Logger
}

// NewAudioAnalysisAdapter creates the adapter. Every Replicate call goes
// through the forwarding proxy when settings.ProxyURL is set.
func NewAudioAnalysisAdapter(apiKey string, settings Settings) *AudioAnalysisAdapter {
	baseURL := strings.TrimRight(settings.ReplicateBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultReplicateBaseURL
	}
	model := settings.AudioModel
	if model == "" {
		model = DefaultAudioModel
	}

	opts := []remote.Option{
		remote.WithHTTPClient(settings.HTTPClient),
		remote.WithHeader("X-Requested-With", "XMLHttpRequest"),
	}
	if rewrite := settings.ProxyRewrite(); rewrite != nil {
		opts = append(opts, remote.WithRewrite(rewrite))
	}

	return &AudioAnalysisAdapter{
		apiKey:   strings.TrimSpace(apiKey),
		baseURL:  baseURL,
		model:    model,
		client:   remote.NewClient(constants.ServiceAudio, apiKey, opts...),
		settings: settings,
		logger:   logger.Named("audio"),
	}
}

// Name returns the tool name
func (a *AudioAnalysisAdapter) Name() string {
	return ToolAnalyzeAudio
}

// Status returns the progress line
func (a *AudioAnalysisAdapter) Status() string {
	return constants.StatusConsultingAudio
}

type modelInfo struct {
	LatestVersion *struct {
		ID string `json:"id"`
	} `json:"latest_version"`
}

type predictionInput struct {
	Audio  string `json:"audio"`
	Prompt string `json:"prompt"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

// Call resolves the model version, starts a prediction and waits for it
func (a *AudioAnalysisAdapter) Call(ctx context.Context, req Request) (string, error) {
	if req.Audio == nil {
		return "", apperrors.NewToolPrecondition(ToolAnalyzeAudio, NoAudioMessage)
	}
	if a.apiKey == "" {
		return "", apperrors.NewCredentialMissing("Replicate API Key", "Please configure it in settings to analyze audio.")
	}

	version, err := a.latestVersion(ctx)
	if err != nil {
		return "", err
	}

	poller := jobs.NewPoller(a.client, jobs.Config{
		StatusURL: func(id string) string {
			return a.baseURL + "/v1/predictions/" + id
		},
		Interval: a.settings.PollInterval,
		Timeout:  a.settings.JobTimeout,
	})

	payload := predictionRequest{
		Version: version,
		Input: predictionInput{
			Audio:  req.Audio.DataURI(),
			Prompt: BuildAnalysisPrompt(req.History, req.Query),
		},
	}

	a.logger.Info("Starting audio analysis",
		zap.String("model", a.model),
		zap.String("version", version),
		zap.Int("audio_bytes", req.Audio.Size),
	)
	return poller.Run(ctx, a.baseURL+"/v1/predictions", payload)
}

func (a *AudioAnalysisAdapter) latestVersion(ctx context.Context) (string, error) {
	var info modelInfo
	if err := a.client.DoJSON(ctx, http.MethodGet, a.baseURL+"/v1/models/"+a.model, nil, &info); err != nil {
		return "", err
	}
	if info.LatestVersion == nil || info.LatestVersion.ID == "" {
		return "", apperrors.NewMalformedResponse(constants.ServiceAudio,
			fmt.Sprintf("could not retrieve the latest version ID for %s", a.model), nil)
	}
	return info.LatestVersion.ID, nil
}

// BuildAnalysisPrompt flattens the recent transcript and the query into the
// single prompt the audio model accepts
func BuildAnalysisPrompt(history []conversation.Message, query string) string {
	if len(history) > constants.HistoryWindow {
		history = history[len(history)-constants.HistoryWindow:]
	}

	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Label(), msg.Content)
	}
	fmt.Fprintf(&b, "User: Analyze the audio to answer this user request: \"%s\". Provide detailed acoustic and musical observations.\nAssistant:", query)
	return b.String()
}
