package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"music-tutor/backend/internal/adapter"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/credentials"
	apperrors "music-tutor/backend/pkg/errors"
)

func testAudio(t *testing.T) *conversation.AudioPayload {
	t.Helper()
	audio, err := conversation.NewAudioPayload("audio/wav", "clip.wav", []byte("RIFF....WAVE"))
	require.NoError(t, err)
	return audio
}

// fakeReplicate serves the model, prediction and status endpoints
type fakeReplicate struct {
	t         *testing.T
	polls     int32
	submitted predictionRequest
}

func (f *fakeReplicate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer rep-key", r.Header.Get("Authorization"))
	assert.Equal(f.t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/models/zsxkib/audio-flamingo-3":
		w.Write([]byte(`{"latest_version":{"id":"v123"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.submitted))
		w.Write([]byte(`{"id":"p1","status":"starting","output":null}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
		if atomic.AddInt32(&f.polls, 1) < 2 {
			w.Write([]byte(`{"id":"p1","status":"processing","output":null}`))
			return
		}
		w.Write([]byte(`{"id":"p1","status":"succeeded","output":["The key ","is D minor. "]}`))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func fastSettings(base string) Settings {
	return Settings{
		ReplicateBaseURL: base,
		PollInterval:     5 * time.Millisecond,
		JobTimeout:       5 * time.Second,
	}
}

func TestAudioAnalysis_FullPrediction(t *testing.T) {
	fake := &fakeReplicate{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := NewAudioAnalysisAdapter("rep-key", fastSettings(srv.URL))
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "m1"},
		{Role: conversation.RoleAssistant, Content: "m2"},
		{Role: conversation.RoleUser, Content: "m3"},
		{Role: conversation.RoleAssistant, Content: "m4"},
		{Role: conversation.RoleUser, Content: "m5"},
	}

	out, err := a.Call(context.Background(), Request{Query: "what key?", History: history, Audio: testAudio(t)})
	require.NoError(t, err)
	assert.Equal(t, "The key is D minor.", out)

	assert.Equal(t, "v123", fake.submitted.Version)
	assert.True(t, strings.HasPrefix(fake.submitted.Input.Audio, "data:audio/wav;base64,"))
	assert.NotContains(t, fake.submitted.Input.Prompt, "m1")
	assert.Contains(t, fake.submitted.Input.Prompt, "Assistant: m2\n")
	assert.EqualValues(t, 2, atomic.LoadInt32(&fake.polls))
}

func TestAudioAnalysis_ThroughProxy(t *testing.T) {
	var targets []string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		targets = append(targets, target)
		u, err := url.Parse(target)
		require.NoError(t, err)
		assert.Equal(t, "api.replicate.com", u.Host)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(u.Path, "/audio-flamingo-3"):
			w.Write([]byte(`{"latest_version":{"id":"v1"}}`))
		case u.Path == "/v1/predictions":
			w.Write([]byte(`{"id":"p9","status":"succeeded","output":"  done  "}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer proxy.Close()

	settings := fastSettings("")
	settings.ProxyURL = proxy.URL + "/api/proxy/"
	a := NewAudioAnalysisAdapter("rep-key", settings)

	out, err := a.Call(context.Background(), Request{Query: "tempo?", Audio: testAudio(t)})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, []string{
		"https://api.replicate.com/v1/models/zsxkib/audio-flamingo-3",
		"https://api.replicate.com/v1/predictions",
	}, targets)
}

func TestAudioAnalysis_NoAudioIsPrecondition(t *testing.T) {
	a := NewAudioAnalysisAdapter("rep-key", fastSettings("http://127.0.0.1:1"))

	_, err := a.Call(context.Background(), Request{Query: "what key?"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeToolPrecondition))
	assert.Equal(t, "Error: "+NoAudioMessage, ErrorResult(err))
}

func TestAudioAnalysis_MissingKey(t *testing.T) {
	a := NewAudioAnalysisAdapter("  ", fastSettings("http://127.0.0.1:1"))

	_, err := a.Call(context.Background(), Request{Query: "q", Audio: testAudio(t)})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCredentialMissing))
	assert.True(t, apperrors.IsRecoverable(err))
}

func TestAudioAnalysis_UnauthorizedAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAudioAnalysisAdapter("rep-key", fastSettings(srv.URL)).
		Call(context.Background(), Request{Query: "q", Audio: testAudio(t)})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeUnauthorized))
	assert.False(t, apperrors.IsRecoverable(err))
}

func TestAudioAnalysis_MissingVersionIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"audio-flamingo-3"}`))
	}))
	defer srv.Close()

	_, err := NewAudioAnalysisAdapter("rep-key", fastSettings(srv.URL)).
		Call(context.Background(), Request{Query: "q", Audio: testAudio(t)})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeMalformedResponse))
}

func TestBuildAnalysisPrompt(t *testing.T) {
	prompt := BuildAnalysisPrompt([]conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello"},
	}, "which instruments?")

	assert.Equal(t,
		"User: hi\nAssistant: hello\nUser: Analyze the audio to answer this user request: \"which instruments?\". Provide detailed acoustic and musical observations.\nAssistant:",
		prompt)
}

func TestTheoryConsultation_Generates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))
		var req generationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What is a tritone?", req.Inputs)
		assert.Equal(t, constants.TheoryMaxNewTokens, req.Parameters.MaxNewTokens)
		assert.False(t, req.Parameters.ReturnFullText)
		w.Write([]byte(`[{"generated_text":"An augmented fourth."}]`))
	}))
	defer srv.Close()

	out, err := NewTheoryConsultationAdapter("hf-key", srv.URL, nil).
		Call(context.Background(), Request{Query: "What is a tritone?"})
	require.NoError(t, err)
	assert.Equal(t, "An augmented fourth.", out)
}

func TestTheoryConsultation_ModelErrorCarriesWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Model is loading","estimated_time":42}`))
	}))
	defer srv.Close()

	_, err := NewTheoryConsultationAdapter("hf-key", srv.URL, nil).
		Call(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HF Model Error: Model is loading (Estimated wait: 42s)")
}

func TestParseGeneration(t *testing.T) {
	_, err := parseGeneration([]byte(`{"error":"busy"}`))
	assert.Contains(t, err.Error(), "(Estimated wait: unknowns)")

	for _, body := range []string{`[]`, `[{"generated_text":""}]`, `{"foo":1}`, `"text"`} {
		_, err := parseGeneration([]byte(body))
		assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeMalformedResponse), body)
	}
}

func TestTheoryConsultation_MissingCredentials(t *testing.T) {
	_, err := NewTheoryConsultationAdapter("", "http://x", nil).Call(context.Background(), Request{Query: "q"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCredentialMissing))

	_, err = NewTheoryConsultationAdapter("k", "", nil).Call(context.Background(), Request{Query: "q"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCredentialMissing))
}

func TestTheoryConsultation_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTheoryConsultationAdapter("bad", srv.URL, nil).Call(context.Background(), Request{Query: "q"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeUnauthorized))
}

type stubAdapter struct {
	name  string
	reply string
	err   error
	got   Request
}

func (s *stubAdapter) Name() string   { return s.name }
func (s *stubAdapter) Status() string { return "stub" }
func (s *stubAdapter) Call(_ context.Context, req Request) (string, error) {
	s.got = req
	return s.reply, s.err
}

func TestExecutor_UnknownToolIsResultText(t *testing.T) {
	e := NewExecutor()
	out, err := e.Execute(context.Background(), adapter.ToolCall{ID: "1", Name: "transcribe"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Error: Unknown tool 'transcribe'.", out)
}

func TestExecutor_PassesQueryAndContext(t *testing.T) {
	stub := &stubAdapter{name: ToolConsultMusicTheory, reply: "ok"}
	e := NewExecutor(stub)

	history := []conversation.Message{{Role: conversation.RoleUser, Content: "earlier"}}
	out, err := e.Execute(context.Background(), adapter.ToolCall{
		ID:        "c1",
		Name:      ToolConsultMusicTheory,
		Arguments: map[string]interface{}{"query": "  modes?  "},
	}, Request{History: history})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "modes?", stub.got.Query)
	assert.Equal(t, history, stub.got.History)
}

func TestExecutor_MissingQueryIsPrecondition(t *testing.T) {
	e := NewExecutor(&stubAdapter{name: ToolAnalyzeAudio})
	_, err := e.Execute(context.Background(), adapter.ToolCall{Name: ToolAnalyzeAudio}, Request{})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeToolPrecondition))
}

func TestToolbox_BindsCredentials(t *testing.T) {
	e := NewToolbox(fastSettings("")).For(credentials.Credentials{Replicate: "r", HuggingFace: "h", EndpointURL: "http://hf"})

	audio, ok := e.Lookup(ToolAnalyzeAudio)
	require.True(t, ok)
	assert.Equal(t, constants.StatusConsultingAudio, audio.Status())

	theory, ok := e.Lookup(ToolConsultMusicTheory)
	require.True(t, ok)
	assert.Equal(t, constants.StatusConsultingTheory, theory.Status())
}

func TestGetAllTools(t *testing.T) {
	tools := GetAllTools()
	require.Len(t, tools, 2)
	for _, tool := range tools {
		assert.Equal(t, "function", tool.Type)
		assert.Equal(t, []string{"query"}, tool.Function.Parameters["required"])
	}
}

func TestExecutor_StatusFor(t *testing.T) {
	e := NewToolbox(fastSettings("")).For(credentials.Credentials{})
	assert.Equal(t, constants.StatusConsultingAudio, e.StatusFor(ToolAnalyzeAudio))
	assert.Equal(t, constants.StatusConsultingTheory, e.StatusFor(ToolConsultMusicTheory))
	assert.Equal(t, "Agent: Running transcribe...", e.StatusFor("transcribe"))
}
