package constants

import "time"

// Agent execution constants
const (
	// MaxToolTurns is the maximum number of tool-dispatch iterations in one run.
	// A model that keeps requesting tools past this point fails the run.
	MaxToolTurns = 16

	// HistoryWindow is how many prior messages the audio model sees
	HistoryWindow = 4

	// EmptyAnswerFallback is returned when the engine finishes with no text
	EmptyAnswerFallback = "I was unable to generate a final response."
)

// Job polling constants
const (
	// DefaultPollInterval is the wait between job status checks
	DefaultPollInterval = 2 * time.Second

	// DefaultJobTimeout bounds how long a single job may be awaited
	DefaultJobTimeout = 5 * time.Minute
)

// Backend constants
const (
	// ServiceReasoning names the reasoning engine in errors and logs
	ServiceReasoning = "Gemini"
	// ServiceAudio names the audio-analysis backend
	ServiceAudio = "Replicate"
	// ServiceTheory names the music-theory backend
	ServiceTheory = "Hugging Face"

	// TheoryMaxNewTokens is the generation cap sent to the theory model
	TheoryMaxNewTokens = 512
)

// Status messages shown while a run is in flight
const (
	StatusThinking         = "Agent: Thinking..."
	StatusConsultingAudio  = "Agent: Consulting Audio Flamingo..."
	StatusConsultingTheory = "Agent: Consulting ChatMusician..."
)
