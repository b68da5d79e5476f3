package tools

import (
	"music-tutor/backend/internal/adapter"
)

// Tool names
const (
	ToolAnalyzeAudio       = "analyze_audio"
	ToolConsultMusicTheory = "consult_music_theory"
)

// GetAllTools returns all available tools for the agent
func GetAllTools() []adapter.Tool {
	return []adapter.Tool{
		queryTool(
			ToolAnalyzeAudio,
			"Use this tool to analyze the content of the uploaded audio file. Ask specific questions about instruments, key, tempo, mood, chords, or transcription.",
			"The specific question to ask the audio analysis model (Audio Flamingo) about the audio file.",
		),
		queryTool(
			ToolConsultMusicTheory,
			"Use this tool to ask questions about music theory, history, composition, or general musical concepts that do NOT require listening to the specific audio file.",
			"The music theory question for ChatMusician.",
		),
	}
}

// queryTool declares a function taking one required string "query"
func queryTool(name, description, queryDescription string) adapter.Tool {
	return adapter.Tool{
		Type: "function",
		Function: adapter.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": queryDescription,
					},
				},
				"required": []string{"query"},
			},
		},
	}
}
