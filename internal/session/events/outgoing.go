package events

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition describes one tool advertised to the model.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ConversationItemCreate builds a conversation.item.create frame with a
// single text content part.
func ConversationItemCreate(role, text string) ([]byte, error) {
	frame := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": role,
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation.item.create: %w", err)
	}
	return data, nil
}

// SessionUpdate builds a session.update frame advertising the tool catalog
// and the input transcription model.
func SessionUpdate(tools []ToolDefinition, transcriptionModel string) ([]byte, error) {
	frame := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"tools": tools,
			"input_audio_transcription": map[string]string{
				"model": transcriptionModel,
			},
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to build session.update: %w", err)
	}
	return data, nil
}

// FunctionCallOutput builds the reply item for a completed tool call.
func FunctionCallOutput(callID, output string) ([]byte, error) {
	frame := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to build function_call_output: %w", err)
	}
	return data, nil
}

// ResponseCreate builds the frame that unblocks the model after a tool reply.
func ResponseCreate() ([]byte, error) {
	data, err := json.Marshal(map[string]any{"type": "response.create"})
	if err != nil {
		return nil, fmt.Errorf("failed to build response.create: %w", err)
	}
	return data, nil
}
