package tools

import "github.com/tinge-app/tinge/internal/session/events"

// Definitions returns the tool catalog advertised in session.update.
func Definitions() []events.ToolDefinition {
	return []events.ToolDefinition{
		{
			Type:        "function",
			Name:        ToolGetUserProfile,
			Description: "Load the learner's profile: level, goals, interests and session history.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Type:        "function",
			Name:        ToolUpdateUserProfile,
			Description: "Merge updates into the learner's profile. List fields accumulate; scalars are replaced.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"updates": map[string]any{
						"type":        "object",
						"description": "Partial profile to merge into the stored profile.",
					},
				},
				"required": []string{"updates"},
			},
		},
		{
			Type:        "function",
			Name:        ToolSearchKnowledge,
			Description: "Search the knowledge base for factual grounding. Cite results with [n] markers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query_original": map[string]any{
						"type":        "string",
						"description": "The query in the conversation language.",
					},
					"query_en": map[string]any{
						"type":        "string",
						"description": "English translation of the query.",
					},
					"language": map[string]any{
						"type":        "string",
						"description": "ISO language code of the original query.",
					},
					"top_k": map[string]any{
						"type":        "integer",
						"description": "How many results to return.",
					},
				},
				"required": []string{"query_original"},
			},
		},
		{
			Type:        "function",
			Name:        ToolLogCorrection,
			Description: "Record a correction made to the learner so it can be verified and reviewed later.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"original": map[string]any{
						"type":        "string",
						"description": "What the learner said.",
					},
					"corrected": map[string]any{
						"type":        "string",
						"description": "The corrected form.",
					},
					"correction_type": map[string]any{
						"type": "string",
						"enum": []string{"grammar", "vocabulary", "pronunciation", "style_register"},
					},
					"context": map[string]any{
						"type":        "string",
						"description": "Brief conversation context around the mistake.",
					},
				},
				"required": []string{"original", "corrected", "correction_type"},
			},
		},
	}
}
