// Package tools implements the function tools the model can call during a
// session and the dispatch path that replies to each call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/citation"
	"github.com/tinge-app/tinge/internal/session/events"
	"github.com/tinge-app/tinge/internal/upstream"
)

// Sender writes one frame to the model's control channel.
type Sender interface {
	Send(frame []byte) error
}

// Searcher runs the knowledge retrieval round-trip through the gateway.
type Searcher interface {
	SearchKnowledge(ctx context.Context, req upstream.SearchRequest) (json.RawMessage, error)
}

// CorrectionLogger records a detected correction and starts its verification.
type CorrectionLogger interface {
	Log(ctx context.Context, original, corrected, correctionType, conversationContext string) (models.Correction, error)
}

// Telemetry fans retrieval progress out to the UI layer.
type Telemetry struct {
	SearchStarted func(query string)
	SearchResult  func(status string, resultCount int, durationMs int64)
}

const (
	ToolGetUserProfile    = "get_user_profile"
	ToolUpdateUserProfile = "update_user_profile"
	ToolSearchKnowledge   = "search_knowledge"
	ToolLogCorrection     = "log_correction"
)

// Registry resolves incoming function calls. Dispatch serializes replies:
// every call produces exactly one function_call_output followed by exactly
// one response.create before the next call is handled.
type Registry struct {
	mu sync.Mutex

	sender      Sender
	profiles    ProfileStore
	searcher    Searcher
	corrections CorrectionLogger
	citations   *citation.Coordinator
	telemetry   Telemetry
	clk         clock.Clock

	sessionCounted bool
}

func NewRegistry(clk clock.Clock, sender Sender, profiles ProfileStore, searcher Searcher, corrections CorrectionLogger, citations *citation.Coordinator, telemetry Telemetry) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clk:         clk,
		sender:      sender,
		profiles:    profiles,
		searcher:    searcher,
		corrections: corrections,
		citations:   citations,
		telemetry:   telemetry,
	}
}

// Dispatch handles one completed function call from the model.
func (r *Registry) Dispatch(ctx context.Context, call events.FunctionCallDone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	output := r.run(ctx, call.Name, call.Arguments)

	frame, err := events.FunctionCallOutput(call.CallID, output)
	if err != nil {
		return err
	}
	if err := r.sender.Send(frame); err != nil {
		return fmt.Errorf("failed to send function_call_output: %w", err)
	}

	frame, err = events.ResponseCreate()
	if err != nil {
		return err
	}
	if err := r.sender.Send(frame); err != nil {
		return fmt.Errorf("failed to send response.create: %w", err)
	}
	return nil
}

func (r *Registry) run(ctx context.Context, name, args string) string {
	switch name {
	case ToolGetUserProfile:
		return r.getUserProfile(ctx)
	case ToolUpdateUserProfile:
		return r.updateUserProfile(ctx, args)
	case ToolSearchKnowledge:
		return r.searchKnowledge(ctx, args)
	case ToolLogCorrection:
		return r.logCorrection(ctx, args)
	default:
		slog.Warn("tools: unknown function call", "name", name)
		return errorOutput(fmt.Sprintf("Unknown function: %s", name))
	}
}

func (r *Registry) getUserProfile(ctx context.Context) string {
	profile, err := r.profiles.Load(ctx)
	if err != nil {
		return errorOutput("failed to load profile: " + err.Error())
	}

	if !r.sessionCounted {
		r.sessionCounted = true
		count, _ := profile["session_count"].(float64)
		profile["session_count"] = count + 1
		profile["last_session"] = r.clk.Now().UTC().Format("2006-01-02")
		if err := r.profiles.Save(ctx, profile); err != nil {
			slog.Warn("tools: profile session bookkeeping not saved", "error", err)
		}
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return errorOutput("failed to encode profile: " + err.Error())
	}
	return string(data)
}

type updateProfileArgs struct {
	Updates map[string]any `json:"updates"`
}

func (r *Registry) updateUserProfile(ctx context.Context, args string) string {
	var req updateProfileArgs
	if err := json.Unmarshal([]byte(args), &req); err != nil || len(req.Updates) == 0 {
		return errorOutput("update_user_profile requires an updates object")
	}

	profile, err := r.profiles.Load(ctx)
	if err != nil {
		return errorOutput("failed to load profile: " + err.Error())
	}
	merged := models.UserProfile(MergeProfile(map[string]any(profile), req.Updates))
	if err := r.profiles.Save(ctx, merged); err != nil {
		return errorOutput("failed to save profile: " + err.Error())
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return errorOutput("failed to encode profile: " + err.Error())
	}
	return string(data)
}

type searchArgs struct {
	QueryOriginal string `json:"query_original"`
	QueryEn       string `json:"query_en"`
	Language      string `json:"language"`
	TopK          int    `json:"top_k"`
}

type searchResults struct {
	Results []models.Source `json:"results"`
}

func (r *Registry) searchKnowledge(ctx context.Context, args string) string {
	var req searchArgs
	if err := json.Unmarshal([]byte(args), &req); err != nil || req.QueryOriginal == "" {
		return errorOutput("search_knowledge requires query_original")
	}

	if r.telemetry.SearchStarted != nil {
		r.telemetry.SearchStarted(req.QueryOriginal)
	}
	if r.citations != nil {
		r.citations.ToolSearchStarted()
	}
	started := r.clk.Now()

	raw, err := r.searcher.SearchKnowledge(ctx, upstream.SearchRequest{
		QueryOriginal: req.QueryOriginal,
		QueryEn:       req.QueryEn,
		Language:      req.Language,
		TopK:          req.TopK,
	})
	durationMs := r.clk.Now().Sub(started).Milliseconds()

	if err != nil {
		slog.Warn("tools: knowledge search failed", "error", err)
		if r.telemetry.SearchResult != nil {
			r.telemetry.SearchResult("error", 0, durationMs)
		}
		return errorOutput("knowledge search failed: " + err.Error())
	}

	var parsed searchResults
	if uerr := json.Unmarshal(raw, &parsed); uerr != nil {
		if r.telemetry.SearchResult != nil {
			r.telemetry.SearchResult("error", 0, durationMs)
		}
		return errorOutput("knowledge search returned an unreadable response")
	}
	for i := range parsed.Results {
		if parsed.Results[i].CitationIndex <= 0 {
			parsed.Results[i].CitationIndex = i + 1
		}
	}

	if r.citations != nil {
		r.citations.ToolSearchResult(parsed.Results)
	}
	if r.telemetry.SearchResult != nil {
		r.telemetry.SearchResult("ok", len(parsed.Results), durationMs)
	}

	data, merr := json.Marshal(parsed)
	if merr != nil {
		return errorOutput("failed to encode search results: " + merr.Error())
	}
	return string(data)
}

type logCorrectionArgs struct {
	Original       string `json:"original"`
	Corrected      string `json:"corrected"`
	CorrectionType string `json:"correction_type"`
	Context        string `json:"context"`
}

func (r *Registry) logCorrection(ctx context.Context, args string) string {
	var req logCorrectionArgs
	if err := json.Unmarshal([]byte(args), &req); err != nil {
		return errorOutput("log_correction requires original, corrected and correction_type")
	}

	c, err := r.corrections.Log(ctx, req.Original, req.Corrected, req.CorrectionType, req.Context)
	if err != nil {
		return errorOutput(err.Error())
	}

	data, merr := json.Marshal(map[string]string{
		"status":        "logged",
		"correction_id": c.ID,
	})
	if merr != nil {
		return errorOutput("failed to encode correction receipt: " + merr.Error())
	}
	return string(data)
}

func errorOutput(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(data)
}
