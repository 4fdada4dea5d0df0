// Package correction tracks detected learner mistakes through their
// asynchronous verification lifecycle.
package correction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/client"
)

const verifyTimeout = 15 * time.Second

// Verifier runs the gateway verification round-trip.
type Verifier interface {
	VerifyCorrection(ctx context.Context, req client.VerifyCorrectionRequest) (*client.VerifyResult, error)
}

// Events fan out lifecycle transitions to the UI layer.
type Events struct {
	Detected              func(c models.Correction)
	VerificationStarted   func(id string)
	VerificationSucceeded func(c models.Correction)
	VerificationFailed    func(id string, err error)
}

// Tracker owns the correction records for one session. Status transitions
// are monotonic: detected -> verifying -> verified | failed. Feedback is
// stored independently and never triggers re-verification.
type Tracker struct {
	mu           sync.Mutex
	records      map[string]*models.Correction
	order        []string
	verifier     Verifier
	newID        func() string
	learnerLevel string
	events       Events
	wg           sync.WaitGroup
}

func NewTracker(verifier Verifier, newID func() string, learnerLevel string, events Events) *Tracker {
	return &Tracker{
		records:      make(map[string]*models.Correction),
		verifier:     verifier,
		newID:        newID,
		learnerLevel: learnerLevel,
		events:       events,
	}
}

var statusRank = map[models.CorrectionStatus]int{
	models.CorrectionDetected:  0,
	models.CorrectionVerifying: 1,
	models.CorrectionVerified:  2,
	models.CorrectionFailed:    2,
}

// Log records a detected correction and spawns its verification. The
// detected record is returned immediately; verification results arrive
// through Events.
func (t *Tracker) Log(ctx context.Context, original, corrected, correctionType, conversationContext string) (models.Correction, error) {
	if original == "" || corrected == "" {
		return models.Correction{}, fmt.Errorf("correction requires original and corrected text")
	}
	if !models.ValidCorrectionType(correctionType) {
		return models.Correction{}, fmt.Errorf("invalid correction type: %q", correctionType)
	}

	c := models.Correction{
		ID:             t.newID(),
		Original:       original,
		Corrected:      corrected,
		CorrectionType: models.CorrectionType(correctionType),
		Status:         models.CorrectionDetected,
	}

	t.mu.Lock()
	t.records[c.ID] = &c
	t.order = append(t.order, c.ID)
	t.mu.Unlock()

	if t.events.Detected != nil {
		t.events.Detected(c)
	}

	t.wg.Add(1)
	go t.verify(c.ID, conversationContext)
	return c, nil
}

func (t *Tracker) verify(id, conversationContext string) {
	defer t.wg.Done()

	req, ok := t.beginVerification(id)
	if !ok {
		return
	}
	req.ConversationContext = conversationContext
	if t.events.VerificationStarted != nil {
		t.events.VerificationStarted(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	result, err := t.verifier.VerifyCorrection(ctx, req)
	if err != nil {
		slog.Warn("correction: verification failed", "correction", id, "error", err)
		t.advance(id, models.CorrectionFailed, nil)
		if t.events.VerificationFailed != nil {
			t.events.VerificationFailed(id, err)
		}
		return
	}

	verified := t.advance(id, models.CorrectionVerified, result)
	if verified != nil && t.events.VerificationSucceeded != nil {
		t.events.VerificationSucceeded(*verified)
	}
}

func (t *Tracker) beginVerification(id string) (client.VerifyCorrectionRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.records[id]
	if !ok || statusRank[c.Status] >= statusRank[models.CorrectionVerifying] {
		return client.VerifyCorrectionRequest{}, false
	}
	c.Status = models.CorrectionVerifying
	return client.VerifyCorrectionRequest{
		CorrectionID:   c.ID,
		Original:       c.Original,
		Corrected:      c.Corrected,
		CorrectionType: string(c.CorrectionType),
		LearnerLevel:   t.learnerLevel,
	}, true
}

func (t *Tracker) advance(id string, status models.CorrectionStatus, result *client.VerifyResult) *models.Correction {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.records[id]
	if !ok || statusRank[status] <= statusRank[c.Status] {
		return nil
	}
	c.Status = status
	if result != nil {
		c.Rule = result.Rule
		c.Confidence = result.Confidence
		c.IsAmbiguous = result.IsAmbiguous
		if ts, err := time.Parse(time.RFC3339, result.VerifiedAt); err == nil {
			c.VerifiedAt = &ts
		}
		if result.Correction != "" {
			c.Corrected = result.Correction
		}
	}
	cp := *c
	return &cp
}

// SetFeedback stores the learner's reaction on an existing record. It is
// echoed back unchanged and never re-runs verification.
func (t *Tracker) SetFeedback(id string, fb models.UserFeedback) (models.Correction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.records[id]
	if !ok {
		return models.Correction{}, false
	}
	c.UserFeedback = fb
	return *c, true
}

// Get returns a copy of one correction record.
func (t *Tracker) Get(id string) (models.Correction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.records[id]
	if !ok {
		return models.Correction{}, false
	}
	return *c, true
}

// List returns all records in detection order.
func (t *Tracker) List() []models.Correction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Correction, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.records[id])
	}
	return out
}

// Wait blocks until all in-flight verifications settle. Test hook.
func (t *Tracker) Wait() { t.wg.Wait() }
