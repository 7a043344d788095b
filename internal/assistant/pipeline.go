package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/metrics"
)

type Options struct {
	Extractor Extractor
	Actions   Actions
	Snapshot  Snapshot
	Log       *zap.Logger
	Now       func() time.Time
	// Zero disables the per-call timeout.
	ExtractTimeout time.Duration
	ExecuteTimeout time.Duration
	NewID          func() string
}

// Reply is the outcome of one submitted utterance.
type Reply struct {
	Turn    ChatTurn `json:"turn"`
	State   State    `json:"state"`
	Outcome string   `json:"outcome,omitempty"`
	// Skipped is set when the utterance was blank and nothing happened.
	Skipped bool `json:"skipped,omitempty"`
}

// Pipeline is one chat session. It is safe for concurrent use, but only
// one utterance is processed at a time; others get ErrBusy.
type Pipeline struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	transcript []ChatTurn
	draft      *ActionDraft
	pending    bool
}

func New(opts Options) *Pipeline {
	if opts.Snapshot == nil {
		opts.Snapshot = emptySnapshot{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		opts:       opts,
		log:        log.With(zap.String("component", "assistant")),
		transcript: []ChatTurn{{Role: RoleAssistant, Text: Greeting}},
	}
}

// outcome is what a turn decided: the reply text and the draft to keep.
type outcome struct {
	text  string
	draft *ActionDraft
	kind  string
}

// Submit processes one utterance and returns the assistant's reply. The
// user turn is visible in Transcript while the reply is being produced.
func (p *Pipeline) Submit(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	p.mu.Lock()
	if text == "" {
		st := p.stateLocked()
		p.mu.Unlock()
		return Reply{State: st, Skipped: true}, nil
	}
	if p.pending {
		p.mu.Unlock()
		return Reply{}, ErrBusy
	}
	p.pending = true
	p.transcript = append(p.transcript, ChatTurn{Role: RoleUser, Text: text})
	var draft *ActionDraft
	if p.draft != nil {
		d := p.draft.clone()
		draft = &d
	}
	transcript := append([]ChatTurn(nil), p.transcript...)
	p.mu.Unlock()

	var out outcome
	if draft != nil && draft.Stage == StateAwaitingConfirmation {
		out = p.confirm(ctx, *draft, text)
	} else {
		out = p.interpret(ctx, draft, transcript)
	}

	turn := ChatTurn{Role: RoleAssistant, Text: out.text}
	p.mu.Lock()
	p.draft = out.draft
	p.transcript = append(p.transcript, turn)
	p.pending = false
	st := p.stateLocked()
	p.mu.Unlock()

	metrics.AssistantTurns.WithLabelValues(out.kind).Inc()
	return Reply{Turn: turn, State: st, Outcome: out.kind}, nil
}

// Transcript returns a copy of the conversation so far.
func (p *Pipeline) Transcript() []ChatTurn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatTurn(nil), p.transcript...)
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Draft returns a copy of the live draft, if any.
func (p *Pipeline) Draft() (ActionDraft, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draft == nil {
		return ActionDraft{}, false
	}
	return p.draft.clone(), true
}

// Pending reports whether an utterance is being processed.
func (p *Pipeline) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Reset drops the draft and starts a new conversation.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		return ErrBusy
	}
	p.draft = nil
	p.transcript = []ChatTurn{{Role: RoleAssistant, Text: Greeting}}
	return nil
}

func (p *Pipeline) stateLocked() State {
	if p.draft == nil {
		return StateIdle
	}
	return p.draft.Stage
}

func (p *Pipeline) confirm(ctx context.Context, draft ActionDraft, text string) outcome {
	switch strings.ToLower(text) {
	case "yes", "y":
		return p.execute(ctx, draft)
	case "no", "n":
		p.log.Info("draft cancelled", zap.String("intent", string(draft.Intent)))
		return outcome{text: msgCancelled, kind: OutcomeCancelled}
	default:
		return outcome{text: msgYesOrNo, draft: &draft, kind: OutcomeReprompt}
	}
}

func (p *Pipeline) interpret(ctx context.Context, draft *ActionDraft, transcript []ChatTurn) outcome {
	req := Request{
		SystemPrompt: BuildSystemPrompt(p.opts.Snapshot, p.opts.Now().UTC().Format(time.DateOnly)),
		Transcript:   transcript,
	}
	ext, err := p.extract(ctx, req)
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			p.log.Warn("extraction response malformed", zap.Error(err))
			return outcome{text: msgMalformed, kind: OutcomeMalformed}
		}
		p.log.Warn("extraction failed", zap.Error(err))
		return outcome{text: msgUnreachable, kind: OutcomeExtractor}
	}

	if !ext.Intent.Actionable() {
		text := msgClarify
		if ext.ConfirmationMessage != "" {
			text = ext.ConfirmationMessage
		}
		return outcome{text: text, kind: OutcomeClarify}
	}

	fields := present(ext.Data)
	if draft != nil && draft.Intent == ext.Intent {
		merged := draft.clone().Fields
		for k, v := range fields {
			merged[k] = v
		}
		fields = merged
	}
	next := ActionDraft{Intent: ext.Intent, Fields: fields}

	switch {
	case ext.ConfirmationMessage != "":
		next.Stage = StateAwaitingConfirmation
		return outcome{text: ext.ConfirmationMessage, draft: &next, kind: OutcomeProposed}
	case len(ext.MissingFields) > 0:
		next.Stage = StateGathering
		return outcome{text: msgMissing(ext.MissingFields), draft: &next, kind: OutcomeGathering}
	case len(fields) > 0:
		// Always ask before writing, even when the extractor reports nothing missing.
		next.Stage = StateAwaitingConfirmation
		return outcome{text: msgReadyPrefix + detailsJSON(fields), draft: &next, kind: OutcomeProposed}
	default:
		return outcome{text: msgClarify, kind: OutcomeClarify}
	}
}

func (p *Pipeline) extract(ctx context.Context, req Request) (Extraction, error) {
	if p.opts.Extractor == nil {
		return Extraction{}, errors.New("no extractor configured")
	}
	if p.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ExtractTimeout)
		defer cancel()
	}
	start := time.Now()
	ext, err := p.opts.Extractor.Extract(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ExtractionDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return ext, err
}

func detailsJSON(fields map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
