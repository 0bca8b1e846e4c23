package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pitchside-ai/pitchside/internal/extract"
	"github.com/pitchside-ai/pitchside/internal/observe"
	"github.com/pitchside-ai/pitchside/internal/resilience"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/segment"
	"github.com/pitchside-ai/pitchside/internal/voicecmd"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
)

// ErrSessionTerminated is returned by commands sent to a session that has
// already reached a terminal state.
var ErrSessionTerminated = errors.New("conversation: session terminated")

// archiveTimeout bounds the persistence handoff of a terminated session.
const archiveTimeout = 10 * time.Second

// Prompts for the recoverable audio-stage failures. These re-ask the user to
// speak; no turn is recorded.
const (
	promptNoSpeech = "I couldn't hear any speech in that recording. Could you try again?"
	promptTooLong  = "That recording was too long for me to process. Could you give me a shorter answer?"
)

// Config tunes the decision rules of every session.
type Config struct {
	// CompletionThreshold is the minimum overall confidence for COMPLETED.
	// Default: 0.75.
	CompletionThreshold float64

	// MaxTurns bounds the conversation length. Default: 6.
	MaxTurns int

	// InactivityTimeout abandons a session that receives no utterance for
	// this long. Reset on every processed utterance. Default: 10m.
	InactivityTimeout time.Duration

	// RetryBudget is the per-adapter-call retry allowance. Default: 3.
	RetryBudget int

	// RetryBaseDelay seeds the exponential backoff between retries.
	// Default: 250ms; tests shrink it.
	RetryBaseDelay time.Duration
}

// withDefaults fills zero-value fields.
func (c Config) withDefaults() Config {
	if c.CompletionThreshold <= 0 {
		c.CompletionThreshold = 0.75
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 6
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 10 * time.Minute
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	return c
}

// chunkCmd appends audio bytes to the session buffer.
type chunkCmd struct {
	data []byte
	errc chan error
}

// utteranceCmd finalizes the buffer and runs one full turn.
type utteranceCmd struct {
	done chan struct{}
}

// Session is the actor owning one logging conversation. All mutable state is
// confined to the run goroutine; the exported methods communicate with it
// over a command channel and are safe for concurrent use.
type Session struct {
	id     string
	userID string
	schema *schema.Schema
	cfg    Config

	buffer       *segment.Buffer
	transcriber  *resilience.FallbackGroup[stt.Provider]
	extractor    *extract.Extractor
	cancelFilter *voicecmd.Filter
	emitter      Emitter
	archiver     Archiver
	metrics      *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan any
	done   chan struct{}
	onDone func(sessionID string)

	// Actor-owned state. Never touched outside the run goroutine.
	state       State
	log         TurnLog
	accumulated map[string]any
	fieldConf   map[string]float64
	lastPrompt  string
	overallConf float64
	startedAt   time.Time

	// snap is the only state readable from outside the actor goroutine.
	snapMu sync.Mutex
	snap   Status
}

func newSession(id, userID string, sc *schema.Schema, buffer *segment.Buffer, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		userID:       userID,
		schema:       sc,
		cfg:          deps.Config.withDefaults(),
		buffer:       buffer,
		transcriber:  deps.Transcriber,
		extractor:    deps.Extractor,
		cancelFilter: deps.CancelPhrases,
		emitter:      deps.Emitter,
		archiver:     deps.Archiver,
		metrics:      deps.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		cmds:         make(chan any),
		done:         make(chan struct{}),
		onDone:       deps.onDone,
		state:        StateStarted,
		accumulated:  make(map[string]any),
		fieldConf:    make(map[string]float64),
		startedAt:    time.Now().UTC(),
	}
	s.updateSnapshot()
	return s
}

// start launches the actor goroutine.
func (s *Session) start() {
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	go s.run()
}

// PushChunk appends audio bytes to the session's utterance buffer. Blocks
// while a previous utterance is still being processed.
func (s *Session) PushChunk(ctx context.Context, chunk []byte) error {
	errc := make(chan error, 1)
	select {
	case s.cmds <- chunkCmd{data: chunk, errc: errc}:
	case <-s.done:
		return ErrSessionTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionTerminated
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndUtterance finalizes the buffered audio and processes one full turn.
// It returns once the turn's outcome is final; conversation outcomes reach
// the caller through the [Emitter], not the return value.
func (s *Session) EndUtterance(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.cmds <- utteranceCmd{done: done}:
	case <-s.done:
		return ErrSessionTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel abandons the session immediately. Any in-flight retry loop is
// halted; late provider responses are discarded on arrival.
func (s *Session) Cancel() {
	s.cancel()
}

// Done returns a channel closed when the actor has fully terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// updateSnapshot refreshes the view served by Status. Called by the actor
// after every state mutation.
func (s *Session) updateSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap = Status{
		SessionID:         s.id,
		ActivityType:      s.schema.Type,
		State:             s.state,
		AccumulatedFields: copyFields(s.accumulated),
		LastPrompt:        s.lastPrompt,
		Turns:             s.log.Len(),
	}
}

// Status returns the current session snapshot. Never blocks on turn
// processing.
func (s *Session) Status() Status {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// run is the actor loop. It owns all session state and exits on the first
// terminal transition.
func (s *Session) run() {
	defer func() {
		if err := s.buffer.Close(); err != nil {
			slog.Warn("session buffer close", "session_id", s.id, "err", err)
		}
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		close(s.done)
		if s.onDone != nil {
			s.onDone(s.id)
		}
	}()

	timer := time.NewTimer(s.cfg.InactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.terminate(StateAbandoned, ReasonCancelled)
			return
		case <-timer.C:
			s.terminate(StateAbandoned, ReasonInactivityTimeout)
			return
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case chunkCmd:
				c.errc <- s.buffer.Append(c.data)
			case utteranceCmd:
				terminal := s.processUtterance()
				close(c.done)
				if terminal {
					return
				}
				resetTimer(timer, s.cfg.InactivityTimeout)
			}
		}
	}
}

// resetTimer safely rearms a timer whose channel may hold a stale fire.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// processUtterance runs one complete turn: finalize audio, transcribe,
// check for a spoken cancel, extract, merge, decide. Returns true when the
// session reached a terminal state.
func (s *Session) processUtterance() bool {
	ctx := s.ctx
	turnStart := time.Now()
	s.setState(StateCollecting)

	utt, err := s.buffer.Finalize()
	if err != nil {
		switch {
		case errors.Is(err, segment.ErrNoSpeechDetected):
			s.reask(promptNoSpeech)
			return false
		case errors.Is(err, segment.ErrDurationExceeded):
			s.reask(promptTooLong)
			return false
		default:
			slog.Error("utterance finalize failed", "session_id", s.id, "err", err)
			s.appendFallbackTurn("", nil, 0)
			s.terminate(StateError, ReasonServiceFailure)
			return true
		}
	}

	// Transcription, with retries around the provider fallback chain.
	sttStart := time.Now()
	transcript, sttRetries, err := resilience.Retry(ctx, s.retryCfg(transientSTT),
		func(ctx context.Context) (stt.Transcript, error) {
			return resilience.Execute(s.transcriber, func(p stt.Provider) (stt.Transcript, error) {
				return p.Transcribe(ctx, utt)
			})
		})
	s.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			s.terminate(StateAbandoned, ReasonCancelled)
			return true
		}
		s.metrics.RecordProviderError(ctx, "stt", "transcribe")
		slog.Error("transcription failed", "session_id", s.id, "retries", sttRetries, "err", err)
		s.appendFallbackTurn("", nil, sttRetries)
		s.terminate(StateError, ReasonServiceFailure)
		return true
	}
	s.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")

	if s.cancelFilter != nil && s.cancelFilter.IsCancel(transcript.Text) {
		s.appendFallbackTurn(transcript.Text, transcript.Confidence, sttRetries)
		s.terminate(StateAbandoned, ReasonCancelled)
		return true
	}

	// Extraction. MalformedResponse is not retried; it falls back to
	// preserving the raw transcript with zero confidence.
	extractStart := time.Now()
	res, extractRetries, err := resilience.Retry(ctx, s.retryCfg(transientExtraction),
		func(ctx context.Context) (extract.Result, error) {
			return s.extractor.Extract(ctx, s.schema.Type, transcript.Text, copyFields(s.accumulated))
		})
	s.metrics.ExtractionDuration.Record(ctx, time.Since(extractStart).Seconds())
	retries := sttRetries + extractRetries
	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.terminate(StateAbandoned, ReasonCancelled)
			return true
		case errors.Is(err, extract.ErrMalformedResponse):
			slog.Warn("extraction response malformed, preserving raw transcript",
				"session_id", s.id, "turn", s.log.Next())
			turn := s.appendFallbackTurn(transcript.Text, transcript.Confidence, retries)
			s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
			return s.decide(turn)
		default:
			s.metrics.RecordProviderError(ctx, "llm", "extract")
			slog.Error("extraction failed", "session_id", s.id, "retries", retries, "err", err)
			s.appendFallbackTurn(transcript.Text, transcript.Confidence, retries)
			s.terminate(StateError, ReasonServiceFailure)
			return true
		}
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "extract", "ok")

	// Merge: last extraction wins, later turns are more informed.
	for name, value := range res.Delta {
		s.accumulated[name] = value
		s.fieldConf[name] = res.Confidences[name]
	}
	s.overallConf = s.requiredConfidence()

	turn := Turn{
		TurnNumber:           s.log.Next(),
		Prompt:               s.lastPrompt,
		Transcript:           transcript.Text,
		TranscriptConfidence: transcript.Confidence,
		ExtractedDelta:       res.Delta,
		FieldConfidences:     res.Confidences,
		ExtractionConfidence: meanConfidence(res.Confidences),
		MissingFields:        s.schema.MissingRequired(s.accumulated),
		RetryCount:           retries,
		Timestamp:            time.Now().UTC(),
	}
	s.mustAppend(turn)
	s.metrics.RecordTurn(ctx, string(s.schema.Type))
	s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())

	slog.Info("turn processed",
		"session_id", s.id,
		"turn", turn.TurnNumber,
		"fields_extracted", len(res.Delta),
		"fields_rejected", len(res.Rejected),
		"missing", len(turn.MissingFields),
		"overall_confidence", s.overallConf,
	)

	return s.decide(turn)
}

// reask emits a re-speak request after a recoverable audio failure and
// returns the session to its pre-utterance waiting state. No turn is
// recorded.
func (s *Session) reask(prompt string) {
	if s.log.Len() == 0 {
		s.setState(StateStarted)
	} else {
		s.setState(StateAskingFollowup)
	}
	s.emitter.EmitPrompt(s.id, prompt)
}

// appendFallbackTurn records a turn whose extraction produced nothing: the
// raw transcript (possibly empty) is preserved, the delta is empty, and the
// extraction confidence is zero.
func (s *Session) appendFallbackTurn(transcript string, transcriptConf *float64, retries int) Turn {
	turn := Turn{
		TurnNumber:           s.log.Next(),
		Prompt:               s.lastPrompt,
		Transcript:           transcript,
		TranscriptConfidence: transcriptConf,
		ExtractionConfidence: 0,
		MissingFields:        s.schema.MissingRequired(s.accumulated),
		RetryCount:           retries,
		Timestamp:            time.Now().UTC(),
	}
	s.mustAppend(turn)
	return turn
}

// mustAppend appends to the turn log. Numbering is derived from the log
// itself, so a failure here is a programming error.
func (s *Session) mustAppend(turn Turn) {
	if err := s.log.Append(turn); err != nil {
		panic(fmt.Sprintf("conversation: %v", err))
	}
	s.updateSnapshot()
}

// decide applies the completion rules after a turn's merge. Returns true
// when the session reached a terminal state.
func (s *Session) decide(turn Turn) bool {
	if len(turn.MissingFields) == 0 && s.overallConf >= s.cfg.CompletionThreshold {
		s.terminate(StateCompleted, "")
		return true
	}
	if turn.TurnNumber >= s.cfg.MaxTurns {
		s.terminate(StateError, ReasonMaxTurnsExceeded)
		return true
	}

	field := s.followupField(turn.MissingFields)
	prompt := field.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Could you tell me the %s?", strings.ReplaceAll(field.Name, "_", " "))
	}
	s.lastPrompt = prompt
	s.setState(StateAskingFollowup)
	s.emitter.EmitPrompt(s.id, prompt)
	return false
}

// followupField picks the single field the next question targets: the
// highest-priority missing required field, or, when none is missing, the
// lowest-confidence filled required field. Ties break on schema declaration
// order.
func (s *Session) followupField(missing []string) schema.Field {
	if len(missing) > 0 {
		f, _ := s.schema.Field(missing[0])
		return f
	}
	var (
		best     schema.Field
		bestConf = 2.0
	)
	for _, name := range s.schema.RequiredFields() {
		if _, filled := s.accumulated[name]; !filled {
			continue
		}
		if c := s.fieldConf[name]; c < bestConf {
			bestConf = c
			best, _ = s.schema.Field(name)
		}
	}
	return best
}

// terminate transitions to a terminal state, emits the result, and hands the
// session record to the persistence collaborator.
func (s *Session) terminate(state State, reason Reason) {
	s.state = state
	s.updateSnapshot()

	dataQuality := 0.0
	if state == StateCompleted {
		dataQuality = s.dataQuality()
	}

	res := Result{
		State:             state,
		Reason:            reason,
		AccumulatedFields: copyFields(s.accumulated),
		OverallConfidence: s.overallConf,
		DataQualityScore:  dataQuality,
	}
	s.metrics.RecordSessionOutcome(context.Background(), string(s.schema.Type), strings.ToLower(string(state)))
	s.emitter.EmitResult(s.id, res)

	rec := Record{
		SessionID:         s.id,
		UserID:            s.userID,
		ActivityType:      s.schema.Type,
		State:             state,
		Reason:            reason,
		StartedAt:         s.startedAt,
		EndedAt:           time.Now().UTC(),
		AccumulatedFields: copyFields(s.accumulated),
		Turns:             s.log.Turns(),
		OverallConfidence: s.overallConf,
		DataQualityScore:  dataQuality,
	}

	// The session context may already be cancelled; archiving gets its own
	// deadline.
	actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archiver.Archive(actx, rec); err != nil {
		slog.Error("session archive failed", "session_id", s.id, "err", err)
	}

	slog.Info("session terminated",
		"session_id", s.id,
		"activity_type", s.schema.Type,
		"state", state,
		"reason", reason,
		"turns", s.log.Len(),
		"overall_confidence", s.overallConf,
	)
}

func (s *Session) setState(state State) {
	s.state = state
	s.updateSnapshot()
}

// retryCfg builds the per-call retry policy.
func (s *Session) retryCfg(retryable func(error) bool) resilience.RetryConfig {
	return resilience.RetryConfig{
		Budget:    s.cfg.RetryBudget,
		BaseDelay: s.cfg.RetryBaseDelay,
		Retryable: retryable,
	}
}

// transientSTT reports whether a transcription error is worth retrying.
// Invalid audio is a caller bug and surfaces immediately.
func transientSTT(err error) bool {
	if errors.Is(err, stt.ErrInvalidAudioFormat) {
		return false
	}
	return errors.Is(err, stt.ErrServiceUnavailable) || errors.Is(err, resilience.ErrAllFailed)
}

// transientExtraction reports whether an extraction error is worth retrying.
// Malformed model output is deterministic for a given reply and never
// retried.
func transientExtraction(err error) bool {
	return !errors.Is(err, extract.ErrMalformedResponse)
}

// requiredConfidence is the mean per-field extraction confidence over the
// filled required fields, the session's overall confidence.
func (s *Session) requiredConfidence() float64 {
	var sum float64
	var n int
	for _, name := range s.schema.RequiredFields() {
		if _, filled := s.accumulated[name]; !filled {
			continue
		}
		sum += s.fieldConf[name]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// dataQuality is the mean extraction confidence across every turn's
// contribution to required fields, not just the final values, so sessions
// that resolved ambiguity early score higher.
func (s *Session) dataQuality() float64 {
	var sum float64
	var n int
	for _, turn := range s.log.Turns() {
		for name, conf := range turn.FieldConfidences {
			if f, ok := s.schema.Field(name); !ok || !f.Required {
				continue
			}
			sum += conf
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanConfidence(confs map[string]float64) float64 {
	if len(confs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confs {
		sum += c
	}
	return sum / float64(len(confs))
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
