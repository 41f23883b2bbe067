package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nxtg-ai/voxbridge/internal/admission"
	"github.com/nxtg-ai/voxbridge/internal/arbiter"
	"github.com/nxtg-ai/voxbridge/internal/config"
	"github.com/nxtg-ai/voxbridge/internal/control"
	"github.com/nxtg-ai/voxbridge/internal/eventbus"
	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/internal/policy"
	"github.com/nxtg-ai/voxbridge/internal/ragctx"
	"github.com/nxtg-ai/voxbridge/internal/upstream"
	"github.com/nxtg-ai/voxbridge/pkg/audio"
	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
	"github.com/nxtg-ai/voxbridge/pkg/realtime"
	"github.com/nxtg-ai/voxbridge/pkg/transcriptstore"
)

// writeQueueSize bounds the outbound client queue. Sends beyond capacity
// are dropped with a warning rather than blocking the session loop.
const writeQueueSize = 256

// signalQueueSize bounds the arbitration signal queue between the
// arbitrator's emission (under its lock) and the session's signal pump.
const signalQueueSize = 128

// pendingAudioCap bounds reasoning-lane audio buffered between upstream
// arrival and the play_lane_b signal (the transition gap). Oldest frames
// are dropped at capacity.
const pendingAudioCap = 64

// storeTimeout bounds each best-effort transcript persistence call.
const storeTimeout = 3 * time.Second

// Deps are the shared collaborators a Session is built from. Knowledge,
// Claims, and Visits are shared read-only (or internally locked) across
// sessions; everything session-scoped is constructed per session.
type Deps struct {
	Config   config.Config
	Provider realtime.Provider

	// Knowledge backs per-response retrieval. nil runs the session without
	// response-scoped facts; the session-level prompt still applies.
	Knowledge *knowledge.Service
	Claims    *knowledge.ClaimRegistry

	// Store is optional; nil disables transcript persistence.
	Store transcriptstore.Store

	Metrics *observe.Metrics
	Visits  *VisitRegistry
	Logger  *slog.Logger

	// ReflexClip and FallbackClip override the stock lane utterances.
	ReflexClip   Clip
	FallbackClip Clip
}

// Session is one client conversation: the read loop, the serialized
// client writer, the arbitration signal pump, and the upstream event
// pump, all wired to session-scoped subsystems.
type Session struct {
	id        string
	log       *slog.Logger
	transport Transport
	cfg       config.Config

	bus      *eventbus.Bus
	arb      *arbiter.Arbitrator
	gate     *admission.Gate
	adapter  *upstream.Adapter
	engine   *control.Engine
	rag      *ragctx.Builder
	redactor *policy.Redactor
	catalog  *knowledge.DisclaimerCatalog
	store    transcriptstore.Store
	metrics  *observe.Metrics
	visits   *VisitRegistry

	reflex   *lanePlayer
	fallback *lanePlayer
	norm     audio.Normalizer

	// reflexStartedAt is touched only from the signal dispatch goroutine.
	reflexStartedAt time.Time

	writes  chan ServerMessage
	signals chan arbiter.SignalEvent

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	endOnce sync.Once

	mu             sync.Mutex
	startedAt      time.Time
	lastActivity   time.Time
	started        bool
	laneBOpen      bool
	pendingAudio   [][]byte
	userTurns      int
	assistantTurns int
}

// New builds a session around an accepted transport. Run must be called
// to start processing.
func New(id string, transport Transport, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", id)

	s := &Session{
		id:        id,
		log:       log,
		transport: transport,
		cfg:       deps.Config,
		store:     deps.Store,
		metrics:   deps.Metrics,
		visits:    deps.Visits,
		writes:    make(chan ServerMessage, writeQueueSize),
		signals:   make(chan arbiter.SignalEvent, signalQueueSize),
		startedAt: time.Now(),
	}
	s.lastActivity = s.startedAt

	s.bus = eventbus.New(id)

	s.arb = arbiter.New(id, arbiter.Config{
		ReflexEnabled:        true,
		MinDelayBeforeReflex: deps.Config.Lanes.MinDelayBeforeReflex(),
		MaxReflexDuration:    deps.Config.Lanes.MaxReflexDuration(),
		TransitionGap:        deps.Config.Lanes.TransitionGap(),
	}, s.enqueueSignal, arbiter.WithLogger(log))

	s.adapter = upstream.New(deps.Provider, upstream.Config{
		SessionID:            id,
		Voice:                deps.Config.Upstream.Voice,
		Mode:                 deps.Config.Session.DefaultVoiceMode,
		MaxReconnectAttempts: deps.Config.Upstream.MaxReconnectAttempts,
	}, upstream.WithLogger(log), upstream.WithMetrics(deps.Metrics))

	s.gate = admission.NewGate(admission.Config{
		Cooldown: deps.Config.Admission.Cooldown(),
		MinRMS:   deps.Config.Admission.MinRMS,
	}, s.arb, s.adapter,
		admission.WithLogger(log),
		admission.WithActivityFunc(s.touch))

	s.buildPolicy(deps)

	if deps.Knowledge != nil {
		s.catalog = deps.Knowledge.Catalog()
	}
	s.rag = ragctx.NewBuilder(deps.Knowledge, knowledge.Caps{
		TopK:      deps.Config.Knowledge.TopK,
		MaxTokens: deps.Config.Knowledge.MaxTokens,
		MaxBytes:  deps.Config.Knowledge.MaxBytes,
	}, s.bus, ragctx.WithLogger(log), ragctx.WithRedactor(s.redactor))
	s.adapter.SetResponseInstructionsProvider(s.rag.BuildInstructions)

	reflexClip := deps.ReflexClip
	if reflexClip.Text == "" && len(reflexClip.Audio) == 0 {
		reflexClip = DefaultReflexClip
	}
	fallbackClip := deps.FallbackClip
	if fallbackClip.Text == "" && len(fallbackClip.Audio) == 0 {
		fallbackClip = DefaultFallbackClip
	}
	s.reflex = newLanePlayer(LaneReflex, reflexClip, s.send, nil)
	s.fallback = newLanePlayer(LaneFallback, fallbackClip, s.send, s.arb.OnFallbackComplete)

	return s
}

// buildPolicy assembles the per-session policy pipeline and control
// engine from the shared registries.
func (s *Session) buildPolicy(deps Deps) {
	mode := deps.Config.Policy.PIIMode
	if mode == "" {
		mode = policy.PIIModeRedact
	}
	s.redactor = policy.NewRedactor(mode)

	var claimOpts []policy.ClaimsOption
	if t := deps.Config.Policy.PartialMatchThreshold; t > 0 {
		claimOpts = append(claimOpts, policy.WithPartialMatchThreshold(t))
	}
	gate := policy.NewGate(
		s.redactor,
		policy.NewCategorizedModerator(policy.DefaultCategories()),
		policy.NewClaimsChecker(deps.Claims, claimOpts...),
	)

	var catalog *knowledge.DisclaimerCatalog
	if deps.Knowledge != nil {
		catalog = deps.Knowledge.Catalog()
	}
	ctrlOpts := []control.Option{
		control.WithLogger(s.log),
		control.WithCanceller(s),
	}
	if sev := deps.Config.Policy.CancelSeverity; sev > 0 {
		ctrlOpts = append(ctrlOpts, control.WithCancelSeverity(sev))
	}
	s.engine = control.NewEngine(gate, catalog, s.bus, ctrlOpts...)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// LastActivity returns the time of the last client traffic or forwarded
// audio. The manager's idle sweep reads this.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Ended reports whether the session has been torn down.
func (s *Session) Ended() bool {
	return s.arb.State() == arbiter.StateEnded
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// OnPolicyCancel implements control.Canceller: cut the in-flight upstream
// response, then let the arbitrator route to the fallback lane.
func (s *Session) OnPolicyCancel() {
	if err := s.adapter.Cancel(context.Background()); err != nil {
		s.log.Warn("cancel after policy decision failed", "error", err)
	}
	s.arb.OnPolicyCancel()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run processes the session until the client disconnects, the context is
// cancelled, or the client sends session.end. It always tears the
// session down before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel

	s.wg.Add(3)
	go s.writerLoop()
	go s.signalLoop()
	go s.upstreamLoop()

	err := s.readLoop(ctx)
	s.End("transport_closed")
	s.wg.Wait()
	// The adapter channel is closed by End; discard anything still buffered.
	audio.Drain(s.adapter.Events())
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		data, err := s.transport.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && s.arb.State() != arbiter.StateEnded {
				s.log.Info("client disconnected", "error", err)
			}
			return nil
		}
		s.handle(ctx, data)
		if s.arb.State() == arbiter.StateEnded {
			return nil
		}
	}
}

// End tears the session down: ends arbitration, stops lane playout,
// disconnects upstream, records the summary, and closes the transport.
// Idempotent; safe from any goroutine.
func (s *Session) End(cause string) {
	s.endOnce.Do(func() {
		s.arb.EndSession()
		s.reflex.Stop()
		s.fallback.Stop()
		s.adapter.Disconnect()
		s.writeSummary()
		s.bus.Close()
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.transport.Close()
		s.log.Info("session ended", "cause", cause)
	})
}

// writeSummary persists the session roll-up. Best effort: failures are
// logged, never surfaced.
func (s *Session) writeSummary() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	started := s.started
	sum := transcriptstore.Summary{
		SessionID:      s.id,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now(),
		UserTurns:      s.userTurns,
		AssistantTurns: s.assistantTurns,
	}
	s.mu.Unlock()
	if !started {
		return
	}
	sum.PolicyCancels = s.engine.MetricsSnapshot().Cancels

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.WriteSummary(ctx, sum); err != nil {
		s.log.Warn("session summary write failed", "error", err)
	}
}

// ─── Client message handling ────────────────────────────────────────────────

func (s *Session) handle(ctx context.Context, data []byte) {
	msg, err := decodeClient(data)
	if err != nil {
		s.send(ServerMessage{Type: MsgError, Error: "invalid JSON"})
		return
	}
	s.touch()

	switch msg.Type {
	case MsgSessionStart:
		s.handleStart(msg)
	case MsgSessionSetMode:
		s.handleSetMode(msg)
	case MsgAudioChunk:
		s.handleAudio(ctx, msg)
	case MsgAudioStop:
		s.handleStop(ctx, MsgAudioStopAck)
	case MsgAudioCancel:
		s.handleStop(ctx, MsgAudioCancelAck)
	case MsgAudioCommit:
		s.handleCommit(ctx)
	case MsgPlaybackEnded:
		s.gate.OnPlaybackEnded()
	case MsgUserBargeIn:
		s.gate.OnBargeIn()
		s.send(ServerMessage{Type: MsgUserBargeInAck})
	case MsgSessionEnd:
		s.End("client_request")
	default:
		s.log.Warn("unknown client message type", "type", msg.Type)
	}
}

func (s *Session) handleStart(msg ClientMessage) {
	s.mu.Lock()
	already := s.started
	s.started = true
	s.mu.Unlock()
	if already {
		s.log.Warn("duplicate session.start ignored")
		return
	}

	mode := s.cfg.Session.DefaultVoiceMode
	if m := realtime.VoiceMode(msg.VoiceMode); m.Valid() {
		mode = m
	} else if msg.VoiceMode != "" {
		s.log.Warn("invalid voice mode on session.start, using default", "mode", msg.VoiceMode)
	}
	if mode == "" {
		mode = realtime.VoiceModePushToTalk
	}

	s.gate.OnSessionStart()
	s.arb.StartSession()
	s.send(ServerMessage{Type: MsgSessionReady, SessionID: s.id})
	if s.metrics != nil {
		s.metrics.SessionsStarted.Add(s.ctx, 1)
	}
	s.log.Info("session started", "mode", string(mode), "user_agent", msg.UserAgent)

	// Connecting dials the provider; keep the read loop responsive.
	go s.connectUpstream(mode, msg.Fingerprint)
}

func (s *Session) connectUpstream(mode realtime.VoiceMode, fingerprint string) {
	if err := s.adapter.Connect(s.ctx); err != nil {
		s.log.Error("upstream connect failed", "error", err)
		if s.metrics != nil {
			s.metrics.UpstreamErrors.Add(s.ctx, 1)
		}
		s.send(ServerMessage{Type: MsgError, Error: "reasoning lane unavailable"})
		return
	}
	if err := s.adapter.SetVoiceMode(mode); err != nil {
		s.log.Warn("set voice mode failed", "error", err)
	}

	previous := 0
	if s.visits != nil {
		previous = s.visits.Visit(fingerprint)
	}
	s.send(ServerMessage{
		Type:                 MsgProviderReady,
		IsReturningUser:      boolPtr(previous > 0),
		PreviousSessionCount: intPtr(previous),
		VoiceMode:            string(s.adapter.Mode()),
	})
}

func (s *Session) handleSetMode(msg ClientMessage) {
	mode := realtime.VoiceMode(msg.VoiceMode)
	if !mode.Valid() {
		s.log.Warn("invalid voice mode ignored", "mode", msg.VoiceMode)
		return
	}
	if err := s.adapter.SetVoiceMode(mode); err != nil {
		s.log.Warn("set voice mode failed", "error", err)
		return
	}
	s.send(ServerMessage{Type: MsgModeChanged, VoiceMode: string(mode)})
}

func (s *Session) handleAudio(ctx context.Context, msg ClientMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		s.log.Warn("undecodable audio chunk dropped", "error", err)
		return
	}
	chunk := s.norm.Normalize(audio.Chunk{Data: data, Codec: msg.Format, SampleRate: msg.SampleRate})
	if len(chunk.Data) == 0 {
		return
	}
	reason, err := s.gate.Admit(ctx, chunk)
	if err != nil {
		s.log.Warn("audio forward failed", "error", err)
		return
	}
	if reason != admission.DropNone && s.metrics != nil {
		s.metrics.RecordAdmissionDrop(ctx, string(reason))
	}
}

func (s *Session) handleStop(ctx context.Context, ack string) {
	if err := s.gate.OnStop(ctx); err != nil {
		s.log.Warn("stop handling failed", "error", err)
	}
	s.send(ServerMessage{Type: ack})
}

func (s *Session) handleCommit(ctx context.Context) {
	ok, err := s.gate.OnCommit(ctx)
	if err != nil {
		s.log.Warn("commit failed", "error", err)
		return
	}
	if !ok {
		s.send(ServerMessage{Type: MsgCommitSkipped, Reason: ReasonBufferTooSmall})
	}
}

// ─── Arbitration signals ────────────────────────────────────────────────────

// enqueueSignal is the arbitrator's SignalFunc. It runs under the
// arbitrator's lock, so it only forwards to the signal pump.
func (s *Session) enqueueSignal(evt arbiter.SignalEvent) {
	select {
	case s.signals <- evt:
	default:
		s.log.Warn("signal queue full, dropping", "signal", string(evt.Signal))
	}
}

func (s *Session) signalLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.signals:
			s.dispatchSignal(evt)
		}
	}
}

func (s *Session) dispatchSignal(evt arbiter.SignalEvent) {
	switch evt.Signal {
	case arbiter.SignalStateChange:
		s.send(ServerMessage{
			Type:  MsgLaneStateChanged,
			From:  string(evt.From),
			To:    string(evt.To),
			Cause: evt.Cause,
		})
	case arbiter.SignalOwnerChange:
		s.send(ServerMessage{
			Type:  MsgLaneOwnerChanged,
			From:  string(evt.FromOwner),
			To:    string(evt.ToOwner),
			Cause: evt.Cause,
		})
	case arbiter.SignalPlayReflex:
		s.reflexStartedAt = time.Now()
		s.reflex.Play()
	case arbiter.SignalStopReflex:
		s.reflex.Stop()
		if s.metrics != nil && !s.reflexStartedAt.IsZero() {
			s.metrics.ReflexDuration.Record(s.ctx, time.Since(s.reflexStartedAt).Seconds())
			s.reflexStartedAt = time.Time{}
		}
	case arbiter.SignalPlayLaneB:
		s.openLaneB()
	case arbiter.SignalStopLaneB:
		s.closeLaneB()
	case arbiter.SignalPlayFallback:
		s.fallback.Play()
	case arbiter.SignalStopFallback:
		s.fallback.Stop()
	case arbiter.SignalResponseComplete:
		s.gate.OnResponseComplete()
	}
}

// openLaneB starts forwarding reasoning-lane audio and flushes frames
// that arrived during the reflex-to-B transition gap.
func (s *Session) openLaneB() {
	s.mu.Lock()
	s.laneBOpen = true
	pending := s.pendingAudio
	s.pendingAudio = nil
	s.mu.Unlock()
	for _, frame := range pending {
		s.sendLaneAudio(LaneB, frame)
	}
}

func (s *Session) closeLaneB() {
	s.mu.Lock()
	s.laneBOpen = false
	s.pendingAudio = nil
	s.mu.Unlock()
}

// ─── Upstream events ────────────────────────────────────────────────────────

func (s *Session) upstreamLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-s.adapter.Events():
			if !ok {
				return
			}
			s.dispatchUpstream(evt)
		}
	}
}

func (s *Session) dispatchUpstream(evt upstream.Event) {
	switch evt.Type {
	case upstream.EventSpeechStarted:
		s.send(ServerMessage{Type: MsgSpeechStarted})
	case upstream.EventSpeechStopped:
		// In open-mic capture the provider's VAD ends the turn; there is
		// no client commit to start the response cycle, so start it here.
		if s.adapter.Mode() == realtime.VoiceModeOpenMic {
			s.gate.OnUpstreamSpeechEnded()
		}
		s.send(ServerMessage{Type: MsgSpeechStopped})
	case upstream.EventResponseStart:
		s.send(ServerMessage{Type: MsgResponseStart})
	case upstream.EventFirstAudioReady:
		s.arb.OnLaneBReady()
		if s.metrics != nil && evt.TTFBMS > 0 {
			s.metrics.RecordTTFB(s.ctx, float64(evt.TTFBMS)/1000)
		}
	case upstream.EventAudio:
		s.onLaneBAudio(evt.Audio)
	case upstream.EventTranscript:
		s.onAssistantTranscript(evt)
	case upstream.EventUserTranscript:
		s.onUserTranscript(evt)
	case upstream.EventResponseEnd:
		s.arb.OnLaneBDone()
		s.send(ServerMessage{Type: MsgResponseEnd})
	case upstream.EventError:
		s.log.Warn("upstream error", "error", evt.Err)
		if s.metrics != nil {
			s.metrics.UpstreamErrors.Add(s.ctx, 1)
		}
	}
}

// onLaneBAudio forwards reasoning audio to the client, or buffers it when
// the arbitrator has not yet granted lane B the speaker.
func (s *Session) onLaneBAudio(frame []byte) {
	s.mu.Lock()
	open := s.laneBOpen
	if !open {
		if len(s.pendingAudio) >= pendingAudioCap {
			s.pendingAudio = s.pendingAudio[1:]
		}
		s.pendingAudio = append(s.pendingAudio, frame)
	}
	s.mu.Unlock()
	if open {
		s.sendLaneAudio(LaneB, frame)
	}
}

func (s *Session) sendLaneAudio(lane string, frame []byte) {
	s.send(ServerMessage{
		Type:       MsgAudioChunk,
		Data:       base64.StdEncoding.EncodeToString(frame),
		Format:     audio.CodecPCM16,
		SampleRate: audio.DefaultSampleRate,
		Lane:       lane,
	})
}

// onAssistantTranscript relays reasoning transcripts. Deltas are redacted
// and forwarded; finals run the full policy pipeline first. A binding
// cancel_output suppresses the text entirely (the canceller has already
// cut the response and routed to the fallback lane).
func (s *Session) onAssistantTranscript(evt upstream.Event) {
	if !evt.IsFinal {
		text, _ := s.redactor.RedactText(evt.Text)
		s.send(ServerMessage{
			Type:      MsgTranscript,
			Text:      text,
			IsFinal:   boolPtr(false),
			Timestamp: time.Now().UnixMilli(),
			Lane:      s.currentLane(),
		})
		return
	}

	out := s.engine.Evaluate(s.ctx, policy.Input{
		Role:    policy.RoleAssistant,
		Text:    evt.Text,
		IsFinal: true,
	})
	if s.metrics != nil {
		s.metrics.RecordPolicyDecision(s.ctx, string(out.Kind))
		s.metrics.PolicyDuration.Record(s.ctx, float64(out.CheckDurationMS)/1000)
		if out.Overridden {
			s.metrics.ControlOverrides.Add(s.ctx, 1)
		}
	}
	if out.Kind == policy.CancelOutput {
		return
	}

	text := evt.Text
	if out.SafeRewrite != "" && (out.Kind == policy.Rewrite || out.Kind == policy.Refuse) {
		text = out.SafeRewrite
	} else {
		text, _ = s.redactor.RedactText(text)
	}
	text = s.appendDisclaimers(text, out.DisclaimerText)

	lane := s.currentLane()
	s.send(ServerMessage{
		Type:       MsgTranscript,
		Text:       text,
		Confidence: 1,
		IsFinal:    boolPtr(true),
		Timestamp:  time.Now().UnixMilli(),
		Lane:       lane,
	})

	s.mu.Lock()
	s.assistantTurns++
	s.mu.Unlock()
	s.persistSegment(transcriptstore.RoleAssistant, text, lane)
}

// appendDisclaimers attaches the policy-required disclaimer plus any
// disclaimers implied by the retrieval pack behind the last response.
func (s *Session) appendDisclaimers(text, policyDisclaimer string) string {
	var parts []string
	if policyDisclaimer != "" {
		parts = append(parts, policyDisclaimer)
	}
	for _, id := range s.rag.TakeRequiredDisclaimers() {
		if s.catalog == nil {
			break
		}
		d, ok := s.catalog.Resolve(id)
		if !ok {
			s.log.Warn("retrieval disclaimer not found, dropping", "disclaimer_id", id)
			continue
		}
		if d.Text != policyDisclaimer {
			parts = append(parts, d.Text)
		}
	}
	if len(parts) == 0 {
		return text
	}
	return strings.TrimSpace(text) + "\n\n" + strings.Join(parts, "\n")
}

func (s *Session) onUserTranscript(evt upstream.Event) {
	text, _ := s.redactor.RedactText(evt.Text)
	s.send(ServerMessage{
		Type:      MsgUserTranscript,
		Text:      text,
		IsFinal:   boolPtr(evt.IsFinal),
		Timestamp: time.Now().UnixMilli(),
	})
	if !evt.IsFinal {
		return
	}
	s.mu.Lock()
	s.userTurns++
	s.mu.Unlock()
	s.persistSegment(transcriptstore.RoleUser, text, "")
}

// persistSegment writes one final transcript segment. Best effort.
func (s *Session) persistSegment(role transcriptstore.Role, text, lane string) {
	if s.store == nil || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := s.store.WriteSegment(ctx, transcriptstore.Segment{
		SessionID: s.id,
		Role:      role,
		Text:      text,
		Lane:      lane,
		At:        time.Now(),
	})
	if err != nil {
		s.log.Warn("transcript segment write failed", "error", err)
	}
}

func (s *Session) currentLane() string {
	switch s.arb.Owner() {
	case arbiter.OwnerFallback:
		return LaneFallback
	default:
		return LaneB
	}
}

// ─── Client writer ──────────────────────────────────────────────────────────

// send enqueues a message for the serialized writer. Never blocks; when
// the queue is full the message is dropped with a warning.
func (s *Session) send(msg ServerMessage) {
	select {
	case s.writes <- msg:
	default:
		s.log.Warn("client write queue full, dropping", "type", msg.Type)
	}
}

func (s *Session) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writes:
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("marshal server message failed", "type", msg.Type, "error", err)
				continue
			}
			if err := s.transport.WriteMessage(s.ctx, data); err != nil {
				if s.ctx.Err() == nil {
					s.log.Debug("client write failed", "type", msg.Type, "error", err)
				}
			}
		}
	}
}
