// Package orchestrator coordinates translation session lifecycles: it validates
// requests, issues channel credentials, drives the remote provider's task
// endpoints, and keeps the session store consistent with compensating cleanup
// on partial failure.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/AliJawad91/falavox-server/providerapi"
	"github.com/AliJawad91/falavox-server/rtctoken"
	"github.com/AliJawad91/falavox-server/session"
	"github.com/AliJawad91/falavox-server/telemetry"
)

// langPattern accepts ISO 639-1 codes with an optional region ("en", "pt-BR").
var langPattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// maxChannelLen is the provider's channel-name limit.
const maxChannelLen = 64

// TaskClient is the subset of the provider client the orchestrator drives.
type TaskClient interface {
	StartTask(ctx context.Context, r providerapi.StartTaskRequest) (*providerapi.TaskInfo, error)
	StopTask(ctx context.Context, taskID string) (bool, error)
}

// Orchestrator composes the credential issuer, provider client, token cache
// and session store behind start/stop/status operations.
type Orchestrator struct {
	issuer     *rtctoken.Issuer
	client     TaskClient
	tokens     *providerapi.TokenSource
	store      *session.Store
	notifier   Notifier
	sessionTTL time.Duration
}

// New creates an Orchestrator. A nil notifier falls back to LogNotifier.
func New(issuer *rtctoken.Issuer, client TaskClient, tokens *providerapi.TokenSource, store *session.Store, sessionTTL time.Duration, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	o := &Orchestrator{
		issuer:     issuer,
		client:     client,
		tokens:     tokens,
		store:      store,
		notifier:   notifier,
		sessionTTL: sessionTTL,
	}
	// Expiry is an ended transition like any other, so sweep and lazy
	// evictions reach the notifier too. No request context exists for them.
	store.SetOnEvict(func(channel string) {
		o.notifier.SessionEnded(context.Background(), channel, "expired")
	})
	return o
}

// StartRequest is the input to Start. SourceCredential, when set, is a
// caller-supplied pre-issued credential reused instead of issuing a fresh one.
type StartRequest struct {
	Channel          string
	SourceLanguage   string
	TargetLanguage   string
	Options          map[string]any
	SourceCredential *rtctoken.Credential
}

// StartResult is the session summary returned to the caller. It carries the
// issued channel credentials needed to complete the client-side join; the
// orchestrator's own OAuth token is never included.
type StartResult struct {
	SessionID      string              `json:"sessionId"`
	TaskID         string              `json:"taskId"`
	Channel        string              `json:"channel"`
	SourceLanguage string              `json:"sourceLanguage"`
	TargetLanguage string              `json:"targetLanguage"`
	Status         session.Status      `json:"status"`
	CreatedAt      time.Time           `json:"createdAt"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	Source         rtctoken.Credential `json:"sourceCredential"`
	Listener       rtctoken.Credential `json:"listenerCredential"`
	Publisher      rtctoken.Credential `json:"publisherCredential"`
}

// StopResult reports a stop operation. Local state is always cleaned up;
// ProviderError carries the raw provider outcome for observability.
type StopResult struct {
	Channel       string `json:"channel"`
	Found         bool   `json:"found"`
	Stopped       bool   `json:"stopped"`
	ProviderError string `json:"providerError,omitempty"`
}

// StatusResult reports one channel's session state.
type StatusResult struct {
	Channel        string         `json:"channel"`
	HasSession     bool           `json:"hasSession"`
	SessionID      string         `json:"sessionId,omitempty"`
	Status         session.Status `json:"status,omitempty"`
	SourceLanguage string         `json:"sourceLanguage,omitempty"`
	TargetLanguage string         `json:"targetLanguage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt,omitzero"`
	ExpiresAt      time.Time      `json:"expiresAt,omitzero"`
	IsExpired      bool           `json:"isExpired"`
}

// ListResult is the session listing plus aggregate stats. Configured reports
// whether both the credential issuer and the OAuth client have credentials, so
// operators can tell an empty list from a server that cannot start sessions.
type ListResult struct {
	Sessions   []StatusResult `json:"sessions"`
	Count      int            `json:"count"`
	Max        int            `json:"max"`
	Configured bool           `json:"configured"`
}

// Start begins a translation session on a channel, or returns the existing
// active session unchanged (idempotent start).
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	res, created, err := o.start(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	if created {
		o.notifier.SessionStarted(ctx, res)
	}
	return res, nil
}

func (o *Orchestrator) start(ctx context.Context, req StartRequest) (StartResult, bool, error) {
	if err := validateStart(req); err != nil {
		return StartResult{}, false, err
	}

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel", req.Channel))

	// Per-channel lock held across reserve, provider call and commit: two
	// concurrent starts for the same channel linearize, other channels are
	// unaffected.
	unlock := o.store.LockChannel(req.Channel)
	defer unlock()

	if existing, ok := o.store.Get(req.Channel); ok {
		log.Info("start is idempotent: session already active", slog.String("session_id", existing.ID))
		return summarize(&existing), false, nil
	}

	now := time.Now()
	sess := &session.Session{
		ID:             uuid.New().String(),
		Channel:        req.Channel,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Status:         session.StatusStarting,
		CreatedAt:      now,
		ExpiresAt:      now.Add(o.sessionTTL),
	}
	// Put only fails when the store is full.
	if err := o.store.Put(sess); err != nil {
		telemetry.Inc(telemetry.SessionStartFailures)
		return StartResult{}, false, capacityError(o.store.Max())
	}

	source, listener, publisher, err := o.credentials(req)
	if err != nil {
		o.store.Remove(req.Channel)
		telemetry.Inc(telemetry.SessionStartFailures)
		return StartResult{}, false, err
	}

	info, err := o.client.StartTask(ctx, providerapi.StartTaskRequest{
		Channel:        req.Channel,
		SourceUID:      source.UID,
		ListenerUID:    listener.UID,
		ListenerToken:  listener.Token,
		PublisherUID:   publisher.UID,
		PublisherToken: publisher.Token,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Options:        req.Options,
	})
	if err != nil {
		// No task was created provider-side, so removing the placeholder is
		// the whole compensation.
		o.store.Remove(req.Channel)
		telemetry.Inc(telemetry.SessionStartFailures)
		log.Error("provider start task failed", slog.Any("err", err))
		if errors.Is(err, providerapi.ErrAuth) {
			return StartResult{}, false, authError("provider authentication", err)
		}
		return StartResult{}, false, providerError("start translation task", err)
	}

	o.store.Update(req.Channel, func(s *session.Session) {
		s.Status = session.StatusActive
		s.TaskID = info.TaskID
		s.TaskInfo = info
		s.Source = source
		s.Listener = listener
		s.Publisher = publisher
	})
	telemetry.Inc(telemetry.SessionsStarted)

	committed, _ := o.store.Get(req.Channel)
	return summarize(&committed), true, nil
}

// credentials resolves the three channel identities for a start request:
// the audio source (caller-supplied or fresh), the provider's listener and
// the provider's translated-audio publisher.
func (o *Orchestrator) credentials(req StartRequest) (source, listener, publisher rtctoken.Credential, err error) {
	if req.SourceCredential != nil {
		source = *req.SourceCredential
	} else if source, err = o.issuer.Issue(req.Channel, 0); err != nil {
		return source, listener, publisher, authError("issue source credential", err)
	}
	if listener, err = o.issuer.Issue(req.Channel, 0); err != nil {
		return source, listener, publisher, authError("issue listener credential", err)
	}
	if publisher, err = o.issuer.Issue(req.Channel, 0); err != nil {
		return source, listener, publisher, authError("issue publisher credential", err)
	}
	return source, listener, publisher, nil
}

// Stop ends the channel's session. Local state is removed regardless of the
// provider call outcome; an orphaned local record with no way to re-stop it is
// worse than a possibly-redundant provider call.
func (o *Orchestrator) Stop(ctx context.Context, channel string) (StopResult, error) {
	if channel == "" {
		return StopResult{}, validationError("channel must not be empty")
	}

	unlock := o.store.LockChannel(channel)
	res := o.stopLocked(ctx, channel)
	unlock()

	if res.Found {
		o.notifier.SessionEnded(ctx, channel, "stopped")
	}
	return res, nil
}

func (o *Orchestrator) stopLocked(ctx context.Context, channel string) StopResult {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel", channel))

	sess, ok := o.store.Get(channel)
	if !ok {
		return StopResult{Channel: channel, Found: false}
	}

	o.store.Update(channel, func(s *session.Session) { s.Status = session.StatusStopping })

	stopped := false
	var providerErr string
	if sess.TaskID != "" {
		var err error
		stopped, err = o.client.StopTask(ctx, sess.TaskID)
		if err != nil {
			// Best-effort cleanup: surface the outcome, clean up locally anyway.
			providerErr = err.Error()
			telemetry.Inc(telemetry.ProviderStopFailures)
			log.Error("provider stop task failed, removing local session anyway",
				slog.String("task_id", sess.TaskID), slog.Any("err", err))
		}
	}

	o.store.Remove(channel)
	telemetry.Inc(telemetry.SessionsStopped)
	log.Info("session stopped", slog.String("task_id", sess.TaskID), slog.Bool("provider_stopped", stopped))

	return StopResult{Channel: channel, Found: true, Stopped: stopped, ProviderError: providerErr}
}

// Status reports one channel's session state. Pure read apart from the
// store's lazy eviction of expired records.
func (o *Orchestrator) Status(channel string) (StatusResult, error) {
	if channel == "" {
		return StatusResult{}, validationError("channel must not be empty")
	}
	sess, ok := o.store.Get(channel)
	if !ok {
		return StatusResult{Channel: channel, HasSession: false}, nil
	}
	return StatusResult{
		Channel:        channel,
		HasSession:     true,
		SessionID:      sess.ID,
		Status:         sess.Status,
		SourceLanguage: sess.SourceLanguage,
		TargetLanguage: sess.TargetLanguage,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
		IsExpired:      sess.Expired(time.Now()),
	}, nil
}

// List returns summaries of all live sessions plus aggregate stats.
func (o *Orchestrator) List() ListResult {
	sessions := o.store.List()
	out := make([]StatusResult, 0, len(sessions))
	now := time.Now()
	for i := range sessions {
		s := &sessions[i]
		out = append(out, StatusResult{
			Channel:        s.Channel,
			HasSession:     true,
			SessionID:      s.ID,
			Status:         s.Status,
			SourceLanguage: s.SourceLanguage,
			TargetLanguage: s.TargetLanguage,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			IsExpired:      s.Expired(now),
		})
	}
	return ListResult{Sessions: out, Count: len(out), Max: o.store.Max(), Configured: o.configured()}
}

func (o *Orchestrator) configured() bool {
	return o.tokens.Status().IsConfigured && o.issuer.AppID != "" && o.issuer.AppSecret != ""
}

// OAuthStatus reports the token cache state for diagnostics.
func (o *Orchestrator) OAuthStatus() providerapi.TokenStatus {
	return o.tokens.Status()
}

func validateStart(req StartRequest) error {
	if req.Channel == "" {
		return validationError("channel must not be empty")
	}
	if len(req.Channel) > maxChannelLen {
		return validationError("channel exceeds %d bytes", maxChannelLen)
	}
	if !langPattern.MatchString(req.SourceLanguage) {
		return validationError("invalid source language %q", req.SourceLanguage)
	}
	if !langPattern.MatchString(req.TargetLanguage) {
		return validationError("invalid target language %q", req.TargetLanguage)
	}
	if req.SourceCredential != nil && req.SourceCredential.Channel != req.Channel {
		return validationError("pre-issued credential is scoped to channel %q", req.SourceCredential.Channel)
	}
	return nil
}

func summarize(s *session.Session) StartResult {
	return StartResult{
		SessionID:      s.ID,
		TaskID:         s.TaskID,
		Channel:        s.Channel,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		Source:         s.Source,
		Listener:       s.Listener,
		Publisher:      s.Publisher,
	}
}
