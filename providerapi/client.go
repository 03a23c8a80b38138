package providerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AliJawad91/falavox-server/telemetry"
)

// Client calls the provider's translation-task endpoints using an app access
// token from TokenSource. It is stateless: no task state is retained across
// calls, and no retries happen at this layer (a retry after a partial
// provider-side state change could double-create a task).
type Client struct {
	BaseURL     string
	AppID       string
	TokenSource *TokenSource
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// StartTaskRequest carries the already-issued channel credentials and language
// pair for one translation task.
type StartTaskRequest struct {
	Channel        string
	SourceUID      uint32 // identity publishing the source audio
	ListenerUID    uint32 // identity the provider joins with to subscribe
	ListenerToken  string
	PublisherUID   uint32 // identity the provider publishes translated audio with
	PublisherToken string
	SourceLanguage string
	TargetLanguage string
	Options        map[string]any
}

// TaskInfo is the provider's opaque task descriptor. Raw preserves the full
// response body for diagnostics.
type TaskInfo struct {
	TaskID string          `json:"taskId"`
	Status string          `json:"status,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// startTaskBody is the provider wire format; field names are part of the
// provider contract and must not change.
type startTaskBody struct {
	Channel           string            `json:"channel"`
	RemoteUID         uint32            `json:"remote_uid"`
	LocalUID          uint32            `json:"local_uid"`
	Token             string            `json:"token"`
	SpeechRecognition speechRecognition `json:"speech_recognition"`
	Translations      []translationSpec `json:"translations"`
}

type speechRecognition struct {
	SourceLanguage string         `json:"source_language"`
	Options        map[string]any `json:"options,omitempty"`
}

type translationSpec struct {
	Token          string         `json:"token"`
	LocalUID       uint32         `json:"local_uid"`
	TargetLanguage string         `json:"target_language"`
	Options        map[string]any `json:"options,omitempty"`
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *Client) tasksURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/rtsc/speech-to-text/tasks", c.BaseURL, c.AppID)
}

// StartTask asks the provider to start a streaming translation task on the
// channel. Non-2xx responses and transport errors surface as errors; a 401
// additionally invalidates the cached app token.
func (c *Client) StartTask(ctx context.Context, r StartTaskRequest) (*TaskInfo, error) {
	body := startTaskBody{
		Channel:   r.Channel,
		RemoteUID: r.SourceUID,
		LocalUID:  r.ListenerUID,
		Token:     r.ListenerToken,
		SpeechRecognition: speechRecognition{
			SourceLanguage: r.SourceLanguage,
			Options:        r.Options,
		},
		Translations: []translationSpec{{
			Token:          r.PublisherToken,
			LocalUID:       r.PublisherUID,
			TargetLanguage: r.TargetLanguage,
			Options:        r.Options,
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode start task request: %w", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "providerapi", "StartTask", telemetry.ChannelAttr(r.Channel))
	defer span.End()
	// The deadline covers token acquisition too, so a stalled token endpoint
	// cannot hold a start open past the operation timeout.
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	tok, err := c.TokenSource.Get(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("acquire app token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tasksURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	var resp *http.Response
	telemetry.TimeFunc(telemetry.ProviderRequestDuration, func() {
		resp, err = c.http().Do(req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("provider start task: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		c.TokenSource.Invalidate()
		err := fmt.Errorf("%w: provider rejected app token: %s: %s", ErrAuth, resp.Status, string(raw))
		telemetry.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("provider start task failed: %s: %s", resp.Status, string(raw))
		telemetry.RecordError(span, err)
		return nil, err
	}

	info := &TaskInfo{Raw: raw}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("decode start task response: %w", err)
	}
	if info.TaskID == "" {
		return nil, fmt.Errorf("start task response missing taskId: %s", string(raw))
	}
	telemetry.SetSpanSuccess(span)
	return info, nil
}

// StopTask deletes a task by id. A provider-side 404 counts as success: the
// desired end state (no running task) is already true.
func (c *Client) StopTask(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, fmt.Errorf("taskID must not be empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "providerapi", "StopTask")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	tok, err := c.TokenSource.Get(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("acquire app token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.tasksURL()+"/"+taskID, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	var resp *http.Response
	telemetry.TimeFunc(telemetry.ProviderRequestDuration, func() {
		resp, err = c.http().Do(req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("provider stop task: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		slog.Debug("provider task already gone", slog.String("task_id", taskID))
		telemetry.SetSpanSuccess(span)
		return true, nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.TokenSource.Invalidate()
		b, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("%w: provider rejected app token: %s: %s", ErrAuth, resp.Status, string(b))
		telemetry.RecordError(span, err)
		return false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("provider stop task failed: %s: %s", resp.Status, string(b))
		telemetry.RecordError(span, err)
		return false, err
	}
	telemetry.SetSpanSuccess(span)
	return true, nil
}
