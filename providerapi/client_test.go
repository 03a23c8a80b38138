package providerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newProviderServer wires a mock token endpoint and a task handler into one server.
func newProviderServer(t *testing.T, tasks http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/projects/app-1/rtsc/speech-to-text/tasks", tasks)
	mux.HandleFunc("/v1/projects/app-1/rtsc/speech-to-text/tasks/", tasks)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := &Client{
		BaseURL: server.URL,
		AppID:   "app-1",
		TokenSource: &TokenSource{
			TokenURL:     server.URL + "/oauth2/token",
			ClientID:     "id",
			ClientSecret: "secret",
		},
	}
	return c, server
}

func TestStartTaskWireFormat(t *testing.T) {
	var captured map[string]any
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Errorf("Authorization = %s, want Bearer app-token", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"taskId": "t1", "status": "RUNNING"})
	})

	info, err := c.StartTask(context.Background(), StartTaskRequest{
		Channel:        "room1",
		SourceUID:      100,
		ListenerUID:    200,
		ListenerToken:  "listener-tok",
		PublisherUID:   300,
		PublisherToken: "publisher-tok",
		SourceLanguage: "en",
		TargetLanguage: "es",
	})
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	if info.TaskID != "t1" {
		t.Errorf("TaskID = %s, want t1", info.TaskID)
	}
	if len(info.Raw) == 0 {
		t.Error("Raw response not preserved")
	}

	if captured["channel"] != "room1" {
		t.Errorf("channel = %v, want room1", captured["channel"])
	}
	if captured["remote_uid"] != float64(100) {
		t.Errorf("remote_uid = %v, want 100", captured["remote_uid"])
	}
	if captured["local_uid"] != float64(200) {
		t.Errorf("local_uid = %v, want 200", captured["local_uid"])
	}
	if captured["token"] != "listener-tok" {
		t.Errorf("token = %v, want listener-tok", captured["token"])
	}
	sr, ok := captured["speech_recognition"].(map[string]any)
	if !ok || sr["source_language"] != "en" {
		t.Errorf("speech_recognition = %v, want source_language en", captured["speech_recognition"])
	}
	trs, ok := captured["translations"].([]any)
	if !ok || len(trs) != 1 {
		t.Fatalf("translations = %v, want one entry", captured["translations"])
	}
	tr := trs[0].(map[string]any)
	if tr["target_language"] != "es" || tr["token"] != "publisher-tok" || tr["local_uid"] != float64(300) {
		t.Errorf("translations[0] = %v, want es/publisher-tok/300", tr)
	}
}

func TestStartTaskProviderError(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"backend down"}`))
	})

	_, err := c.StartTask(context.Background(), StartTaskRequest{Channel: "room1", SourceLanguage: "en", TargetLanguage: "es"})
	if err == nil {
		t.Fatal("StartTask() on 502 should return error")
	}
	if errors.Is(err, ErrAuth) {
		t.Errorf("StartTask() 502 error = %v, must not be ErrAuth", err)
	}
}

func TestStartTaskUnauthorizedInvalidatesToken(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.StartTask(context.Background(), StartTaskRequest{Channel: "room1", SourceLanguage: "en", TargetLanguage: "es"})
	if err == nil {
		t.Fatal("StartTask() on 401 should return error")
	}
	if !errors.Is(err, ErrAuth) {
		t.Errorf("StartTask() 401 error = %v, want ErrAuth", err)
	}
	if st := c.TokenSource.Status(); st.HasToken {
		t.Error("cached token not invalidated after provider 401")
	}
}

func TestStartTaskMissingTaskID(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "RUNNING"})
	})

	if _, err := c.StartTask(context.Background(), StartTaskRequest{Channel: "room1", SourceLanguage: "en", TargetLanguage: "es"}); err == nil {
		t.Error("StartTask() without taskId in response should return error")
	}
}

func TestStartTaskTimeout(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"taskId": "t1"})
	})
	c.Timeout = 50 * time.Millisecond

	if _, err := c.StartTask(context.Background(), StartTaskRequest{Channel: "room1", SourceLanguage: "en", TargetLanguage: "es"}); err == nil {
		t.Error("StartTask() past timeout should return error")
	}
}

func TestStartTaskHangingTokenEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "late", "expires_in": 3600})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := &Client{
		BaseURL: server.URL,
		AppID:   "app-1",
		TokenSource: &TokenSource{
			TokenURL:     server.URL + "/oauth2/token",
			ClientID:     "id",
			ClientSecret: "secret",
		},
		Timeout: 50 * time.Millisecond,
	}

	begin := time.Now()
	_, err := c.StartTask(context.Background(), StartTaskRequest{Channel: "room1", SourceLanguage: "en", TargetLanguage: "es"})
	elapsed := time.Since(begin)
	if err == nil {
		t.Fatal("StartTask() with hanging token endpoint should return error")
	}
	if !errors.Is(err, ErrAuth) {
		t.Errorf("StartTask() token timeout error = %v, want ErrAuth", err)
	}
	if elapsed > time.Second {
		t.Errorf("StartTask() returned after %v, token fetch must honor the 50ms operation timeout", elapsed)
	}

	begin = time.Now()
	if _, err := c.StopTask(context.Background(), "t1"); err == nil {
		t.Error("StopTask() with hanging token endpoint should return error")
	}
	if elapsed = time.Since(begin); elapsed > time.Second {
		t.Errorf("StopTask() returned after %v, token fetch must honor the 50ms operation timeout", elapsed)
	}
}

func TestStopTask(t *testing.T) {
	var gotPath string
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	ok, err := c.StopTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StopTask() error = %v", err)
	}
	if !ok {
		t.Error("StopTask() = false, want true")
	}
	if want := "/v1/projects/app-1/rtsc/speech-to-text/tasks/t1"; gotPath != want {
		t.Errorf("path = %s, want %s", gotPath, want)
	}
}

func TestStopTaskNotFoundIsSuccess(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := c.StopTask(context.Background(), "gone")
	if err != nil {
		t.Fatalf("StopTask() on 404 error = %v, want nil", err)
	}
	if !ok {
		t.Error("StopTask() on 404 = false, want true (idempotent stop)")
	}
}

func TestStopTaskServerError(t *testing.T) {
	c, _ := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ok, err := c.StopTask(context.Background(), "t1")
	if err == nil {
		t.Fatal("StopTask() on 500 should return error")
	}
	if ok {
		t.Error("StopTask() on 500 = true, want false")
	}
}

func TestStopTaskEmptyID(t *testing.T) {
	c := &Client{}
	if _, err := c.StopTask(context.Background(), ""); err == nil {
		t.Error("StopTask() with empty id should return error")
	}
}
