// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/memchat/internal/agent"
)

func postMessage(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/agents/a1/message", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []agent.Event {
	t.Helper()
	stream := agent.NewEventStream(resp.Body)
	defer stream.Close()

	var events []agent.Event
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

// =============================================================================
// MESSAGE HANDLER TESTS
// =============================================================================

func TestHandleMessage_EchoStream(t *testing.T) {
	srv := httptest.NewServer(NewServer("").WithToken("tok").Handler())
	defer srv.Close()

	resp := postMessage(t, srv.URL, "tok", `{"message":"hello there","role":"user"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.Len(t, events, 5)

	assert.Equal(t, agent.KindInternalMonologue, events[0].Kind)
	for _, ev := range events[1:] {
		assert.Equal(t, agent.KindAssistantMessage, ev.Kind)
		_, ok := ev.Time()
		assert.True(t, ok, "date must parse: %q", ev.Payload.Date)
	}
	assert.Equal(t, "You", events[1].Text())
	assert.Equal(t, "You said: hello there", events[4].Text())
	assert.Equal(t, events[1].Payload.ID, events[4].Payload.ID, "reply frames share one id")
	assert.NotEqual(t, events[0].Payload.ID, events[1].Payload.ID)
}

func TestHandleMessage_Auth(t *testing.T) {
	srv := httptest.NewServer(NewServer("").WithToken("tok").Handler())
	defer srv.Close()

	resp := postMessage(t, srv.URL, "", `{"message":"hi"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postMessage(t, srv.URL, "wrong", `{"message":"hi"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid credentials", body["detail"])
}

func TestHandleMessage_Validation(t *testing.T) {
	srv := httptest.NewServer(NewServer("").Handler())
	defer srv.Close()

	for _, body := range []string{`not json`, `{"message":"   "}`, `{"message":"hi","role":"assistant"}`} {
		resp := postMessage(t, srv.URL, "", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)
	}
}

func TestHandleMessage_ScriptedStatus(t *testing.T) {
	srv := httptest.NewServer(NewServer("").
		WithResponder(Fixed(Script{Status: http.StatusServiceUnavailable, Detail: "down"})).
		Handler())
	defer srv.Close()

	resp := postMessage(t, srv.URL, "", `{"message":"hi"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleMessage_ScriptedError(t *testing.T) {
	srv := httptest.NewServer(NewServer("").
		WithResponder(Fixed(Script{
			Replies:      []string{"par"},
			FunctionCall: "send_message()",
			Malformed:    true,
			Error:        "agent crashed",
		})).
		Handler())
	defer srv.Close()

	events := readEvents(t, postMessage(t, srv.URL, "", `{"message":"hi"}`))
	require.Len(t, events, 5)

	assert.Equal(t, agent.KindMalformed, events[0].Kind)
	assert.Equal(t, agent.KindFunctionCall, events[1].Kind)
	assert.Equal(t, agent.KindFunctionReturn, events[2].Kind)
	assert.Equal(t, "success", events[2].Payload.Status)
	assert.Equal(t, agent.KindAssistantMessage, events[3].Kind)
	assert.Equal(t, agent.KindInternalError, events[4].Kind)
	assert.Equal(t, "agent crashed", events[4].ErrorMessage())
}

func TestHandleMessage_BusyAgent(t *testing.T) {
	srv := httptest.NewServer(NewServer("").
		WithResponder(Fixed(Script{Replies: []string{"a"}, Stall: true})).
		Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/agents/a1/message", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	first, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postMessage(t, srv.URL, "", `{"message":"again"}`)
	second.Body.Close()
	assert.Equal(t, http.StatusLocked, second.StatusCode)

	cancel()

	require.Eventually(t, func() bool {
		resp := postMessage(t, srv.URL, "", `{"message":"after"}`)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer("").WithToken("tok").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestCumulative(t *testing.T) {
	assert.Equal(t, []string{"a", "a b", "a b c"}, Cumulative("a  b\tc"))
	assert.Equal(t, []string{""}, Cumulative(""))
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abd", "abc"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}
