// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/memchat/internal/agent"
	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/credential"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/server"
	"github.com/jeranaias/memchat/internal/session"
)

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	os.Exit(m.Run())
}

// =============================================================================
// RENDERER TESTS
// =============================================================================

func exchange(user string, reply model.Message) session.State {
	return session.State{
		History: []model.Message{
			{Role: model.RoleUser, Content: user, Done: true, Status: model.StatusComplete, Timestamp: time.Now()},
			reply,
		},
		Generating: !reply.Done,
	}
}

func pending(content string) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: content, Status: model.StatusPending}
}

func done(content string, status model.Status, errMsg string) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: content, Done: true, Status: status, Error: errMsg}
}

func TestRenderer_PrintsOnlyGrowth(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)

	r.Render(exchange("hi", pending("")))
	r.Render(exchange("hi", pending("hel")))
	r.Render(exchange("hi", pending("hello")))
	r.Render(exchange("hi", pending("hello")))
	r.Render(exchange("hi", done("hello world", model.StatusComplete, "")))

	assert.Equal(t, "Agent: hello world\n", buf.String())
}

func TestRenderer_RevisedReplyStartsNewLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)

	r.Render(exchange("hi", pending("draft answer")))
	r.Render(exchange("hi", done("final answer", model.StatusComplete, "")))

	assert.Equal(t, "Agent: draft answer\n~ final answer\n", buf.String())
}

func TestRenderer_FailedAndCancelled(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)

	r.Render(exchange("hi", pending("partial")))
	r.Render(exchange("hi", done("partial", model.StatusFailed, "boom")))
	assert.Equal(t, "Agent: partial\n[error] boom\n", buf.String())

	buf.Reset()
	st := exchange("hi", done("partial", model.StatusFailed, "boom"))
	st.History = append(st.History,
		model.Message{Role: model.RoleUser, Content: "again", Done: true, Timestamp: time.Now()},
		done("", model.StatusCancelled, ""))
	r.Render(st)
	assert.Equal(t, "Agent: [cancelled]\n", buf.String())
}

func TestRenderer_EchoUser(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.EchoUser = true

	r.Render(exchange("hi", done("hello", model.StatusComplete, "")))

	assert.Equal(t, "You: hi\nAgent: hello\n", buf.String())
}

func TestRenderer_WaitSettled(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{})
	updates := make(chan session.State, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, updates)

	result := make(chan session.State, 1)
	go func() {
		st, err := r.WaitSettled(ctx, 2)
		if err == nil {
			result <- st
		}
	}()

	updates <- exchange("hi", pending("x"))
	select {
	case <-result:
		t.Fatal("settled while the reply was still pending")
	case <-time.After(50 * time.Millisecond):
	}

	updates <- exchange("hi", done("x", model.StatusComplete, ""))
	select {
	case st := <-result:
		assert.Equal(t, "x", st.Last().Content)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSettled did not return")
	}
}

func TestRenderer_WaitSettledHonoursContext(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.WaitSettled(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// EXIT CODE TESTS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Err: errors.New("bad flag")}, ExitUsageError},
		{"invalid config", config.ValidateErrors{{Field: "log.level"}}, ExitConfigError},
		{"no agent", fmt.Errorf("wrap: %w", agent.ErrNoAgent), ExitConfigError},
		{"auth", fmt.Errorf("open: %w", agent.ErrAuthFailed), ExitAuthError},
		{"no credential", credential.ErrNoCredential, ExitAuthError},
		{"not found", agent.ErrAgentNotFound, ExitNotFoundError},
		{"unreachable", agent.ErrRetriesExhausted, ExitNetworkError},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"interrupted", context.Canceled, ExitInterrupted},
		{"failed reply", &ReplyError{Status: model.StatusFailed, Reason: "boom"}, ExitGeneralError},
		{"cancelled reply", &ReplyError{Status: model.StatusCancelled}, ExitInterrupted},
		{"reply failed on 404", &ReplyError{Status: model.StatusFailed, Err: fmt.Errorf("open: %w", agent.ErrAgentNotFound)}, ExitNotFoundError},
		{"reply failed on auth", &ReplyError{Status: model.StatusFailed, Err: agent.ErrAuthFailed}, ExitAuthError},
		{"reply stalled", &ReplyError{Status: model.StatusFailed, Err: session.ErrStreamIdle}, ExitTimeoutError},
		{"reply failed by agent", &ReplyError{Status: model.StatusFailed, Err: &session.AgentError{Message: "boom"}}, ExitGeneralError},
		{"other", errors.New("x"), ExitGeneralError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestDetectColors(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	assert.True(t, detectColors(env(nil), true))
	assert.False(t, detectColors(env(nil), false))
	assert.False(t, detectColors(env(map[string]string{"NO_COLOR": "1"}), true))
	assert.True(t, detectColors(env(map[string]string{"FORCE_COLOR": "1"}), false))
	assert.False(t, detectColors(env(map[string]string{"NO_COLOR": "1", "FORCE_COLOR": "1"}), true))
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

const testToken = "test-token"

// harness runs memchat commands against an in-process agent server.
type harness struct {
	t       *testing.T
	baseURL string
	config  string
	logFile string
}

func newHarness(t *testing.T, responder server.Responder) *harness {
	t.Helper()
	for _, k := range []string{"MEMCHAT_BASE_URL", "MEMCHAT_AGENT_ID", "MEMCHAT_TOKEN_FILE", "MEMCHAT_BUSY_POLICY", "MEMCHAT_METRICS_ADDR", "MEMCHAT_IDLE_TIMEOUT", "MEMCHAT_LOG_LEVEL", "MEMCHAT_LOG_FILE"} {
		t.Setenv(k, "")
	}
	t.Setenv(config.DefaultTokenEnv, testToken)

	h := &harness{
		t:       t,
		config:  filepath.Join(t.TempDir(), "config.toml"),
		logFile: filepath.Join(t.TempDir(), "memchat.log"),
	}
	if responder != nil {
		srv := server.NewServer(server.DefaultAddr).WithToken(testToken).WithResponder(responder)
		ts := httptest.NewServer(srv.Handler())
		t.Cleanup(ts.Close)
		h.baseURL = ts.URL
	}
	return h
}

// run executes memchat with args and returns stdout, stderr and the error.
func (h *harness) run(stdin string, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root := NewRootCommand(strings.NewReader(stdin), &out, &errOut)

	full := []string{"--config", h.config, "--log-file", h.logFile}
	if h.baseURL != "" {
		full = append(full, "--base-url", h.baseURL)
	}
	root.SetArgs(append(full, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestAsk_StreamsReply(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	out, _, err := h.run("", "--agent-id", "a1", "ask", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "Agent: You said: hello there\n", out)
}

func TestAsk_ReadsStdin(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	out, _, err := h.run("from stdin\n", "--agent-id", "a1", "ask")
	require.NoError(t, err)
	assert.Contains(t, out, "You said: from stdin")
}

func TestAsk_JSON(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Replies: []string{"one", "one two"}}))

	out, _, err := h.run("", "--agent-id", "a1", "ask", "--json", "hi")
	require.NoError(t, err)

	var reply model.Message
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	assert.Equal(t, "one two", reply.Content)
	assert.Equal(t, model.StatusComplete, reply.Status)
	assert.True(t, reply.Done)
}

func TestAsk_ServerErrorFailsReply(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Replies: []string{"partial"}, Error: "memory store unavailable"}))

	out, _, err := h.run("", "--agent-id", "a1", "ask", "hi")
	require.Error(t, err)

	var reply *ReplyError
	require.ErrorAs(t, err, &reply)
	assert.Equal(t, model.StatusFailed, reply.Status)
	assert.Equal(t, "memory store unavailable", reply.Reason)
	assert.Equal(t, ExitGeneralError, ExitCode(err))
	assert.Contains(t, out, "[error] memory store unavailable")
}

func TestAsk_AgentNotFound(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Status: 404, Detail: "Agent a1 not found"}))

	_, _, err := h.run("", "--agent-id", "a1", "ask", "hi")
	var reply *ReplyError
	require.ErrorAs(t, err, &reply)
	assert.Contains(t, reply.Reason, "agent not found")
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestAsk_WrongTokenIsAuthError(t *testing.T) {
	h := newHarness(t, server.EchoResponder)
	t.Setenv(config.DefaultTokenEnv, "wrong-token")

	_, _, err := h.run("", "--agent-id", "a1", "ask", "hi")
	var reply *ReplyError
	require.ErrorAs(t, err, &reply)
	assert.Equal(t, model.StatusFailed, reply.Status)
	assert.ErrorIs(t, err, agent.ErrAuthFailed)
	assert.Equal(t, ExitAuthError, ExitCode(err))
}

func TestAsk_SubSecondIdleTimeout(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Replies: []string{"thinking"}, Stall: true}))

	out, _, err := h.run("", "--agent-id", "a1", "--idle-timeout", "300ms", "ask", "--timeout", "5s", "hi")
	var reply *ReplyError
	require.ErrorAs(t, err, &reply)
	assert.Equal(t, model.StatusFailed, reply.Status)
	assert.ErrorIs(t, err, session.ErrStreamIdle)
	assert.Equal(t, ExitTimeoutError, ExitCode(err))
	assert.Contains(t, out, "[error] stream idle timeout")
}

func TestRoot_NegativeIdleTimeoutIsUsageError(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run("", "--idle-timeout=-1s", "version")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestAsk_EmptyMessageIsUsageError(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	_, _, err := h.run("   \n", "--agent-id", "a1", "ask")
	require.ErrorIs(t, err, session.ErrEmptyMessage)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestAsk_MissingAgentID(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	_, _, err := h.run("", "ask", "hi")
	require.ErrorIs(t, err, agent.ErrNoAgent)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestAsk_TimeoutCancelsStalledReply(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Replies: []string{"thinking"}, Stall: true}))

	out, _, err := h.run("", "--agent-id", "a1", "--idle-timeout", "0s", "ask", "--timeout", "200ms", "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ExitTimeoutError, ExitCode(err))
	assert.Contains(t, out, "thinking")
	assert.Contains(t, out, "[cancelled]")
}

func TestAsk_WithMetricsServer(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	out, _, err := h.run("", "--agent-id", "a1", "--metrics-addr", "127.0.0.1:0", "ask", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "You said: hi")
}

func TestChat_PlainInput(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	out, _, err := h.run("hello\n/history\n/status\n/quit\n", "--agent-id", "a1", "chat")
	require.NoError(t, err)

	assert.Contains(t, out, "Agent: You said: hello\n")
	assert.Contains(t, out, "1. You: hello")
	assert.Contains(t, out, "2. Agent: You said: hello")
	assert.Contains(t, out, "Messages: 2")
	assert.Contains(t, out, "Goodbye!")
}

func TestChat_DefaultCommandAndEOF(t *testing.T) {
	h := newHarness(t, server.EchoResponder)

	out, errOut, err := h.run("one\ntwo\n/bogus\n", "--agent-id", "a1")
	require.NoError(t, err)

	assert.Contains(t, out, "You said: one")
	assert.Contains(t, out, "You said: two")
	assert.Contains(t, out, "2 replies")
	assert.Contains(t, errOut, "unknown command: /bogus")
}

func TestChat_FailedReplyKeepsGoing(t *testing.T) {
	h := newHarness(t, server.Fixed(server.Script{Error: "boom"}))

	out, _, err := h.run("hi\n/history\n", "--agent-id", "a1", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "[error] boom")
	assert.Contains(t, out, "[error: boom]")
}

func TestRoot_BadFlagIsUsageError(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run("", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestRoot_InvalidConfigRejected(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run("", "--busy-policy", "drop", "version")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestSetup_LogsRedactedToken(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.config, []byte("[agent]\ntoken = \"s3cret-token-value\"\n"), 0600))

	_, _, err := h.run("", "--log-level", "debug", "version")
	require.NoError(t, err)

	data, err := os.ReadFile(h.logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "memchat start")
	assert.Contains(t, string(data), "s3cr...ue")
	assert.NotContains(t, string(data), "s3cret-token-value")
}

func TestBusyPolicyFlagExplainsScope(t *testing.T) {
	root := NewRootCommand(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	flag := root.PersistentFlags().Lookup("busy-policy")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "chat and ask wait for each reply")
}

func TestVersion(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run("", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "memchat "+Version))
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestConfig_SetGetShow(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run("", "config", "set", "agent.agent_id", "agent-9")
	require.NoError(t, err)
	_, _, err = h.run("", "config", "set", "agent.token", "s3cret-token")
	require.NoError(t, err)

	out, _, err := h.run("", "config", "get", "agent.agent_id")
	require.NoError(t, err)
	assert.Equal(t, "agent-9\n", out)

	out, _, err = h.run("", "config")
	require.NoError(t, err)
	assert.Contains(t, out, `"agent_id": "agent-9"`)
	assert.NotContains(t, out, "s3cret-token")

	_, _, err = h.run("", "config", "get", "agent.token")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestConfig_SetValidates(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.run("", "config", "set", "session.busy_policy", "drop")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
	_, statErr := os.Stat(h.config)
	assert.True(t, os.IsNotExist(statErr), "invalid value must not be written")

	_, _, err = h.run("", "config", "set", "nope.key", "x")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestConfig_WorksOnInvalidFile(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.config, []byte("[session]\nbusy_policy = \"drop\"\n"), 0600))

	_, errOut, err := h.run("", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, errOut, "session.busy_policy")

	_, _, err = h.run("", "config", "set", "session.busy_policy", "queue")
	require.NoError(t, err)

	cfg, err := config.LoadTOML(h.config)
	require.NoError(t, err)
	assert.Equal(t, "queue", cfg.Session.BusyPolicy)
}

func TestConfig_InitAndPath(t *testing.T) {
	h := newHarness(t, nil)

	out, _, err := h.run("", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, h.config+"\n", out)

	_, _, err = h.run("", "config", "init")
	require.NoError(t, err)
	_, _, err = h.run("", "config", "init")
	assert.Error(t, err, "init must not overwrite without --force")
	_, _, err = h.run("", "config", "init", "--force")
	assert.NoError(t, err)

	cfg, err := config.LoadTOML(h.config)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

// =============================================================================
// MOCK AGENT TESTS
// =============================================================================

func TestMockResponder(t *testing.T) {
	echo := mockResponder(mockAgentOptions{delay: 10 * time.Millisecond})
	s := echo(server.MessageRequest{Message: "ping"})
	assert.Equal(t, "You said: ping", s.Replies[len(s.Replies)-1])
	assert.Equal(t, 10*time.Millisecond, s.Delay)

	fixed := mockResponder(mockAgentOptions{reply: "always this"})
	s = fixed(server.MessageRequest{Message: "ping"})
	assert.Equal(t, []string{"always", "always this"}, s.Replies)
	assert.Zero(t, s.Delay)
}
