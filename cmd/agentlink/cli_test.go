package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/conversation"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/gateway"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/session"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	a := &app{newSession: func(opts session.Options) (*session.Session, error) {
		opts.Logger = zaptest.NewLogger(t)
		return session.New(opts)
	}}
	root := newRootCmdFor(a)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeProfile(t *testing.T, origin string, sections ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	body := "[endpoint]\norigin = \"" + origin + "\"\n\n[metrics]\nenabled = false\n"
	for _, section := range sections {
		body += "\n" + section + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func startGateway(t *testing.T) *httptest.Server {
	t.Helper()
	settings := gateway.DefaultSettings()
	settings.Logger = zaptest.NewLogger(t)
	srv, err := gateway.NewServer(settings)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func TestAskPrintsReply(t *testing.T) {
	t.Setenv("AGENTLINK_TOKEN", "token-1")
	ts := startGateway(t)
	profile := writeProfile(t, ts.URL)

	stdout, stderr, err := executeCLI(t, "--profile", profile, "ask", "helper", "are", "you", "there", "--stream")
	require.NoError(t, err)
	assert.Equal(t, "echo: are you there\n", stdout)
	assert.Contains(t, stderr, "echo: are you there")
}

// startSilentServer accepts sockets and never answers.
func startSilentServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAskTimesOut(t *testing.T) {
	t.Setenv("AGENTLINK_TOKEN", "token-1")
	ts := startSilentServer(t)
	profile := writeProfile(t, ts.URL, "[conversation]\ntimeout = \"300ms\"")

	start := time.Now()
	stdout, _, err := executeCLI(t, "--profile", profile, "ask", "helper", "anyone?")
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrConversationTimeout)
	assert.Empty(t, stdout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAskWithoutTokenFails(t *testing.T) {
	t.Setenv("AGENTLINK_TOKEN", "")
	ts := startGateway(t)
	profile := writeProfile(t, ts.URL)

	_, _, err := executeCLI(t, "--profile", profile, "--wait", "2s", "ask", "helper", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}

func TestConfigPrintsProfile(t *testing.T) {
	profile := writeProfile(t, "wss://gateway.example.com")

	stdout, _, err := executeCLI(t, "--profile", profile, "config")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wss://gateway.example.com")
	assert.Contains(t, stdout, "[connection]")
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "chat without room", args: []string{"chat"}},
		{name: "logs with two agents", args: []string{"logs", "a", "b"}},
		{name: "ask without prompt", args: []string{"ask", "helper"}},
		{name: "exec without command", args: []string{"exec", "helper"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCLI(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestExecPrintsOutput(t *testing.T) {
	t.Setenv("AGENTLINK_TOKEN", "token-1")
	ts := startGateway(t)
	profile := writeProfile(t, ts.URL)

	stdout, _, err := executeCLI(t, "--profile", profile, "exec", "helper", "--", "uname", "-a")
	require.NoError(t, err)
	assert.Equal(t, "uname -a\n", stdout)
}
