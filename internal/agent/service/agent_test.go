package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops/greenops/internal/agent/client"
	"github.com/greenops/greenops/internal/agent/config"
	"github.com/greenops/greenops/internal/agent/idle"
	"github.com/greenops/greenops/pkg/file"
)

// fakeServer is a minimal in-process server the agent can run against.
type fakeServer struct {
	mu         sync.Mutex
	registered int
	heartbeats int
	results    []string
	commands   []client.Command
	*httptest.Server
}

func newFakeServer() *fakeServer {
	f := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/register", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.registered++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(client.RegistrationResponse{
			MachineID: "machine-1",
			Token:     "agent-token",
			Message:   "Machine registered successfully",
		})
	})
	mux.HandleFunc("/api/agents/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.heartbeats++
		cmds := f.commands
		f.commands = nil
		f.mu.Unlock()
		json.NewEncoder(w).Encode(client.HeartbeatResponse{
			Status:        "ok",
			MachineStatus: "online",
			Commands:      cmds,
		})
	})
	mux.HandleFunc("/api/agents/commands/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.results = append(f.results, body["status"])
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"message": "result recorded"})
	})
	f.Server = httptest.NewServer(mux)
	return f
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (r *recordingExecutor) Execute(_ context.Context, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, command)
	return r.err
}

func newTestAgent(t *testing.T, server *fakeServer, executor CommandExecutor) *Agent {
	t.Helper()
	cfg := &config.Config{TokenFile: filepath.Join(t.TempDir(), "token")}
	cfg.Server.URL = server.URL
	cfg.Server.Timeout = 2 * time.Second
	cfg.Heartbeat.Interval = 20 * time.Millisecond
	cfg.Heartbeat.BackoffBase = 10 * time.Millisecond
	cfg.Heartbeat.BackoffMax = 50 * time.Millisecond

	apiClient := client.New(cfg.Server.URL, cfg.Server.Timeout, zerolog.Nop())
	identity := Identity{MACAddress: "AA:BB:CC:DD:EE:FF", Hostname: "desk-042", OSType: "linux"}
	return New(cfg, identity, apiClient, idle.NoopDetector{}, executor, file.NewFileService(), zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAgent_RegistersAndHeartbeats(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	a := newTestAgent(t, server, &recordingExecutor{})
	require.NoError(t, a.Start())

	waitFor(t, 2*time.Second, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.registered == 1 && server.heartbeats >= 2
	})

	require.NoError(t, a.Stop())

	// The credential was persisted for the next run.
	cfg := a.cfg
	assert.Equal(t, "agent-token", config.LoadToken(cfg, file.NewFileService()))
}

func TestAgent_StartStopErrors(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	a := newTestAgent(t, server, &recordingExecutor{})

	err := a.Stop()
	assert.Error(t, err)
	assert.Equal(t, "agent is not running", err.Error())

	require.NoError(t, a.Start())

	err = a.Start()
	assert.Error(t, err)
	assert.Equal(t, "agent is already running", err.Error())

	require.NoError(t, a.Stop())
}

func TestAgent_ExecutesDeliveredCommands(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	server.mu.Lock()
	server.commands = []client.Command{{ID: "cmd-1", Command: "sleep"}}
	server.mu.Unlock()

	executor := &recordingExecutor{}
	a := newTestAgent(t, server, executor)
	require.NoError(t, a.Start())

	waitFor(t, 2*time.Second, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.results) >= 1
	})

	require.NoError(t, a.Stop())

	executor.mu.Lock()
	defer executor.mu.Unlock()
	assert.Contains(t, executor.executed, "sleep")
	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, "executed", server.results[0])
}

func TestAgent_ReportsFailedCommands(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	server.mu.Lock()
	server.commands = []client.Command{{ID: "cmd-1", Command: "shutdown"}}
	server.mu.Unlock()

	executor := &recordingExecutor{err: assert.AnError}
	a := newTestAgent(t, server, executor)
	require.NoError(t, a.Start())

	waitFor(t, 2*time.Second, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.results) >= 1
	})

	require.NoError(t, a.Stop())

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, "failed", server.results[0])
}
