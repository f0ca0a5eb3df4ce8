// Package client implements the agent's HTTP interface to the server. Every
// call uses one fixed short timeout and never retries internally; all
// resilience lives in the agent's run loop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnauthorized signals the server rejected the agent credential; the run
// loop responds by re-registering.
var ErrUnauthorized = errors.New("agent credential rejected")

// Client talks to the GreenOps server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     zerolog.Logger
}

// New returns a client for the server at baseURL.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetToken installs the agent credential used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// RegistrationRequest is the agent's identity announcement.
type RegistrationRequest struct {
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	OSType     string `json:"os_type"`
	OSVersion  string `json:"os_version,omitempty"`
}

// RegistrationResponse carries the issued credential.
type RegistrationResponse struct {
	MachineID string `json:"machine_id"`
	Token     string `json:"token"`
	Message   string `json:"message"`
}

// HeartbeatRequest is one metrics report.
type HeartbeatRequest struct {
	IdleSeconds   int64   `json:"idle_seconds"`
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryUsage   float64 `json:"memory_usage"`
	UptimeSeconds int64   `json:"uptime_seconds,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// Command is a remote action delivered to this agent.
type Command struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// HeartbeatResponse is the server's acknowledgement plus any queued commands.
type HeartbeatResponse struct {
	Status          string    `json:"status"`
	MachineStatus   string    `json:"machine_status"`
	EnergyWastedKWH float64   `json:"energy_wasted_kwh"`
	IsIdle          bool      `json:"is_idle"`
	Commands        []Command `json:"commands"`
}

// Register announces the machine and returns a fresh credential.
func (c *Client) Register(ctx context.Context, req RegistrationRequest) (*RegistrationResponse, error) {
	var resp RegistrationResponse
	if err := c.post(ctx, "/api/agents/register", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat sends one metrics report.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.post(ctx, "/api/agents/heartbeat", true, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportResult tells the server how a delivered command went.
func (c *Client) ReportResult(ctx context.Context, commandID, status, message string) error {
	body := map[string]string{"status": status, "message": message}
	return c.post(ctx, fmt.Sprintf("/api/agents/commands/%s/result", commandID), true, body, nil)
}

func (c *Client) post(ctx context.Context, path string, authed bool, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s failed with status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
}
