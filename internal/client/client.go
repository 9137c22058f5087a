// Package client talks to a fleetwatch server over HTTP or gRPC.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return "", err
	}
	return out["msg"], nil
}

func (c *Client) Register(ctx context.Context, id, name string) (*models.Machine, error) {
	var m models.Machine
	err := c.do(ctx, http.MethodPost, "/machines", server.RegisterRequest{MachineID: id, Name: name}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Machines(ctx context.Context) ([]models.Machine, error) {
	var out []models.Machine
	if err := c.do(ctx, http.MethodGet, "/machines", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat sends one report and returns any command handed back.
func (c *Client) Heartbeat(ctx context.Context, id string, m models.Metrics) (*server.HeartbeatResponse, error) {
	var out server.HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/telemetry", heartbeatRequest(id, m), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EnqueueCommand(ctx context.Context, id, command string, payload json.RawMessage) error {
	req := server.CommandRequest{Command: command, Payload: payload}
	return c.do(ctx, http.MethodPost, "/machines/"+url.PathEscape(id)+"/command", req, nil)
}

func (c *Client) CommandResult(ctx context.Context, id string, res models.CommandResult) error {
	return c.do(ctx, http.MethodPost, "/machines/"+url.PathEscape(id)+"/command-result", res, nil)
}

func (c *Client) Alerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	q := url.Values{}
	if f.Resolved != nil {
		q.Set("resolved", strconv.FormatBool(*f.Resolved))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/alerts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	if err := c.do(ctx, http.MethodPut, "/alerts/"+url.PathEscape(id)+"/resolve", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func heartbeatRequest(id string, m models.Metrics) server.HeartbeatRequest {
	return server.HeartbeatRequest{
		MachineID:       id,
		CPUPercent:      server.Float(m.CPUPercent),
		RAMPercent:      server.Float(m.RAMPercent),
		DiskFreePercent: server.Float(m.DiskFreePercent),
		TemperatureC:    server.Float(m.TemperatureC),
	}
}
