// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolclient invokes remote tools over HTTP. Tools are addressed
// by (server name, tool name); server names resolve through a mapping
// fixed at construction. Unary calls POST JSON and read a JSON object
// back; streaming calls consume a server-sent-events response carrying
// progress events followed by one terminal result or error event.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorKind classifies tool invocation failures.
type ErrorKind string

const (
	// KindUnknownServer: the server name has no configured base URL.
	KindUnknownServer ErrorKind = "unknown_server"
	// KindRemoteFailure: the server answered with a non-200 status.
	KindRemoteFailure ErrorKind = "remote_failure"
	// KindRemoteError: a streaming call emitted a terminal error event.
	KindRemoteError ErrorKind = "remote_error"
	// KindTruncatedStream: the stream closed without result or error.
	KindTruncatedStream ErrorKind = "truncated_stream"
	// KindDeadlineExceeded: the call deadline expired.
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
	// KindTransport: the request could not be completed at all.
	KindTransport ErrorKind = "transport"
)

// ToolError is the failure type for all tool invocations.
type ToolError struct {
	Kind    ErrorKind
	Server  string
	Tool    string
	Status  int            // set for KindRemoteFailure
	Body    string         // response body for KindRemoteFailure
	Details map[string]any // error event data for KindRemoteError
	Err     error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("toolclient: %s.%s: %s", e.Server, e.Tool, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ProgressFunc receives each progress event's data object, in arrival
// order, synchronously with stream consumption.
type ProgressFunc func(progress map[string]any)

// Config configures a Client.
type Config struct {
	// Servers maps server names to base URLs.
	Servers map[string]string
	// MaxConnsPerHost bounds connections per tool server (default 16).
	MaxConnsPerHost int
	// MaxIdleConns bounds the shared idle pool (default 32).
	MaxIdleConns int
	Logger       *zap.Logger
}

// Client invokes remote tools. One Client (and its connection pool) is
// shared by all workers of a process; keep-alive is enabled.
type Client struct {
	servers map[string]string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a tool client from the server name mapping.
func New(cfg Config) *Client {
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 16
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 32
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	servers := make(map[string]string, len(cfg.Servers))
	for name, base := range cfg.Servers {
		servers[name] = strings.TrimRight(base, "/")
	}

	return &Client{
		servers: servers,
		http: &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Call invokes a tool in unary mode: POST params as JSON, return the JSON
// object from an HTTP 200 response.
func (c *Client) Call(ctx context.Context, server, tool string, params map[string]any) (map[string]any, error) {
	resp, err := c.post(ctx, server, tool, params, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ToolError{Kind: KindTransport, Server: server, Tool: tool, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Debug("tool call complete", zap.String("server", server), zap.String("tool", tool))
	return result, nil
}

// CallStream invokes a tool whose response is a server-sent-events stream.
// Each progress event is handed to onProgress synchronously; the data of
// the terminal result event is returned. A terminal error event, or a
// stream that ends without a terminal event, fails the call.
func (c *Client) CallStream(ctx context.Context, server, tool string, params map[string]any, onProgress ProgressFunc) (map[string]any, error) {
	resp, err := c.post(ctx, server, tool, params, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	events := NewEventReader(resp.Body)
	for {
		event, err := events.Next()
		if err != nil {
			if err == io.EOF {
				return nil, &ToolError{Kind: KindTruncatedStream, Server: server, Tool: tool}
			}
			return nil, c.wrapTransport(ctx, server, tool, err)
		}

		var data map[string]any
		if err := json.Unmarshal(event.Data, &data); err != nil {
			c.logger.Warn("dropping undecodable stream event",
				zap.String("server", server),
				zap.String("tool", tool),
				zap.String("event", event.Name),
				zap.Error(err))
			continue
		}

		switch event.Name {
		case "progress":
			if onProgress != nil {
				onProgress(data)
			}
		case "result":
			c.logger.Debug("tool stream complete", zap.String("server", server), zap.String("tool", tool))
			return data, nil
		case "error":
			return nil, &ToolError{Kind: KindRemoteError, Server: server, Tool: tool, Details: data}
		default:
			c.logger.Debug("ignoring unknown stream event", zap.String("event", event.Name))
		}
	}
}

// Health probes a tool server's /health endpoint.
func (c *Client) Health(ctx context.Context, server string) error {
	base, ok := c.servers[server]
	if !ok {
		return &ToolError{Kind: KindUnknownServer, Server: server}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return &ToolError{Kind: KindTransport, Server: server, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrapTransport(ctx, server, "health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ToolError{Kind: KindRemoteFailure, Server: server, Status: resp.StatusCode}
	}
	return nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// post resolves the server, issues the tool POST, and normalizes failure
// statuses. On success the caller owns the response body.
func (c *Client) post(ctx context.Context, server, tool string, params map[string]any, accept string) (*http.Response, error) {
	base, ok := c.servers[server]
	if !ok {
		return nil, &ToolError{Kind: KindUnknownServer, Server: server, Tool: tool}
	}
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, &ToolError{Kind: KindTransport, Server: server, Tool: tool, Err: err}
	}

	url := base + "/tools/" + tool
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ToolError{Kind: KindTransport, Server: server, Tool: tool, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapTransport(ctx, server, tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		_ = resp.Body.Close()
		return nil, &ToolError{
			Kind:   KindRemoteFailure,
			Server: server,
			Tool:   tool,
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
	}
	return resp, nil
}

// wrapTransport distinguishes deadline expiry from other transport
// failures. The http request is cancelled by the context machinery the
// moment the deadline passes.
func (c *Client) wrapTransport(ctx context.Context, server, tool string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{Kind: KindDeadlineExceeded, Server: server, Tool: tool, Err: err}
	}
	return &ToolError{Kind: KindTransport, Server: server, Tool: tool, Err: err}
}
