package extension

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultSSETimeout = 30 * time.Second

// SSETransport implements the HTTP+SSE transport: requests are POSTed and
// answered synchronously, while a background GET against the server's
// event stream delivers asynchronous notifications (tools/list_changed,
// progress).
type SSETransport struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	events    chan *RPCNotification
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSSETransport builds an SSETransport for cfg.
func NewSSETransport(cfg Config) *SSETransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultSSETimeout
	}
	return &SSETransport{
		cfg:      cfg,
		logger:   slog.Default().With("component", "extension", "extension", cfg.Name, "transport", "sse"),
		client:   &http.Client{Timeout: timeout},
		events:   make(chan *RPCNotification, 100),
		stopChan: make(chan struct{}),
	}
}

func (t *SSETransport) Connect(ctx context.Context) error {
	if t.cfg.URI == "" {
		return fmt.Errorf("extension: uri is required for sse transport")
	}
	t.connected.Store(true)
	t.logger.Info("sse transport ready", "uri", t.cfg.URI)

	t.wg.Add(1)
	go t.sseLoop(ctx)
	return nil
}

func (t *SSETransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	t.wg.Wait()
	return nil
}

func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("extension: transport not connected")
	}

	req := RPCRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("extension: marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("extension: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URI, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extension: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extension: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extension: http %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("extension: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("extension rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("extension: transport not connected")
	}

	notif := RPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("extension: marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("extension: marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("extension: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("extension: http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (t *SSETransport) Events() <-chan *RPCNotification { return t.events }

func (t *SSETransport) Connected() bool { return t.connected.Load() }

func (t *SSETransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()

	sseURI := strings.TrimSuffix(t.cfg.URI, "/") + "/sse"

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		t.connectSSE(ctx, sseURI)

		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *SSETransport) connectSSE(ctx context.Context, sseURI string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURI, nil)
	if err != nil {
		t.logger.Debug("failed to build sse request", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("sse connection failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("sse returned non-200", "status", resp.StatusCode)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var notif RPCNotification
		if err := json.Unmarshal([]byte(data), &notif); err != nil || notif.Method == "" {
			continue
		}
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("event channel full, dropping notification", "method", notif.Method)
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("sse scanner error", "error", err)
	}
}
