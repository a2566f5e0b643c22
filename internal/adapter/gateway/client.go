// Package gateway wakes agents through their gateway's WebSocket RPC endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
	gw "github.com/nintynick/openclaw-mission-control-sub001/internal/port/gateway"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/resilience"
)

// MethodAgentWake is the gateway RPC that nudges an agent to check in.
const MethodAgentWake = "agent.wake"

const defaultTimeout = 10 * time.Second

// ErrGatewayRejected is returned when the gateway answers the wake with an error.
var ErrGatewayRejected = errors.New("gateway rejected request")

// GatewayLookup resolves the gateway an agent is attached to.
type GatewayLookup interface {
	GetGateway(ctx context.Context, id string) (*agent.Gateway, error)
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type response struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Error *responseError  `json:"error,omitempty"`
	Data  json.RawMessage `json:"payload,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wakeParams struct {
	AgentID string `json:"agent_id"`
	BoardID string `json:"board_id,omitempty"`
}

// Client implements gateway.Waker. Each wake opens a short-lived connection,
// sends one request frame and waits for the matching response.
type Client struct {
	gateways GatewayLookup
	timeout  time.Duration
	breaker  *resilience.Breaker
	slots    *semaphore.Weighted
}

var _ gw.Waker = (*Client)(nil)

// NewClient creates a Client that resolves gateways through lookup.
func NewClient(lookup GatewayLookup, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{gateways: lookup, timeout: timeout}
}

// SetBreaker attaches a circuit breaker to wake calls.
func (c *Client) SetBreaker(b *resilience.Breaker) { c.breaker = b }

// SetMaxConcurrent caps the number of wake connections open at once.
// Wakes beyond the cap wait for a slot or for ctx to end. n < 1 removes
// the cap.
func (c *Client) SetMaxConcurrent(n int) {
	if n < 1 {
		c.slots = nil
		return
	}
	c.slots = semaphore.NewWeighted(int64(n))
}

// Wake sends agent.wake for a to its gateway.
func (c *Client) Wake(ctx context.Context, a *agent.Agent) error {
	g, err := c.gateways.GetGateway(ctx, a.GatewayID)
	if err != nil {
		return fmt.Errorf("resolve gateway for agent %s: %w", a.ID, err)
	}
	if c.slots != nil {
		if err := c.slots.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("wait for gateway slot: %w", err)
		}
		defer c.slots.Release(1)
	}

	call := func() error {
		return c.call(ctx, g, MethodAgentWake, wakeParams{AgentID: a.ID, BoardID: a.BoardID})
	}
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func (c *Client) call(ctx context.Context, g *agent.Gateway, method string, params any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if g.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + g.Token}}
	}
	conn, _, err := websocket.Dial(ctx, g.URL, opts)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", g.ID, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best-effort close

	req := request{Type: "req", ID: uuid.NewString(), Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await %s response: %w", method, err)
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			slog.Debug("gateway frame ignored", "gateway_id", g.ID, "error", err)
			continue
		}
		// Gateways interleave event frames with responses.
		if resp.Type != "res" || resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, method, msg)
		}
		return nil
	}
}
