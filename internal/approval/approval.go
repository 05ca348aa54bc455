// Package approval talks to the approval-matrix service over the event bus.
//
// The service answers a request carrying an audit ID with one row per
// accounting document: ACCOUNT_DOC_ID and APPROVAL_MATRIX (0 or 1).
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNoAuditID = errors.New("audit ID is required")
	ErrService   = errors.New("approval matrix service error")
)

// DefaultTimeout bounds a request when none is configured.
const DefaultTimeout = 10 * time.Second

// Request is the payload sent to the service.
type Request struct {
	AuditID string `json:"auditId"`
}

// Row is one accounting document's approval flag.
type Row struct {
	AccountDocID   string `json:"ACCOUNT_DOC_ID"`
	ApprovalMatrix int    `json:"APPROVAL_MATRIX"`
}

// Response is the payload returned by the service.
type Response struct {
	Rows  []Row  `json:"rows"`
	Error string `json:"error,omitempty"`
}

// BusClient requests approval flags over the event bus.
type BusClient struct {
	bus     domain.EventBus
	topic   string
	timeout time.Duration
}

// NewBusClient creates a client on the default approval topic.
func NewBusClient(bus domain.EventBus, timeout time.Duration) *BusClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BusClient{bus: bus, topic: domain.TopicApprovalMatrix, timeout: timeout}
}

// Process returns the APPROVAL_MATRIX flag per ACCOUNT_DOC_ID for an audit.
func (c *BusClient) Process(ctx context.Context, auditID string) (map[string]int, error) {
	if strings.TrimSpace(auditID) == "" {
		return nil, ErrNoAuditID
	}

	payload, err := json.Marshal(Request{AuditID: auditID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	data, err := c.bus.Request(ctx, c.topic, payload)
	if err != nil {
		return nil, fmt.Errorf("approval request failed: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse approval response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrService, resp.Error)
	}

	flags := make(map[string]int, len(resp.Rows))
	for _, r := range resp.Rows {
		id := strings.TrimSpace(r.AccountDocID)
		if id == "" {
			continue
		}
		if r.ApprovalMatrix != 0 {
			flags[id] = 1
		} else if _, seen := flags[id]; !seen {
			flags[id] = 0
		}
	}

	slog.Debug("approval matrix received",
		"audit_id", auditID,
		"documents", len(flags),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return flags, nil
}

// Provider computes the approval rows of an audit.
type Provider func(ctx context.Context, auditID string) ([]Row, error)

// Serve answers approval requests on the bus with provider. Provider
// failures are returned to the caller in the response error field.
func Serve(ctx context.Context, bus domain.EventBus, provider Provider) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicApprovalMatrix, func(ctx context.Context, msg *domain.Message) error {
		var req Request
		var resp Response
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			resp.Error = "invalid request: " + err.Error()
		} else if rows, err := provider(ctx, req.AuditID); err != nil {
			slog.Warn("approval provider failed", "audit_id", req.AuditID, "error", err)
			resp.Error = err.Error()
		} else {
			resp.Rows = rows
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return bus.Reply(ctx, msg, data)
	})
}
