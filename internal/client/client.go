// Package client is a typed client for a remote mandate authority server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/model"
	"github.com/ppiankov/mandate/internal/monitor"
	"github.com/ppiankov/mandate/internal/rpc"
)

// DefaultTimeout bounds each call when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a mandate authority server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a gRPC client for the given address. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to authority server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CreateDelegation records a new delegation.
func (c *Client) CreateDelegation(ctx context.Context, d model.Delegation) (model.Delegation, error) {
	var resp rpc.CreateDelegationResponse
	if err := c.invoke(ctx, rpc.MethodCreateDelegation, &rpc.CreateDelegationRequest{Delegation: d}, &resp); err != nil {
		return model.Delegation{}, err
	}
	return resp.Delegation, nil
}

// AddPolicy attaches a policy to a delegation.
func (c *Client) AddPolicy(ctx context.Context, delegationID string, p model.Policy, actor string) (model.Policy, authority.Receipt, error) {
	var resp rpc.AddPolicyResponse
	req := &rpc.AddPolicyRequest{DelegationID: delegationID, Policy: p, Actor: actor}
	if err := c.invoke(ctx, rpc.MethodAddPolicy, req, &resp); err != nil {
		return model.Policy{}, authority.Receipt{}, err
	}
	return resp.Policy, resp.Receipt, nil
}

// RemovePolicy detaches a policy.
func (c *Client) RemovePolicy(ctx context.Context, delegationID, policyID, actor string) (authority.Receipt, error) {
	var resp rpc.ReceiptResponse
	req := &rpc.RemovePolicyRequest{DelegationID: delegationID, PolicyID: policyID, Actor: actor}
	if err := c.invoke(ctx, rpc.MethodRemovePolicy, req, &resp); err != nil {
		return authority.Receipt{}, err
	}
	return resp.Receipt, nil
}

// Authorize evaluates and records a request remotely. An error means nothing is known
// to have been recorded, and the request must be treated as not authorized.
func (c *Client) Authorize(ctx context.Context, actx model.ActionContext) (authority.Decision, error) {
	var resp rpc.AuthorizeResponse
	if err := c.invoke(ctx, rpc.MethodAuthorize, &rpc.AuthorizeRequest{Context: actx}, &resp); err != nil {
		return authority.Decision{}, err
	}
	return resp.Decision, nil
}

// Evaluate runs a remote dry run.
func (c *Client) Evaluate(ctx context.Context, actx model.ActionContext) (model.Evaluation, error) {
	var resp rpc.EvaluateResponse
	if err := c.invoke(ctx, rpc.MethodEvaluate, &rpc.EvaluateRequest{Context: actx}, &resp); err != nil {
		return model.Evaluation{}, err
	}
	return resp.Evaluation, nil
}

// Transition suspends, reactivates or revokes a delegation.
func (c *Client) Transition(ctx context.Context, delegationID, action, actor, reason string) (authority.Receipt, error) {
	var resp rpc.ReceiptResponse
	req := &rpc.TransitionRequest{DelegationID: delegationID, Action: action, Actor: actor, Reason: reason}
	if err := c.invoke(ctx, rpc.MethodTransition, req, &resp); err != nil {
		return authority.Receipt{}, err
	}
	return resp.Receipt, nil
}

// Export fetches a delegation and its full chain.
func (c *Client) Export(ctx context.Context, delegationID string) (chain.Export, error) {
	var resp rpc.ExportResponse
	if err := c.invoke(ctx, rpc.MethodExport, &rpc.ExportRequest{DelegationID: delegationID}, &resp); err != nil {
		return chain.Export{}, err
	}
	return resp.Export, nil
}

// Verify asks the server to replay a delegation's chain.
func (c *Client) Verify(ctx context.Context, delegationID string) (rpc.VerifyResponse, error) {
	var resp rpc.VerifyResponse
	if err := c.invoke(ctx, rpc.MethodVerify, &rpc.VerifyRequest{DelegationID: delegationID}, &resp); err != nil {
		return rpc.VerifyResponse{}, err
	}
	return resp, nil
}

// Alerts runs a monitor scan on the server.
func (c *Client) Alerts(ctx context.Context) ([]monitor.Alert, error) {
	var resp rpc.AlertsResponse
	if err := c.invoke(ctx, rpc.MethodAlerts, &rpc.AlertsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return fromStatus(c.conn.Invoke(ctx, rpc.FullMethod(method), req, resp))
}

// fromStatus turns a gRPC status back into the domain sentinel it was mapped from so
// callers can use errors.Is on either side of the wire.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = model.ErrValidation
	case codes.NotFound:
		sentinel = ledger.ErrNotFound
	case codes.AlreadyExists:
		sentinel = ledger.ErrExists
	case codes.FailedPrecondition:
		sentinel = authority.ErrInvalidTransition
	case codes.DataLoss:
		sentinel = chain.ErrIntegrity
	case codes.Aborted:
		sentinel = authority.ErrTransient
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
