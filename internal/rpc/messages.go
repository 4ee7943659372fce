package rpc

import (
	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/model"
	"github.com/ppiankov/mandate/internal/monitor"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mandate.v1.AuthorityService"

// Method names.
const (
	MethodCreateDelegation = "CreateDelegation"
	MethodAddPolicy        = "AddPolicy"
	MethodRemovePolicy     = "RemovePolicy"
	MethodAuthorize        = "Authorize"
	MethodEvaluate         = "Evaluate"
	MethodTransition       = "Transition"
	MethodExport           = "Export"
	MethodVerify           = "Verify"
	MethodAlerts           = "Alerts"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Transition actions.
const (
	TransitionSuspend    = "suspend"
	TransitionReactivate = "reactivate"
	TransitionRevoke     = "revoke"
)

type CreateDelegationRequest struct {
	Delegation model.Delegation `json:"delegation"`
}

type CreateDelegationResponse struct {
	Delegation model.Delegation `json:"delegation"`
}

type AddPolicyRequest struct {
	DelegationID string       `json:"delegation_id"`
	Policy       model.Policy `json:"policy"`
	Actor        string       `json:"actor"`
}

type AddPolicyResponse struct {
	Policy  model.Policy      `json:"policy"`
	Receipt authority.Receipt `json:"receipt"`
}

type RemovePolicyRequest struct {
	DelegationID string `json:"delegation_id"`
	PolicyID     string `json:"policy_id"`
	Actor        string `json:"actor"`
}

// ReceiptResponse answers every method that only appends an event.
type ReceiptResponse struct {
	Receipt authority.Receipt `json:"receipt"`
}

type AuthorizeRequest struct {
	Context model.ActionContext `json:"context"`
}

type AuthorizeResponse struct {
	Decision authority.Decision `json:"decision"`
}

type EvaluateRequest struct {
	Context model.ActionContext `json:"context"`
}

type EvaluateResponse struct {
	Evaluation model.Evaluation `json:"evaluation"`
}

// TransitionRequest changes a delegation's status. Action is one of the Transition
// constants.
type TransitionRequest struct {
	DelegationID string `json:"delegation_id"`
	Action       string `json:"action"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason,omitempty"`
}

type ExportRequest struct {
	DelegationID string `json:"delegation_id"`
}

type ExportResponse struct {
	Export chain.Export `json:"export"`
}

type VerifyRequest struct {
	DelegationID string `json:"delegation_id"`
}

// VerifyResponse reports a broken chain as Valid=false rather than as an RPC error.
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	HeadHash string `json:"head_hash,omitempty"`
	Error    string `json:"error,omitempty"`
	ErrorSeq int64  `json:"error_seq,omitempty"`
}

type AlertsRequest struct{}

type AlertsResponse struct {
	Alerts []monitor.Alert `json:"alerts"`
}
