package webhook

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/mattjoyce/docpush/internal/webhook Dispatcher

// Dispatcher queues a build for an accepted push.
type Dispatcher interface {
	Dispatch(ctx context.Context, buildType, repository, branch, outputPath string) (string, error)
}

// Request is the part of an HTTP request the validation pipeline looks at.
// Body holds the raw bytes exactly as received.
type Request struct {
	Event       string
	Signature   string
	ContentType string
	Body        []byte
	RemoteAddr  string
}

// DecisionKind is the classifier verdict.
type DecisionKind int

const (
	NotJSON DecisionKind = iota
	NotPushEvent
	UnknownRepository
	UnknownBranch
	Accepted
)

func (k DecisionKind) String() string {
	switch k {
	case NotJSON:
		return "not_json"
	case NotPushEvent:
		return "not_push_event"
	case UnknownRepository:
		return "unknown_repository"
	case UnknownBranch:
		return "unknown_branch"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Decision is the result of Classify. Repository, Branch and OutputPath are
// set only for Accepted.
type Decision struct {
	Kind       DecisionKind
	Repository string
	Branch     string
	OutputPath string
}

// Response bodies.
const (
	msgGetOK            = "Successfully reached webhook server with GET request."
	msgTooManyRequests  = "Too many requests"
	msgPayloadTooLarge  = "Payload too large"
	msgInvalidIP        = "Request originated from invalid IP address"
	msgInvalidSignature = "Invalid secret token"
	msgNotJSON          = "Content-Type must be application/json"
	msgNotPush          = "Payload was not a push event"
	msgUnknownRepo      = "Payload was not for the target repository"
	msgUnknownBranch    = "Payload was not for a target branch"
	msgQueueFailed      = "Failed to queue build job"
	msgQueuedFormat     = "Successfully queued %s job for %s, %s branch"
)
