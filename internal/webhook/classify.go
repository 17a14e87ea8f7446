package webhook

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"

	"github.com/google/go-github/v61/github"

	"github.com/mattjoyce/docpush/internal/config"
)

const (
	pushEvent   = "push"
	branchRefNS = "refs/heads/"
)

// Classify decides what to do with an authenticated request. Checks run in
// order (JSON, event type, repository, branch) and the first failure wins.
func Classify(req Request, targets config.Targets) Decision {
	if !isJSONContentType(req.ContentType) {
		return Decision{Kind: NotJSON}
	}
	trimmed := bytes.TrimSpace(req.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Decision{Kind: NotJSON}
	}
	var push github.PushEvent
	if err := json.Unmarshal(trimmed, &push); err != nil {
		return Decision{Kind: NotJSON}
	}

	if req.Event != pushEvent {
		return Decision{Kind: NotPushEvent}
	}

	repo := push.GetRepo().GetFullName()
	branches, ok := targets.Branches(repo)
	if repo == "" || !ok {
		return Decision{Kind: UnknownRepository}
	}

	ref := push.GetRef()
	if !strings.HasPrefix(ref, branchRefNS) {
		return Decision{Kind: UnknownBranch}
	}
	branch := strings.TrimPrefix(ref, branchRefNS)
	out, ok := branches[branch]
	if branch == "" || !ok {
		return Decision{Kind: UnknownBranch}
	}

	return Decision{Kind: Accepted, Repository: repo, Branch: branch, OutputPath: out}
}

// isJSONContentType accepts application/json and application/*+json, with
// or without parameters.
func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "application/json" {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}
