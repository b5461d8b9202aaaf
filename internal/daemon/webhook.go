package daemon

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- legacy sha1= signatures still sent by older forges
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/docpages/internal/daemon/events"
	"git.home.luguber.info/inful/docpages/internal/logfields"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// forgeSource identifies the webhook sender, detected from request headers.
type forgeSource string

const (
	forgeGitHub  forgeSource = "github"
	forgeGitea   forgeSource = "gitea"
	forgeForgejo forgeSource = "forgejo"
	forgeGitLab  forgeSource = "gitlab"
	forgeUnknown forgeSource = "unknown"
)

// WebhookHandler receives push notifications from the source forge and turns
// pushes to the stable branch into build requests.
type WebhookHandler struct {
	secret       string
	stableBranch string
	requestBuild func(evt events.BuildRequested) error
}

// NewWebhookHandler creates a webhook handler. requestBuild reports an error
// when the daemon cannot accept more work.
func NewWebhookHandler(secret, stableBranch string, requestBuild func(events.BuildRequested) error) *WebhookHandler {
	return &WebhookHandler{
		secret:       secret,
		stableBranch: stableBranch,
		requestBuild: requestBuild,
	}
}

// pushPayload covers the fields shared by GitHub, Gitea, Forgejo and GitLab
// push payloads.
type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	ObjectKind string `json:"object_kind,omitempty"`  // GitLab
	Checkout   string `json:"checkout_sha,omitempty"` // GitLab
	HeadCommit struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
}

// HandlePush is the single webhook endpoint. Forge type is auto-detected
// from the event headers.
func (h *WebhookHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	source, eventType := detectForge(r)
	if source == forgeUnknown {
		http.Error(w, "unrecognized webhook source", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !h.validateSignature(r, source, body) {
		slog.Warn("Webhook signature validation failed", slog.String("source", string(source)))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if !isPushEvent(source, eventType) {
		writeWebhookJSON(w, http.StatusAccepted, map[string]any{
			"status": "ignored",
			"reason": fmt.Sprintf("event %q is not a push", eventType),
		})
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch != h.stableBranch {
		writeWebhookJSON(w, http.StatusAccepted, map[string]any{
			"status": "ignored",
			"reason": fmt.Sprintf("push to %q, watching %q", branch, h.stableBranch),
		})
		return
	}

	commit := payload.After
	if commit == "" {
		commit = payload.Checkout
	}

	evt := events.BuildRequested{
		Trigger:     "webhook",
		Reason:      fmt.Sprintf("%s push to %s", source, branch),
		Commit:      commit,
		RequestedAt: time.Now(),
	}

	if err := h.requestBuild(evt); err != nil {
		slog.Warn("Webhook build request rejected", logfields.Error(err))
		http.Error(w, "build queue is full", http.StatusServiceUnavailable)
		return
	}

	slog.Info("Webhook push accepted",
		slog.String("source", string(source)),
		logfields.Branch(branch),
		logfields.Commit(commit))

	writeWebhookJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"branch":    branch,
		"commit":    commit,
		"timestamp": time.Now().UTC(),
	})
}

// detectForge inspects event headers and returns the forge plus the raw
// event type.
func detectForge(r *http.Request) (forgeSource, string) {
	if ev := r.Header.Get("X-GitHub-Event"); ev != "" {
		return forgeGitHub, ev
	}
	if ev := r.Header.Get("X-Forgejo-Event"); ev != "" {
		return forgeForgejo, ev
	}
	if ev := r.Header.Get("X-Gitea-Event"); ev != "" {
		return forgeGitea, ev
	}
	if ev := r.Header.Get("X-Gitlab-Event"); ev != "" {
		return forgeGitLab, ev
	}
	return forgeUnknown, ""
}

func isPushEvent(source forgeSource, eventType string) bool {
	if source == forgeGitLab {
		return eventType == "Push Hook" || eventType == "push"
	}
	return eventType == "push"
}

// validateSignature checks the forge-specific signature header against the
// shared secret.
func (h *WebhookHandler) validateSignature(r *http.Request, source forgeSource, body []byte) bool {
	if source == forgeGitLab {
		// GitLab sends the raw secret in X-Gitlab-Token.
		token := r.Header.Get("X-Gitlab-Token")
		return token != "" && hmac.Equal([]byte(token), []byte(h.secret))
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}
	return validateHubSignature(body, signature, h.secret)
}

// validateHubSignature verifies GitHub-style HMAC signatures. Gitea and
// Forgejo send the same format.
func validateHubSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	if expected, ok := strings.CutPrefix(signature, "sha256="); ok {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		calc := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(calc))
	}

	if expected, ok := strings.CutPrefix(signature, "sha1="); ok {
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(payload)
		calc := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(calc))
	}

	return false
}

func writeWebhookJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write webhook response", logfields.Error(err))
	}
}
