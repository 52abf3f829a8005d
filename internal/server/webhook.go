package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"

	maxPayloadBytes = 5 << 20
)

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
	} `json:"pull_request"`
}

// Signature computes the X-Hub-Signature-256 value of body.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(Signature(secret, body)), []byte(header))
}

// RunID derives the journal run id of a delivery.
func RunID(delivery string) string {
	id, err := uuid.Parse(strings.TrimSpace(delivery))
	if err != nil {
		id = uuid.New()
	}
	return "hook-" + id.String()
}

func (s *Server) handleGitHub(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "read_body"})
		return
	}
	if s.cfg.Secret != "" && !validSignature(s.cfg.Secret, body, c.GetHeader(headerSignature)) {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid_signature"})
		return
	}

	event := c.GetHeader(headerEvent)
	switch event {
	case "ping":
		c.JSON(http.StatusOK, gin.H{"ok": true, "pong": true})
		return
	case "pull_request":
	default:
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "ignored": event})
		return
	}

	var payload pullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_payload"})
		return
	}
	pr := payload.PullRequest.Number
	if pr == 0 {
		pr = payload.Number
	}
	if payload.Action != "closed" || pr == 0 {
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "ignored": event + "." + payload.Action})
		return
	}

	runID := RunID(c.GetHeader(headerDelivery))
	ctx := c.Request.Context()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Lock != nil {
		release, err := s.cfg.Lock(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error(), "run_id": runID})
			return
		}
		defer release()
	}

	res, err := s.cfg.Completer.Handle(ctx, pr, runID)
	if err != nil {
		log.Error().Err(err).Int("pr", pr).Str("run_id", runID).Msg("completion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error(), "run_id": runID})
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}
