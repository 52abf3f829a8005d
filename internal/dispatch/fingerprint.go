package dispatch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fingerprint derives the dispatch id of a record revision. It depends only on
// the record number and its last-modified timestamp.
func Fingerprint(number int, updatedAt string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", number, updatedAt)))
	return hex.EncodeToString(sum[:])[:16]
}

// Annotation is the comment left on a record once it has been dispatched.
type Annotation struct {
	DispatchID string `json:"dispatch_id"`
	RunID      string `json:"run_id"`
	Worker     string `json:"worker"`
	TaskID     string `json:"task_id"`
	TaskType   string `json:"task_type"`
	Note       string `json:"note,omitempty"`
}

// Render formats the annotation as a fenced JSON comment.
func (a Annotation) Render() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return "", fmt.Errorf("encode dispatch annotation: %w", err)
	}
	return "dispatch\n```json\n" + strings.TrimRight(buf.String(), "\n") + "\n```", nil
}

// Annotated reports whether any comment carries the fingerprint.
func Annotated(comments []string, fingerprint string) bool {
	for _, c := range comments {
		if strings.Contains(c, fingerprint) {
			return true
		}
	}
	return false
}
