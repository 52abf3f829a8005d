package task

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// Meta is the structured block stored at the top of a record body.
// Keys the orchestrator does not know are kept in Extra and written back.
type Meta struct {
	TaskID      string         `yaml:"task_id"`
	TaskType    string         `yaml:"task_type"`
	Status      string         `yaml:"status"`
	DependsOn   StringList     `yaml:"depends_on"`
	OwnerWorker string         `yaml:"owner_worker"`
	Acceptance  StringList     `yaml:"acceptance"`
	Extra       map[string]any `yaml:",inline"`
}

// StringList decodes either a YAML sequence or a single scalar into a list
// of trimmed, non-empty strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	var out []string
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!null" {
			if v := strings.TrimSpace(value.Value); v != "" {
				out = append(out, v)
			}
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag == "!!null" {
				continue
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
	}
	*l = out
	return nil
}

// ParseFrontMatter splits a record body into its metadata block and the
// free text after it. A missing or malformed block yields empty metadata,
// ok=false and the original text as body.
func ParseFrontMatter(text string) (Meta, string, bool) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != fence {
		return Meta{}, text, false
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fence {
			end = i
			break
		}
	}
	if end == -1 {
		return Meta{}, text, false
	}
	raw := strings.TrimSpace(strings.Join(lines[1:end], "\n"))
	body := strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
	var meta Meta
	if raw != "" {
		if err := yaml.Unmarshal([]byte(raw), &meta); err != nil {
			return Meta{}, text, false
		}
	}
	return meta, body, true
}

// RenderFrontMatter writes meta as a fenced YAML block followed by body.
func RenderFrontMatter(meta Meta, body string) (string, error) {
	if meta.DependsOn == nil {
		meta.DependsOn = StringList{}
	}
	if meta.Acceptance == nil {
		meta.Acceptance = StringList{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	var out strings.Builder
	out.WriteString(fence + "\n")
	out.WriteString(strings.TrimSpace(buf.String()))
	out.WriteString("\n" + fence + "\n")
	if body = strings.TrimSpace(body); body != "" {
		out.WriteString("\n" + body + "\n")
	}
	return out.String(), nil
}

// FromMeta builds the task fields carried in a metadata block.
func FromMeta(meta Meta) Task {
	return Task{
		ID:          strings.TrimSpace(meta.TaskID),
		Type:        Type(strings.TrimSpace(meta.TaskType)),
		Status:      Status(strings.ToLower(strings.TrimSpace(meta.Status))),
		DependsOn:   dedupe(meta.DependsOn),
		OwnerWorker: strings.TrimSpace(meta.OwnerWorker),
		Acceptance:  append([]string(nil), meta.Acceptance...),
		extra:       meta.Extra,
	}
}

// Meta returns the metadata block for the task.
func (t Task) Meta() Meta {
	return Meta{
		TaskID:      t.ID,
		TaskType:    string(t.Type),
		Status:      string(t.Status),
		DependsOn:   StringList(append([]string(nil), t.DependsOn...)),
		OwnerWorker: t.OwnerWorker,
		Acceptance:  StringList(append([]string(nil), t.Acceptance...)),
		Extra:       t.extra,
	}
}

// RenderBody serializes the task metadata and its free text.
func (t Task) RenderBody() (string, error) {
	return RenderFrontMatter(t.Meta(), t.Body)
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
