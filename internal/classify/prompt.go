package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompt.yaml
var defaultPrompt []byte

// Prompt holds the model settings and system instruction sent with each call.
type Prompt struct {
	Model           string `yaml:"model"`
	MaxTokens       int64  `yaml:"max_tokens"`
	ToolName        string `yaml:"tool_name"`
	ToolDescription string `yaml:"tool_description"`
	System          string `yaml:"system"`
}

// LoadPrompt reads the embedded prompt and overlays the file at path, if any.
// Fields missing from the file keep their embedded values.
func LoadPrompt(path string) (Prompt, error) {
	var p Prompt
	if err := yaml.Unmarshal(defaultPrompt, &p); err != nil {
		return Prompt{}, fmt.Errorf("failed to parse embedded prompt: %w", err)
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to read prompt file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompt{}, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}
	if strings.TrimSpace(p.System) == "" || p.ToolName == "" {
		return Prompt{}, fmt.Errorf("prompt file %s: system and tool_name must not be empty", path)
	}
	return p, nil
}

// SystemText appends the vocabulary already in use to the instruction.
func (p Prompt) SystemText(categories, events []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.System))
	b.WriteString("\n\nExisting categories: ")
	b.WriteString(listOrNone(categories))
	b.WriteString("\nExisting events: ")
	b.WriteString(listOrNone(events))
	return b.String()
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}
