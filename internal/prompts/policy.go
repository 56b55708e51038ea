// internal/prompts/policy.go
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const SchemaV1 = "manimstudio.prompts.v1"

//go:embed default_policy.yaml
var defaultPolicy []byte

// Policy maps generation backends to the instructional text prepended to user prompts
type Policy struct {
	Schema          string     `yaml:"schema"`
	DefaultTemplate string     `yaml:"default_template,omitempty"`
	Templates       []Template `yaml:"templates"`
}

// Template is one instructional preamble
type Template struct {
	ID        string   `yaml:"id"`
	Providers []string `yaml:"providers,omitempty"`
	Text      string   `yaml:"text"`
}

// Default returns the policy compiled into the binary
func Default() (*Policy, error) {
	return Parse(defaultPolicy)
}

// Load reads a policy file, falling back to the embedded default when path is empty
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt policy %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML policy document
func Parse(input []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(input, &policy); err != nil {
		return nil, fmt.Errorf("decode prompt policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Schema) != SchemaV1 {
		return fmt.Errorf("policy.schema must be %q", SchemaV1)
	}
	if len(p.Templates) == 0 {
		return fmt.Errorf("policy.templates must be non-empty")
	}

	seen := make(map[string]struct{}, len(p.Templates))
	for i, tmpl := range p.Templates {
		id := strings.TrimSpace(tmpl.ID)
		if id == "" {
			return fmt.Errorf("policy.templates[%d].id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("policy.templates[%d].id must be unique (duplicate %q)", i, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(tmpl.Text) == "" {
			return fmt.Errorf("policy.templates[%d].text is required", i)
		}
	}

	if p.DefaultTemplate != "" {
		if _, ok := seen[p.DefaultTemplate]; !ok {
			return fmt.Errorf("policy.default_template %q does not match any template", p.DefaultTemplate)
		}
	}
	return nil
}

// TemplateFor returns the template bound to provider, or the default template.
func (p *Policy) TemplateFor(provider string) (Template, error) {
	for _, tmpl := range p.Templates {
		for _, name := range tmpl.Providers {
			if strings.EqualFold(name, provider) {
				return tmpl, nil
			}
		}
	}
	for _, tmpl := range p.Templates {
		if tmpl.ID == p.DefaultTemplate {
			return tmpl, nil
		}
	}
	return Template{}, fmt.Errorf("no prompt template for provider %q", provider)
}

// Compose joins the instructional text and the user's prompt into one message
func (t Template) Compose(prompt string) string {
	return t.Text + prompt
}
