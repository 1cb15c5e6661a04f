// Package policy validates post writes with an OPA Rego policy.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/security"
	"github.com/open-policy-agent/opa/rego"
)

// PostInput is the document the post policy evaluates.
type PostInput struct {
	Text   string   `json:"text"`
	Tags   []string `json:"tags"`
	Images []string `json:"images"`
	Status string   `json:"status"`
}

const denyQuery = "data.dailylog.posts.deny"

const defaultPostsRego = `
package dailylog.posts

import future.keywords.contains
import future.keywords.if
import future.keywords.in

max_text := 20000
max_tags := 30
max_tag_length := 64
max_images := 10

deny contains msg if {
    count(input.text) > max_text
    msg := sprintf("text exceeds %d characters", [max_text])
}

deny contains msg if {
    count(input.tags) > max_tags
    msg := sprintf("more than %d tags", [max_tags])
}

deny contains msg if {
    some tag in input.tags
    count(tag) > max_tag_length
    msg := sprintf("tag %q exceeds %d characters", [tag, max_tag_length])
}

deny contains msg if {
    count(input.images) > max_images
    msg := sprintf("more than %d images", [max_images])
}

deny contains msg if {
    not input.status in {"draft", "published"}
    msg := sprintf("unknown status %q", [input.status])
}
`

// PostPolicy evaluates data.dailylog.posts.deny against post writes.
type PostPolicy struct {
	query  rego.PreparedEvalQuery
	source string
}

// NewPostPolicy loads posts.rego from policyDir, or the built-in policy when
// policyDir is empty or has no such file.
func NewPostPolicy(ctx context.Context, policyDir string) (*PostPolicy, error) {
	src := defaultPostsRego
	if policyDir != "" {
		data, err := os.ReadFile(filepath.Join(policyDir, "posts.rego"))
		if err != nil {
			log.Warn("Policy file not found, using built-in default", "file", "posts.rego", "err", err)
		} else {
			src = string(data)
		}
	}
	return Compile(ctx, src)
}

// Compile prepares a policy from Rego source.
func Compile(ctx context.Context, src string) (*PostPolicy, error) {
	r := rego.New(
		rego.Query(denyQuery),
		rego.Module("posts.rego", src),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile post policy: %w", err)
	}
	return &PostPolicy{query: pq, source: src}, nil
}

// Source returns the active Rego source.
func (p *PostPolicy) Source() string { return p.source }

// Denials returns the sorted denial messages for in.
func (p *PostPolicy) Denials(ctx context.Context, in PostInput) ([]string, error) {
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.Images == nil {
		in.Images = []string{}
	}
	input := map[string]any{
		"text":   in.Text,
		"tags":   in.Tags,
		"images": in.Images,
		"status": in.Status,
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy: eval post policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	raw, _ := results[0].Expressions[0].Value.([]any)
	var msgs []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			msgs = append(msgs, s)
		}
	}
	sort.Strings(msgs)
	return msgs, nil
}

// Check returns a ValidationError when the policy denies in.
func (p *PostPolicy) Check(ctx context.Context, in PostInput) error {
	msgs, err := p.Denials(ctx, in)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if security.PolicyDenialsTotal != nil {
		security.PolicyDenialsTotal.Inc()
	}
	return &registrystore.ValidationError{Field: "post", Message: strings.Join(msgs, "; ")}
}
