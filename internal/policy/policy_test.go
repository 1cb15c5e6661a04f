package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/open-policy-agent/opa/rego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultPolicyAssertionsRego = `
package dailylog.tests

import future.keywords.if
import future.keywords.in

test_allows_plain_post if {
	count(data.dailylog.posts.deny) == 0 with input as {
		"text": "hello",
		"tags": ["a", "b"],
		"images": [],
		"status": "published"
	}
}

test_denies_unknown_status if {
	"unknown status \"archived\"" in data.dailylog.posts.deny with input as {
		"text": "hello",
		"tags": [],
		"images": [],
		"status": "archived"
	}
}

test_denies_too_many_images if {
	"more than 10 images" in data.dailylog.posts.deny with input as {
		"text": "",
		"tags": [],
		"images": ["1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"],
		"status": "draft"
	}
}
`

func TestDefaultPolicyRegoAssertions(t *testing.T) {
	for _, rule := range []string{
		"test_allows_plain_post",
		"test_denies_unknown_status",
		"test_denies_too_many_images",
	} {
		t.Run(rule, func(t *testing.T) {
			r := rego.New(
				rego.Query(fmt.Sprintf("data.dailylog.tests.%s", rule)),
				rego.Module("posts.rego", defaultPostsRego),
				rego.Module("tests.rego", defaultPolicyAssertionsRego),
			)
			results, err := r.Eval(context.Background())
			require.NoError(t, err)
			require.NotEmpty(t, results)
			require.Equal(t, true, results[0].Expressions[0].Value)
		})
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	p, err := NewPostPolicy(ctx, "")
	require.NoError(t, err)

	require.NoError(t, p.Check(ctx, PostInput{Text: "ok", Status: "published"}))

	err = p.Check(ctx, PostInput{
		Text:   strings.Repeat("x", 20001),
		Tags:   []string{strings.Repeat("t", 65)},
		Status: "published",
	})
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Message, "text exceeds 20000 characters")
	assert.Contains(t, ve.Message, "exceeds 64 characters")

	msgs, err := p.Denials(ctx, PostInput{Tags: make([]string, 31), Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, []string{"more than 30 tags"}, msgs)
}

func TestPolicyDirOverride(t *testing.T) {
	dir := t.TempDir()
	custom := `
package dailylog.posts

import future.keywords.contains
import future.keywords.if

deny contains "no shouting" if {
    upper(input.text) == input.text
    input.text != ""
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "posts.rego"), []byte(custom), 0o600))

	ctx := context.Background()
	p, err := NewPostPolicy(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, custom, p.Source())
	require.Error(t, p.Check(ctx, PostInput{Text: "HELLO", Status: "published"}))
	require.NoError(t, p.Check(ctx, PostInput{Text: "hello", Status: "published"}))
}

func TestCompileRejectsBadRego(t *testing.T) {
	_, err := Compile(context.Background(), "package broken\n deny contains")
	require.Error(t, err)
}
