// Package cucumber provides a godog-based BDD test framework for the daily log
// HTTP API.
//
// Each scenario tracks the users it has authenticated as. Every user has its
// own HTTP session, so the last response is remembered per user. Scenarios run
// one at a time against a shared server and the database is reset before each.
//
// Variable resolution supports:
//   - ${variableName}         → scenario variable lookup
//   - ${variable.field}       → nested field access
//   - ${response.field}       → field of the current user's last response via gojq
//   - ${variable | pipe}      → pipe transformations (json, string)
package cucumber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// TestDB gives steps direct access to the backing database.
type TestDB interface {
	// ClearAll wipes all rows. Called before each scenario.
	ClearAll(ctx context.Context) error
	// Count returns the number of rows in a table.
	Count(ctx context.Context, table string) (int64, error)
}

// TestSuite holds state shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	DB       TestDB
}

func NewTestSuite() *TestSuite {
	return &TestSuite{APIURL: "http://localhost:8080"}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Concurrency: 1,
		Strict:      true,
	}
}

// ApplyReportOptions writes a junit report when GODOG_REPORT_DIR is set. The
// returned func closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(reportDir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestScenario holds state for a single scenario.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	Variables   map[string]any
	sessions    map[string]*TestSession
}

// TestSession is the HTTP state of one user, like a browser tab.
type TestSession struct {
	// Token is sent as the bearer token. Empty sends no Authorization header.
	Token     string
	Client    *http.Client
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte
	respJSON  any
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// Session returns the session of the current user, creating it on first use.
func (s *TestScenario) Session() *TestSession {
	session := s.sessions[s.CurrentUser]
	if session == nil {
		session = &TestSession{
			Token:  s.CurrentUser,
			Client: &http.Client{},
			Header: http.Header{},
		}
		s.sessions[s.CurrentUser] = session
	}
	return session
}

// RespJSON returns the last response body parsed as JSON.
func (s *TestSession) RespJSON() (any, error) {
	if s.respJSON == nil {
		if s.RespBytes == nil {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("error parsing response json: %w\njson was:\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestSession) SetRespBytes(data []byte) {
	s.RespBytes = data
	s.respJSON = nil
}

// Select runs a jq selector against the last response and returns its first result.
func (s *TestSession) Select(selector string) (any, error) {
	doc, err := s.RespJSON()
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	v, found := query.Run(doc).Next()
	if !found {
		return nil, fmt.Errorf("no node in response matches selector: %s", selector)
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("selector %s: %w", selector, err)
	}
	return v, nil
}

func indent(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func diff(expected, actual string) string {
	d, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return d
}

// JSONMustMatch fails unless actual and the expanded expected document are equal.
func (s *TestScenario) JSONMustMatch(actual, expected string) error {
	var actualParsed, expectedParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff(indent(expectedParsed), indent(actualParsed)))
	}
	return nil
}

// JSONMustContain fails unless every field of the expanded expected document
// is present in actual with the same value.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	var actualParsed, expectedParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s",
			err, indent(expectedParsed), indent(actualParsed))
	}
	return nil
}

// jsonSubset compares objects by the keys of expected, arrays element-wise
// with equal lengths, and everything else by equality.
func jsonSubset(expected, actual any, path string) error {
	switch exp := expected.(type) {
	case nil:
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return "$" + path
}

// Expand replaces ${var} references in value.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil {
			rerr = err
			return ""
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value)
}

func ToString(value any) (string, error) {
	switch value := value.(type) {
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *TestScenario) Resolve(name string) (any, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes = pipes[0], pipes[1:]

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		selector := "." + strings.TrimPrefix(strings.TrimPrefix(name, "response"), ".")
		value, err := s.Session().Select(selector)
		return pipeline(pipes, value, err)
	}

	parts := strings.Split(name, ".")
	value, found := s.Variables[parts[0]]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", parts[0]))
	}
	var err error
	for _, part := range parts[1:] {
		if value, err = selectChild(value, part); err != nil {
			return pipeline(pipes, nil, err)
		}
	}
	return pipeline(pipes, value, nil)
}

func selectChild(value any, path string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[path]
		if !ok {
			return nil, fmt.Errorf("map key %s not found", path)
		}
		return child, nil
	case []any:
		index, err := strconv.Atoi(path)
		if err != nil || index < 0 || index >= len(v) {
			return nil, fmt.Errorf("slice index %s out of range", path)
		}
		return v[index], nil
	}
	return nil, fmt.Errorf("can't navigate to '%s' on type of %T", path, value)
}

func pipeline(pipes []string, value any, err error) (any, error) {
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		buf := bytes.NewBuffer(nil)
		encoder := json.NewEncoder(buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return value, err
		}
		return buf.String(), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// StepModules register steps with each new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]any{},
		sessions:  map[string]*TestSession{},
	}
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		if suite.DB == nil {
			return ctx, nil
		}
		return ctx, suite.DB.ClearAll(ctx)
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}
