package cucumber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, s.iAmAuthenticatedAsUser)
		ctx.Step(`^I am not authenticated$`, s.iAmNotAuthenticated)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (PUT) path "([^"]*)" with text body "([^"]*)"$`, s.sendHTTPRequestWithTextBody)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response code to match "([^"]*)"$`, s.iWaitUpToSecondsForAGETOnPathResponseCodeToMatch)
	})
}

func (s *TestScenario) iAmAuthenticatedAsUser(user string) error {
	s.CurrentUser = user
	return nil
}

func (s *TestScenario) iAmNotAuthenticated() error {
	s.CurrentUser = ""
	return nil
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) error {
	var body []byte
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return err
		}
		body = []byte(expanded)
	}
	return s.send(method, path, "application/json", body)
}

func (s *TestScenario) sendHTTPRequestWithTextBody(method, path, text string) error {
	expanded, err := s.Expand(text)
	if err != nil {
		return err
	}
	return s.send(method, path, "application/octet-stream", []byte(expanded))
}

// send issues a request as the current user. Absolute URLs are sent to the
// suite's server with only their path and query kept, since signed links carry
// the configured public base URL.
func (s *TestScenario) send(method, path, contentType string, body []byte) error {
	session := s.Session()

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	target := s.Suite.APIURL + expandedPath
	if u, err := url.Parse(expandedPath); err == nil && u.Scheme != "" {
		target = s.Suite.APIURL + u.RequestURI()
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	// Extra headers apply to one request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if session.Token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	session.Resp = resp
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.SetRespBytes(data)
	return nil
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitUpToSecondsForAGETOnPathResponseCodeToMatch(timeout float64, path string, expected int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout*float64(time.Second)))
	defer cancel()

	var lastErr error
	for {
		lastErr = s.sendHTTPRequest(http.MethodGet, path)
		if lastErr == nil {
			lastErr = s.theResponseCodeShouldBe(expected)
			if lastErr == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("condition not met after %.f seconds: %w", timeout, lastErr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
