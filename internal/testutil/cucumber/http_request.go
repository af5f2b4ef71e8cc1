package cucumber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the path prefix is "([^"]*)"$`, s.thePathPrefixIs)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" with body:$`, s.sendHTTPRequestWithRawBody)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitForSelectionToMatch)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) thePathPrefixIs(prefix string) error {
	s.PathPrefix = prefix
	return nil
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, body *godog.DocString) error {
	return s.SendHTTPRequestWithBody(method, path, body, true)
}

func (s *TestScenario) sendHTTPRequestWithRawBody(method, path string, body *godog.DocString) error {
	return s.SendHTTPRequestWithBody(method, path, body, false)
}

// SendHTTPRequestWithBody sends a request and records its response in the
// session. Variables in body are expanded when expand is set.
func (s *TestScenario) SendHTTPRequestWithBody(method, path string, body *godog.DocString, expand bool) error {
	session := s.Session()

	buf := &bytes.Buffer{}
	if body != nil {
		content := body.Content
		if expand {
			var err error
			if content, err = s.Expand(content); err != nil {
				return err
			}
		}
		buf.WriteString(content)
	}

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	fullURL := s.Suite.APIURL + s.PathPrefix + expandedPath
	if u, err := url.Parse(expandedPath); err == nil && u.Scheme != "" {
		fullURL = expandedPath
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, fullURL, buf)
	if err != nil {
		return err
	}
	// Headers set by a step apply to the next request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if req.Header.Get("Authorization") == "" && req.Header.Get("X-API-Key") == "" && s.Suite.APIKey != "" {
		req.Header.Set("X-API-Key", s.Suite.APIKey)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	session.Resp = resp
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.SetRespBytes(b)
	return nil
}

func (s *TestScenario) iWaitForSelectionToMatch(timeout, path, selector, expected string) error {
	secs, err := strconv.ParseFloat(timeout, 64)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", timeout, err)
	}
	deadline := time.Now().Add(time.Duration(secs * float64(time.Second)))
	for {
		err := s.sendHTTPRequest(http.MethodGet, path)
		if err == nil {
			err = s.theSelectionFromTheResponseShouldMatch(selector, expected)
		}
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}
