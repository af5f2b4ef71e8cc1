package cucumber

import (
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResponseAs)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionFromTheResponseShouldMatch)
		ctx.Step(`^the "(.*)" selection from the response should match json:$`, s.theSelectionFromTheResponseShouldMatchJSON)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; actual != expected {
		return fmt.Errorf("expected response code to be: %d, but actual is: %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSON(expected *godog.DocString) error {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return fmt.Errorf("got an empty response from server, expected a json body")
	}
	return s.JSONMustMatch(string(session.RespBytes), expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return fmt.Errorf("got an empty response from server, expected a json body")
	}
	return s.JSONMustContain(string(session.RespBytes), expected.Content, true)
}

func (s *TestScenario) selectFromResponse(selector string) (any, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	return Select(selector, doc)
}

func (s *TestScenario) iStoreTheSelectionFromTheResponseAs(selector, as string) error {
	v, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[as] = v
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatch(selector, expected string) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	got := "null"
	if actual != nil {
		if got, err = ToString(actual, selector); err != nil {
			return err
		}
	}
	if got != expected {
		return fmt.Errorf("selected JSON does not match. expected: %v, actual: %v", expected, got)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatchJSON(selector string, expected *godog.DocString) error {
	actual, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	b, err := json.Marshal(actual)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(b), expected.Content, true)
}
