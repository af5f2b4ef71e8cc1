package bdd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/chirino/swarm-sync/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &accountSteps{s: s}
		ctx.Step(`^the account receives events:$`, a.theAccountReceivesEvents)
		ctx.Step(`^I post events:$`, a.iPostEvents)
		ctx.Step(`^I get the account snapshot$`, a.iGetTheAccountSnapshot)
		ctx.Step(`^I get the history of "([^"]*)"$`, a.iGetTheHistoryOf)
	})
}

type accountSteps struct {
	s *cucumber.TestScenario
}

// theAccountReceivesEvents posts a feed and requires every event to apply.
func (a *accountSteps) theAccountReceivesEvents(feed *godog.DocString) error {
	if err := a.iPostEvents(feed); err != nil {
		return err
	}
	session := a.s.Session()
	if session.Resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event feed rejected with %d: %s", session.Resp.StatusCode, session.RespBytes)
	}
	return nil
}

func (a *accountSteps) iPostEvents(feed *godog.DocString) error {
	return a.s.SendHTTPRequestWithBody(http.MethodPost, "/v1/accounts/${account}/events", feed, true)
}

func (a *accountSteps) iGetTheAccountSnapshot() error {
	return a.s.SendHTTPRequestWithBody(http.MethodGet, "/v1/accounts/${account}", nil, false)
}

func (a *accountSteps) iGetTheHistoryOf(uri string) error {
	path := "/v1/accounts/${account}/conversations/" + url.PathEscape(uri) + "/history"
	return a.s.SendHTTPRequestWithBody(http.MethodGet, path, nil, false)
}
