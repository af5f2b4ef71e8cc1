// Package cucumber runs godog features against a live swarm-sync HTTP API.
//
// Variables are scoped to the scenario and expanded with ${name} syntax:
//   - ${account}              → the account id reserved for the scenario
//   - ${response}             → the last response body
//   - ${response.field}       → a field of the last response, via gojq
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
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]any{},
	}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 4,
	}
}

// ApplyReportOptions writes a junit report per test when GODOG_REPORT_DIR is
// set. The returned function closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite holds state shared by every scenario of a run.
type TestSuite struct {
	APIURL   string
	APIKey   string
	TestingT *testing.T
	Extra    map[string]any
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite      *TestSuite
	PathPrefix string
	Variables  map[string]any
	session    *TestSession
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

func (s *TestScenario) Session() *TestSession {
	if s.session == nil {
		s.session = &TestSession{Client: &http.Client{Timeout: 30 * time.Second}, Header: http.Header{}}
	}
	return s.session
}

func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	var actualParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expectedParsed, err := s.parseExpected(expected, expand, actualParsed)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff(indent(expectedParsed), indent(actualParsed)))
	}
	return nil
}

// JSONMustContain checks that every field of expected is present in actual.
// Arrays must have the same length; their elements are compared the same way.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	var actualParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expectedParsed, err := s.parseExpected(expected, expand, actualParsed)
	if err != nil {
		return err
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s",
			err, indent(expectedParsed), indent(actualParsed))
	}
	return nil
}

func (s *TestScenario) parseExpected(expected string, expand bool, actual any) (any, error) {
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, fmt.Errorf("expected json not specified, actual json was:\n%s", indent(actual))
	}
	var parsed any
	if err := json.Unmarshal([]byte(expected), &parsed); err != nil {
		return nil, fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expected)
	}
	return parsed, nil
}

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
		for key, v := range exp {
			a, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(v, a, path+"."+key); err != nil {
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
	return "$" + path
}

func indent(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
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

// Expand replaces ${var} references with their resolved values.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil && rerr == nil {
			rerr = err
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value, name)
}

func ToString(value any, name string) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case int, int64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), nil
	case nil:
		return "", nil
	case error:
		return "", fmt.Errorf("failed to evaluate selection: %s: %w", name, v)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *TestScenario) Resolve(name string) (any, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes = pipes[0], pipes[1:]

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		doc, err := s.Session().RespJSON()
		if err != nil {
			return pipeline(pipes, nil, err)
		}
		if name == "response" {
			return pipeline(pipes, doc, nil)
		}
		v, err := Select("."+name, map[string]any{"response": doc})
		return pipeline(pipes, v, err)
	}

	value, found := s.Variables[name]
	if !found {
		return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", name))
	}
	return pipeline(pipes, value, nil)
}

// Select evaluates a jq expression against doc and returns its first output.
func Select(selector string, doc any) (any, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	next, found := query.Run(doc).Next()
	if !found {
		return nil, fmt.Errorf("expected JSON does not have node that matches selector: %s", selector)
	}
	if err, ok := next.(error); ok {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	return next, nil
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
		if err := json.NewEncoder(buf).Encode(value); err != nil {
			return value, err
		}
		return strings.TrimSpace(buf.String()), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// TestSession holds the HTTP state of a scenario.
type TestSession struct {
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	respJSON  any
	Header    http.Header
}

// RespJSON returns the last HTTP response body as parsed JSON.
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

func (s *TestSession) SetRespBytes(b []byte) {
	s.RespBytes = b
	s.respJSON = nil
}

// StepModules register steps with every new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]any{},
	}
	// Scenarios share one server; each gets its own account.
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		s.Variables["account"] = "acc-" + uuid.NewString()
		return c, nil
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}
