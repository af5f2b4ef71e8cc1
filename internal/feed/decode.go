package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/itchyny/gojq"
)

// Filter is a jq program run over each top-level feed value before it is
// decoded. It reshapes foreign feeds into events; every value it outputs is
// an event, or an array of events.
type Filter struct {
	code *gojq.Code
}

// CompileFilter parses a jq expression such as ".events[]". An empty
// expression yields a nil filter.
func CompileFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	return &Filter{code: code}, nil
}

func (f *Filter) run(doc any) ([]any, error) {
	var out []any
	iter := f.code.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return out, nil
			}
			return nil, fmt.Errorf("filter: %w", err)
		}
		out = append(out, v)
	}
}

// Decode reads a single event, a JSON array of events, or a stream of events
// separated by whitespace (JSON lines). filter may be nil.
func Decode(r io.Reader, filter *Filter) ([]Event, error) {
	dec := json.NewDecoder(r)
	var events []Event
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("decode event feed: %w", err)
		}
		values, err := expand(raw, filter)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return nil, &InvalidEventError{Index: len(events), Message: err.Error()}
			}
			events = append(events, ev)
		}
	}
}

func expand(raw json.RawMessage, filter *Filter) ([]json.RawMessage, error) {
	if filter != nil {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode event feed: %w", err)
		}
		outputs, err := filter.run(doc)
		if err != nil {
			return nil, err
		}
		var values []json.RawMessage
		for _, o := range outputs {
			b, err := json.Marshal(o)
			if err != nil {
				return nil, fmt.Errorf("filter output: %w", err)
			}
			more, err := split(b)
			if err != nil {
				return nil, err
			}
			values = append(values, more...)
		}
		return values, nil
	}
	return split(raw)
}

func split(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("decode event feed: %w", err)
	}
	return list, nil
}
