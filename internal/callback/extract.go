// Package callback turns provider webhook payloads into a normalized
// Event. Payload shapes vary between provider versions and callback
// types, so every field is read by an ordered list of JMESPath
// expressions and the first non-empty result wins.
package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/makeasinger/musicgen/internal/model"
)

var (
	// ErrMalformed means the body is not a JSON object.
	ErrMalformed = errors.New("callback payload is not valid JSON")
	// ErrUnrecognized means no rule produced a task id.
	ErrUnrecognized = errors.New("callback payload has no task id")
)

// Event is a webhook reduced to the fields the orchestrator acts on.
type Event struct {
	TaskID       string
	RawStatus    string
	Status       model.ProviderStatus
	ResultURL    string
	Title        string
	ErrorMessage string
}

// Rules lists the expressions tried for each field, in order.
type Rules struct {
	TaskID       []string
	Status       []string
	ResultURL    []string
	Title        []string
	ErrorMessage []string
}

// DefaultRules covers the flat, nested and legacy payloads the provider
// has been observed to send.
var DefaultRules = Rules{
	TaskID: []string{
		"data.task_id",
		"data.taskId",
		"taskId",
		"task_id",
		"data.data[0].task_id",
	},
	Status: []string{
		"data.callbackType",
		"data.status",
		"callbackType",
		"status",
		"(code != null && code != `200`) && 'FAILED'",
	},
	ResultURL: []string{
		"data.data[?audio_url] | [0].audio_url",
		"data.data[?audioUrl] | [0].audioUrl",
		"data.response.sunoData[?audioUrl] | [0].audioUrl",
		"data.audio_url",
		"data.audioUrl",
		"resultUrl",
		"audioUrl",
		"audio_url",
	},
	Title: []string{
		"data.data[0].title",
		"data.response.sunoData[0].title",
		"data.title",
		"title",
	},
	ErrorMessage: []string{
		"data.errorMessage",
		"data.error",
		"errorMessage",
		"error",
		"(code != null && code != `200`) && msg",
	},
}

// Extractor applies a compiled rule set.
type Extractor struct {
	taskID       []jmespath.JMESPath
	status       []jmespath.JMESPath
	resultURL    []jmespath.JMESPath
	title        []jmespath.JMESPath
	errorMessage []jmespath.JMESPath
}

// NewExtractor compiles every expression up front.
func NewExtractor(rules Rules) (*Extractor, error) {
	e := &Extractor{}
	groups := []struct {
		exprs []string
		dst   *[]jmespath.JMESPath
	}{
		{rules.TaskID, &e.taskID},
		{rules.Status, &e.status},
		{rules.ResultURL, &e.resultURL},
		{rules.Title, &e.title},
		{rules.ErrorMessage, &e.errorMessage},
	}
	for _, group := range groups {
		for _, expr := range group.exprs {
			if strings.TrimSpace(expr) == "" {
				return nil, fmt.Errorf("empty extraction rule")
			}
			compiled, err := jmespath.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid extraction rule %q: %w", expr, err)
			}
			*group.dst = append(*group.dst, compiled)
		}
	}
	return e, nil
}

var defaultExtractor = mustExtractor(DefaultRules)

func mustExtractor(rules Rules) *Extractor {
	e, err := NewExtractor(rules)
	if err != nil {
		panic(err)
	}
	return e
}

// Extract parses body with DefaultRules.
func Extract(body []byte) (Event, error) {
	return defaultExtractor.Extract(body)
}

// Extract parses body and applies the rules. The returned Event holds
// whatever was found even when an error is returned.
func (e *Extractor) Extract(body []byte) (Event, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return Event{}, ErrMalformed
	}
	if _, ok := data.(map[string]any); !ok {
		return Event{}, ErrMalformed
	}

	ev := Event{
		TaskID:       firstMatch(e.taskID, data),
		RawStatus:    firstMatch(e.status, data),
		ResultURL:    firstMatch(e.resultURL, data),
		Title:        firstMatch(e.title, data),
		ErrorMessage: firstMatch(e.errorMessage, data),
	}
	ev.Status = model.NormalizeProviderStatus(ev.RawStatus)

	if ev.Status == model.ProviderStatusFailed && ev.ErrorMessage == "" {
		ev.ErrorMessage = "generation failed: " + ev.RawStatus
	}
	if ev.Status != model.ProviderStatusFailed {
		ev.ErrorMessage = ""
	}
	if ev.TaskID == "" {
		return ev, ErrUnrecognized
	}
	return ev, nil
}

// firstMatch returns the first rule result that is a non-empty scalar.
func firstMatch(exprs []jmespath.JMESPath, data any) string {
	for _, expr := range exprs {
		v, err := expr.Search(data)
		if err != nil {
			continue
		}
		if s := scalar(v); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
