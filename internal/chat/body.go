package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Body is a chat response in one of the shapes the service has been seen to
// return: a JSON value, an SSE text stream, or anything else.
type Body interface {
	isBody()
}

type Structured struct {
	Value any
}

type Streamed struct {
	Text string
}

type Opaque struct {
	Text string
}

func (Structured) isBody() {}
func (Streamed) isBody()   {}
func (Opaque) isBody()     {}

// ClassifyBody decides which shape raw is.
func ClassifyBody(contentType string, raw []byte) Body {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Opaque{}
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return Structured{Value: v}
		}
	}
	if strings.Contains(contentType, "text/event-stream") || bytes.Contains(raw, []byte("data:")) {
		return Streamed{Text: string(raw)}
	}
	return Opaque{Text: string(raw)}
}

func isEmpty(b Body) bool {
	switch v := b.(type) {
	case nil:
		return true
	case Opaque:
		return strings.TrimSpace(v.Text) == ""
	case Streamed:
		return strings.TrimSpace(v.Text) == ""
	}
	return false
}

func bodyText(b Body) (string, bool) {
	switch v := b.(type) {
	case Streamed:
		return v.Text, true
	case Opaque:
		return v.Text, true
	}
	return "", false
}

// Strategy extracts the assistant reply from a body, or reports false.
type Strategy struct {
	Name    string
	Extract func(Body) (string, bool)
}

// largeBody is the size above which the raw-text heuristics are tried first.
const largeBody = 1000

var textStrategies = []Strategy{
	{Name: "content-regex", Extract: contentRegex},
	{Name: "assistant-marker", Extract: assistantMarker},
	{Name: "sse-lines", Extract: sseLines},
	{Name: "json-probe", Extract: jsonProbe},
	{Name: "event-stream", Extract: eventStream},
}

var structuredStrategies = []Strategy{
	{Name: "object-probe", Extract: objectProbe},
}

// Resolve runs the strategies for b's shape in order; the first hit wins.
func Resolve(b Body) (text, method string, ok bool) {
	strategies := textStrategies
	if _, structured := b.(Structured); structured {
		strategies = structuredStrategies
	}
	for _, s := range strategies {
		if text, ok := s.Extract(b); ok && text != "" {
			return text, s.Name, true
		}
	}
	return "", "", false
}

var contentPattern = regexp.MustCompile(`"content"\s*:\s*"([^"]+)"`)

func contentRegex(b Body) (string, bool) {
	text, ok := bodyText(b)
	if !ok || len(text) <= largeBody {
		return "", false
	}
	m := contentPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func assistantMarker(b Body) (string, bool) {
	text, ok := bodyText(b)
	if !ok || len(text) <= largeBody {
		return "", false
	}
	idx := max(strings.Index(text, "assistant:"), strings.Index(text, "assistant response:"))
	if idx <= 0 {
		return "", false
	}
	after := text[idx:]
	end := strings.Index(after, `"}`)
	if end <= 0 {
		end = strings.Index(after, "\n")
	}
	if end <= 0 {
		return "", false
	}
	out := after[:end]
	out = strings.TrimPrefix(out, "assistant response:")
	out = strings.TrimPrefix(out, "assistant:")
	out = strings.TrimSpace(out)
	return out, out != ""
}

// sseLines keeps the last full content seen and accumulates delta fragments.
func sseLines(b Body) (string, bool) {
	text, ok := bodyText(b)
	if !ok || !strings.Contains(text, "data:") {
		return "", false
	}
	latest := ""
	forEachEvent(text, func(ev map[string]any) bool {
		if c := str(ev["content"]); c != "" {
			latest = c
			return true
		}
		if choice, ok := firstChoice(ev); ok {
			switch {
			case str(choice["text"]) != "":
				latest = str(choice["text"])
			case str(field(choice, "message", "content")) != "":
				latest = str(field(choice, "message", "content"))
			case str(field(choice, "delta", "content")) != "":
				latest += str(field(choice, "delta", "content"))
			}
			return true
		}
		switch msg := ev["message"].(type) {
		case string:
			if msg != "" {
				latest = msg
			}
		case map[string]any:
			if c := str(msg["content"]); c != "" {
				latest = c
			}
		}
		return true
	})
	return latest, latest != ""
}

func jsonProbe(b Body) (string, bool) {
	text, ok := bodyText(b)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return "", false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return "", false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	return probeObject(m)
}

// eventStream returns the first event that carries any recognised field.
func eventStream(b Body) (string, bool) {
	text, ok := bodyText(b)
	if !ok {
		return "", false
	}
	found := ""
	forEachEvent(text, func(ev map[string]any) bool {
		if c, ok := probeObject(ev); ok {
			found = c
			return false
		}
		return true
	})
	return found, found != ""
}

func objectProbe(b Body) (string, bool) {
	s, ok := b.(Structured)
	if !ok {
		return "", false
	}
	m, ok := s.Value.(map[string]any)
	if !ok {
		return "", false
	}
	return probeObject(m)
}

// probeObject looks for the reply in every field shape the service is known to use.
func probeObject(m map[string]any) (string, bool) {
	if c := str(m["content"]); c != "" {
		return c, true
	}
	if choice, ok := firstChoice(m); ok {
		for _, c := range []string{
			str(field(choice, "message", "content")),
			str(choice["text"]),
			str(field(choice, "delta", "content")),
		} {
			if c != "" {
				return c, true
			}
		}
	}
	switch r := m["response"].(type) {
	case string:
		if r != "" {
			return r, true
		}
	case map[string]any:
		if c := str(r["content"]); c != "" {
			return c, true
		}
	}
	if c := str(field(m, "message", "content")); c != "" {
		return c, true
	}
	if c := str(field(m, "assistant", "message")); c != "" {
		return c, true
	}
	if msgs, ok := m["messages"].([]any); ok {
		for _, raw := range msgs {
			msg, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if str(msg["role"]) == string(RoleAssistant) {
				if c := str(msg["content"]); c != "" {
					return c, true
				}
			}
		}
	}
	return "", false
}

// forEachEvent decodes every "data:" line as a JSON object until fn returns false.
func forEachEvent(text string, fn func(map[string]any) bool) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if !fn(ev) {
			return
		}
	}
}

func firstChoice(m map[string]any) (map[string]any, bool) {
	choices, ok := m["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	return choice, ok
}

func field(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
