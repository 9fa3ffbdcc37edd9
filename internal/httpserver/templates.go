package httpserver

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// ErrTemplateColumns rejects a CSV without question and answer columns.
var ErrTemplateColumns = errors.New("template must have question and answer columns")

// Template is one canned answer.
type Template struct {
	Question string
	Answer   string
	Priority int
	Source   string
}

// ParseTemplates reads a CSV with a header row naming at least question and
// answer; an optional priority column breaks ties between equal questions.
// Rows with an empty question or answer are skipped.
func ParseTemplates(source string, data []byte) ([]Template, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTemplateColumns
		}
		return nil, fmt.Errorf("read template header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	qi, okQ := col["question"]
	ai, okA := col["answer"]
	if !okQ || !okA {
		return nil, ErrTemplateColumns
	}
	pi, hasPriority := col["priority"]

	var out []Template
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read template row: %w", err)
		}
		t := Template{Source: source, Priority: 1}
		if qi < len(rec) {
			t.Question = strings.TrimSpace(rec[qi])
		}
		if ai < len(rec) {
			t.Answer = strings.TrimSpace(rec[ai])
		}
		if t.Question == "" || t.Answer == "" {
			continue
		}
		if hasPriority && pi < len(rec) {
			if p, err := strconv.Atoi(strings.TrimSpace(rec[pi])); err == nil {
				t.Priority = p
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// TemplateSet indexes templates by normalized question. Uploading a file
// again replaces the templates that came from it.
type TemplateSet struct {
	mu      sync.RWMutex
	sources map[string][]Template
	index   map[string]Template
}

func NewTemplateSet() *TemplateSet {
	return &TemplateSet{sources: map[string][]Template{}, index: map[string]Template{}}
}

// Replace installs the templates of one source file.
func (s *TemplateSet) Replace(source string, ts []Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source] = ts
	s.index = map[string]Template{}
	for _, list := range s.sources {
		for _, t := range list {
			key := normalize(t.Question)
			if cur, ok := s.index[key]; !ok || t.Priority > cur.Priority {
				s.index[key] = t
			}
		}
	}
}

// Match returns the answer for a question, if any.
func (s *TemplateSet) Match(question string) (string, bool) {
	key := normalize(question)
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.index[key]
	return t.Answer, ok
}

// Len is the number of loaded templates across all sources.
func (s *TemplateSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.sources {
		n += len(list)
	}
	return n
}
