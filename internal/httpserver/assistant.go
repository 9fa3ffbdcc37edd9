package httpserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// Assistant produces scripted replies: template answers when a question
// matches, otherwise an echo. It performs no real speech processing.
type Assistant struct {
	Templates *TemplateSet
	documents atomic.Int64
}

func NewAssistant() *Assistant {
	return &Assistant{Templates: NewTemplateSet()}
}

// AddDocument counts an uploaded document toward the knowledge status.
func (a *Assistant) AddDocument() { a.documents.Add(1) }

func (a *Assistant) Documents() int { return int(a.documents.Load()) }

// LoadDir restores knowledge persisted under root by earlier runs:
// root/templates/*.csv and root/documents/*.pdf.
func (a *Assistant) LoadDir(root string) (templates, documents int, err error) {
	csvs, err := filepath.Glob(filepath.Join(root, "templates", "*.csv"))
	if err != nil {
		return 0, 0, err
	}
	var errs []error
	for _, file := range csvs {
		data, rerr := os.ReadFile(file)
		if rerr != nil {
			errs = append(errs, rerr)
			continue
		}
		ts, perr := ParseTemplates(filepath.Base(file), data)
		if perr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(file), perr))
			continue
		}
		a.Templates.Replace(filepath.Base(file), ts)
		templates += len(ts)
	}
	pdfs, _ := filepath.Glob(filepath.Join(root, "documents", "*.pdf"))
	for range pdfs {
		a.AddDocument()
	}
	documents = len(pdfs)
	return templates, documents, errors.Join(errs...)
}

// Transcribe labels a recording. Printable UTF-8 payloads are taken as the
// spoken text, which lets scripted clients drive the voice path. An empty
// result means nothing could be transcribed.
func (a *Assistant) Transcribe(audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	if d, ok := wavDuration(audio); ok {
		if d <= 0 {
			return ""
		}
		return fmt.Sprintf("[voice message, %.1fs]", d.Seconds())
	}
	if utf8.Valid(audio) && isPrintable(string(audio)) {
		return strings.TrimSpace(string(audio))
	}
	return fmt.Sprintf("[voice message, %d bytes]", len(audio))
}

// Reply answers text and reports whether a template matched.
func (a *Assistant) Reply(text string) (string, bool) {
	if answer, ok := a.Templates.Match(text); ok {
		return answer, true
	}
	return "You said: " + text, false
}

// Synthesize renders a tone whose length follows the reply's word count.
func (a *Assistant) Synthesize(text string) []byte {
	d := 150*time.Millisecond + time.Duration(len(strings.Fields(text)))*40*time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return Tone(d, 440)
}

func isPrintable(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
