package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/export"
)

// Help lists the interactive commands.
const Help = `Commands:
  /record            start or stop recording
  /health            check the backend
  /upload <file>     upload a .pdf document or .csv template
  /download [dir]    save this conversation
  /reload            reconnect after a failure
  /quit              leave
Anything else is sent as a text message.`

// HandleLine runs one line of user input and reports whether the user asked to quit.
func (s *Session) HandleLine(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		_ = s.SubmitText(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "/record", "/r":
		_ = s.ToggleRecord()
	case "/health":
		s.CheckHealth()
	case "/upload":
		s.Upload(arg)
	case "/download":
		s.Download(arg)
	case "/reload":
		s.Reload()
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/?":
		s.view.Notice(Help)
	default:
		s.view.Error(fmt.Sprintf("Unknown command %s (try /help)", cmd))
	}
	return false
}

// background runs fn off the loop and hands its result back to done on the loop.
func background[T any](s *Session, fn func() (T, error), done func(T, error)) {
	go func() {
		v, err := fn()
		s.exec.Post(func() { done(v, err) })
	}()
}

// CheckHealth fetches /health and renders the outcome.
func (s *Session) CheckHealth() {
	if s.api == nil {
		return
	}
	background(s, func() (backend.Health, error) {
		return s.api.Health(s.ctx)
	}, func(h backend.Health, err error) {
		if err != nil {
			s.logger.Debug().Err(err).Msg("Health check failed")
		}
		s.view.HealthChanged(h, err)
	})
}

func (s *Session) armHealth() {
	if s.healthEvery <= 0 || s.closed {
		return
	}
	s.healthTimer = s.sched.After(s.healthEvery, func() {
		if s.closed {
			return
		}
		s.CheckHealth()
		s.armHealth()
	})
}

// Upload sends a document (.pdf) or template (.csv) to the backend.
func (s *Session) Upload(file string) {
	if file == "" {
		s.view.Error("Usage: /upload <file.pdf|file.csv>")
		return
	}
	if s.api == nil {
		s.view.Error("Uploads are unavailable")
		return
	}
	upload := s.api.UploadPDF
	if strings.HasSuffix(strings.ToLower(file), ".csv") {
		upload = s.api.UploadTemplate
	}
	s.view.Notice("Uploading " + file + "...")
	background(s, func() (backend.UploadResult, error) {
		return upload(s.ctx, file)
	}, func(res backend.UploadResult, err error) {
		if err != nil {
			s.view.Error(uploadMessage(err))
			return
		}
		s.view.Notice(fmt.Sprintf("%s: %s", res.Message, res.Filename))
	})
}

func uploadMessage(err error) string {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrUnsupportedFile):
		return "Only PDF documents and CSV templates can be uploaded"
	case errors.As(err, &se) && se.Detail != "":
		return "Upload failed: " + se.Detail
	default:
		return "Upload failed: " + err.Error()
	}
}

// Download saves the current conversation into dir, or the configured default.
func (s *Session) Download(dir string) {
	if s.api == nil {
		s.view.Error("Downloads are unavailable")
		return
	}
	if dir == "" {
		dir = s.downloadDir
	}
	exporter, err := export.NewExporter(s.exportFormat)
	if err != nil {
		s.view.Error(err.Error())
		return
	}
	id := s.identity.Get()
	background(s, func() (string, error) {
		conv, _, err := s.api.DownloadConversation(s.ctx, id)
		if err != nil {
			return "", err
		}
		return export.WriteFile(dir, conv, exporter, time.Now())
	}, func(path string, err error) {
		if err != nil {
			var se *backend.StatusError
			if errors.As(err, &se) && se.Detail != "" {
				s.view.Error("Download failed: " + se.Detail)
			} else {
				s.view.Error("Download failed: " + err.Error())
			}
			return
		}
		s.view.Notice("Conversation saved to " + path)
	})
}
