// Package ui defines the two calls the launcher makes into whatever
// surface presents it: a blocking fatal notice and the main view.
package ui

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Presenter interface {
	// Fatal reports an unrecoverable startup problem and returns once the
	// user has acknowledged it.
	Fatal(title, message string)
	// ShowMain reveals the main view once the backend is ready.
	ShowMain()
}

// Console presents on a terminal.
type Console struct {
	Out    io.Writer
	URL    string // shown by ShowMain when set
	Logger *slog.Logger

	mu sync.Mutex
}

func NewConsole(out io.Writer, url string, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{Out: out, URL: url, Logger: log}
}

func (c *Console) Fatal(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logger.Error("fatal", "title", title, "message", message)
	_, _ = fmt.Fprintf(c.Out, "%s\n\n%s\n", title, message)
}

func (c *Console) ShowMain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.URL != "" {
		_, _ = fmt.Fprintf(c.Out, "backend ready at %s\n", c.URL)
		return
	}
	_, _ = fmt.Fprintln(c.Out, "backend ready")
}

// Recorder captures calls; used by tests and by headless embedding.
type Recorder struct {
	mu     sync.Mutex
	fatals []Notice
	shown  int
}

type Notice struct {
	Title   string
	Message string
}

func (r *Recorder) Fatal(title, message string) {
	r.mu.Lock()
	r.fatals = append(r.fatals, Notice{Title: title, Message: message})
	r.mu.Unlock()
}

func (r *Recorder) ShowMain() {
	r.mu.Lock()
	r.shown++
	r.mu.Unlock()
}

func (r *Recorder) Fatals() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.fatals...)
}

func (r *Recorder) Shown() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown
}
