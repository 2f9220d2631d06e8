// Package desktop presents the launcher with fyne.
package desktop

import (
	"fmt"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

const AppID = "com.loykin.cloudsync"

// Shell owns the fyne application and its main window. The main window
// stays hidden until ShowMain.
type Shell struct {
	app  fyne.App
	main fyne.Window

	status *widget.Label

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds the shell. onQuit runs once when the application stops.
func New(a fyne.App, title, url string, onQuit func()) *Shell {
	s := &Shell{app: a, stopped: make(chan struct{})}
	s.main = a.NewWindow(title)
	s.main.SetMaster()
	s.status = widget.NewLabel(StatusText(url))
	s.main.SetContent(container.NewVBox(
		s.status,
		widget.NewButton("Quit", a.Quit),
	))
	s.main.Resize(fyne.NewSize(480, 160))
	a.Lifecycle().SetOnStopped(func() {
		s.stopOnce.Do(func() {
			if onQuit != nil {
				onQuit()
			}
			close(s.stopped)
		})
	})
	return s
}

// StatusText is the main window's line for a ready backend.
func StatusText(url string) string {
	if url == "" {
		return "Backend ready"
	}
	return fmt.Sprintf("Backend ready at %s", url)
}

// Run blocks on the fyne event loop.
func (s *Shell) Run() { s.app.Run() }

func (s *Shell) Window() fyne.Window { return s.main }

// Fatal shows an error dialog on its own window and quits the application
// once the dialog is dismissed or its window is closed. It blocks until
// then, or until the app stops.
func (s *Shell) Fatal(title, message string) {
	done := make(chan struct{})
	var once sync.Once
	finish := func() {
		once.Do(func() {
			close(done)
			s.app.Quit()
		})
	}
	fyne.Do(func() {
		w := s.app.NewWindow(title)
		w.Resize(fyne.NewSize(520, 200))
		// the hidden master window keeps the driver alive, so closing this
		// window has to quit explicitly
		w.SetOnClosed(finish)
		d := dialog.NewInformation(title, message, w)
		d.SetOnClosed(func() {
			finish()
			w.Close()
		})
		w.Show()
		d.Show()
	})
	select {
	case <-done:
	case <-s.stopped:
	}
}

func (s *Shell) ShowMain() {
	fyne.Do(func() {
		s.main.Show()
		s.main.RequestFocus()
	})
}
