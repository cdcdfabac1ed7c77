// Package ui is the system tray front end of the background service.
package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/progress"
)

//go:embed icon.png
var iconBytes []byte

// RunnerControl is the part of the job runner the tray toggles.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	runner RunnerControl
	hub    *progress.Hub
	logger *slog.Logger

	statusItem   *systray.MenuItem
	sessionsItem *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu sync.Mutex

	countSessions func() int
	onOpenOutput  func() error
	onQuit        func()
	stopEvents    func()
}

type TrayConfig struct {
	Runner        RunnerControl
	Hub           *progress.Hub
	Logger        *slog.Logger
	CountSessions func() int
	OnOpenOutput  func() error
	OnQuit        func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner:        cfg.Runner,
		hub:           cfg.Hub,
		logger:        logging.WithComponent(logging.OrDiscard(cfg.Logger), "tray"),
		countSessions: cfg.CountSessions,
		onOpenOutput:  cfg.OnOpenOutput,
		onQuit:        cfg.OnQuit,
	}
}

// Run blocks until the tray quits. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("scivid")
	systray.SetTooltip("scivid paper-to-video")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current runner status")
	t.statusItem.Disable()

	t.sessionsItem = systray.AddMenuItem("Sessions: 0", "Recorded sessions")
	t.sessionsItem.Disable()
	t.refreshSessions()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause the job runner")
	openItem := systray.AddMenuItem("Open Output Folder", "Show session directories")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit scivid")

	if t.hub != nil {
		events, cancel := t.hub.Subscribe(16)
		t.stopEvents = cancel
		go t.watch(events)
	}

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-openItem.ClickedCh:
				t.handleOpenOutput()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	if t.stopEvents != nil {
		t.stopEvents()
	}
	t.logger.Info("system tray exiting")
}

// watch mirrors progress events into the status line.
func (t *Tray) watch(events <-chan progress.Event) {
	for e := range events {
		title := statusTitle(e)
		t.UpdateStatus(title)
		if e.Progress >= 100 {
			t.refreshSessions()
		}
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) handleOpenOutput() {
	if t.onOpenOutput != nil {
		if err := t.onOpenOutput(); err != nil {
			t.logger.Error("failed to open output folder", "error", err)
		}
	}
}

func (t *Tray) refreshSessions() {
	if t.countSessions == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionsItem.SetTitle(fmt.Sprintf("Sessions: %d", t.countSessions()))
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner != nil && t.runner.IsPaused() {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) Quit() {
	systray.Quit()
}

// statusTitle renders an event as a short menu line.
func statusTitle(e progress.Event) string {
	switch {
	case e.Step == "":
		return "Idle"
	case e.Progress >= 100:
		return fmt.Sprintf("%s done", e.Step)
	default:
		return fmt.Sprintf("%s %d%%", e.Step, e.Progress)
	}
}
