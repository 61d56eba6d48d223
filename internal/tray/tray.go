// Package tray provides a system tray interface for BeAbled. The tray title
// shows the current caption and the menu lists the most recent ones.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/overlay"
)

const idleTitle = "BeAbled"

// Tray represents the system tray application. It implements app.Renderer.
type Tray struct {
	onToggle  func(enabled bool)
	onSession func(join bool)
	onOpen    func()
	onQuit    func()
	enabled   bool
	inCall    bool
	caption   string
	history   []string
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuSession *systray.MenuItem
	menuHistory [overlay.HistoryLines]*systray.MenuItem
}

// New creates a new Tray instance with detection enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback called when detection is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSession sets the callback called when the user joins or leaves a call.
func (t *Tray) OnSession(fn func(join bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSession = fn
}

// OnOpen sets the callback called when the preview menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, unblocking Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle(idleTitle)
	systray.SetTooltip("BeAbled gesture captions")

	t.mu.Lock()
	t.menuSession = systray.AddMenuItem(sessionTitle(t.inCall), "Start or stop captioning")
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle gesture detection")
	systray.AddSeparator()

	lines := historyLines(t.history)
	for i := range t.menuHistory {
		t.menuHistory[i] = systray.AddMenuItem(lines[i], "Recent caption")
		t.menuHistory[i].Disable()
	}
	systray.AddSeparator()
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open Preview...", "Open the caption preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit BeAbled")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuSession.ClickedCh:
				t.handleSession()
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleSession asks to join when not in a call and to leave otherwise. The
// displayed state only changes once SetInCall confirms it.
func (t *Tray) handleSession() {
	t.mu.RLock()
	join := !t.inCall
	callback := t.onSession
	t.mu.RUnlock()

	if callback != nil {
		callback(join)
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetInCall updates the join/leave item. Leaving clears the caption display.
func (t *Tray) SetInCall(inCall bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inCall = inCall
	if t.menuSession != nil {
		t.menuSession.SetTitle(sessionTitle(inCall))
	}
	if !inCall {
		t.setCaptionLocked("", nil)
	}
}

// SetEnabled updates the displayed detection state without calling OnToggle.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// Render shows the caption of out as the tray title and the latest history
// entries in the menu. Menu items are only touched when the display changes.
func (t *Tray) Render(_ *gocv.Mat, out app.Output) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if out.Caption == t.caption && equalHistory(out.History, t.history) {
		return
	}
	t.setCaptionLocked(out.Caption, out.History)
}

func (t *Tray) setCaptionLocked(caption string, history []string) {
	t.caption = caption
	t.history = append([]string(nil), history...)

	if t.menuToggle == nil {
		return
	}
	systray.SetTitle(captionTitle(caption))
	lines := historyLines(t.history)
	for i, item := range t.menuHistory {
		if item != nil {
			item.SetTitle(lines[i])
		}
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Caption returns the caption currently displayed.
func (t *Tray) Caption() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caption
}

func captionTitle(caption string) string {
	if caption == "" {
		return idleTitle
	}
	return caption
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Detection On"
	}
	return "○ Detection Off"
}

func sessionTitle(inCall bool) string {
	if inCall {
		return "Leave Call"
	}
	return "Join Call"
}

// historyLines returns one menu title per history slot, newest first.
func historyLines(history []string) [overlay.HistoryLines]string {
	var lines [overlay.HistoryLines]string
	recent := overlay.Recent(history, overlay.HistoryLines)
	for i := range lines {
		if i < len(recent) {
			lines[i] = recent[i]
		} else {
			lines[i] = "-"
		}
	}
	return lines
}

func equalHistory(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
