package ui

import (
	"context"
	"errors"
	"time"

	"fyne.io/systray"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/vpn"
)

// trayView is what the tray shows for one snapshot.
type trayView struct {
	Kind          StatusKind
	Tooltip       string
	Status        string
	Detail        string
	Uptime        string
	CanConnect    bool
	CanDisconnect bool
	CanReconnect  bool
}

// trayViewOf derives the tray contents from a snapshot.
func trayViewOf(snap *vpn.Snapshot, now time.Time) trayView {
	v := trayView{
		Kind:   StatusOf(snap),
		Status: Headline(snap),
	}
	v.Tooltip = common.AppName + " - " + v.Status

	switch v.Kind {
	case StatusSecure:
		v.Status = "●  " + v.Status
	case StatusUnavailable:
		v.Status = "…  " + v.Status
	default:
		v.Status = "○  " + v.Status
	}

	if snap == nil || v.Kind == StatusUnavailable {
		return v
	}
	if loc := vpn.LocationOf(snap.Tunnel); loc != nil && loc.Place() != "" {
		v.Detail = "    " + loc.Place()
		if host := loc.HostnameVia(); host != "" {
			v.Detail += " (" + host + ")"
		}
	}
	if c, ok := snap.Tunnel.(vpn.Connected); ok && !c.Since.IsZero() {
		v.Uptime = "    ⏱ Uptime: " + formatUptime(now.Sub(c.Since))
	}
	v.CanConnect = snap.CanSecure()
	v.CanDisconnect = snap.CanDisconnect() || snap.IsConnectingOrReconnecting()
	v.CanReconnect = snap.CanReconnect()
	return v
}

// TrayIndicator manages the system tray icon and menu.
// It provides quick access to the tunnel without opening a terminal.
type TrayIndicator struct {
	backend Backend
	sub     *vpn.Subscription
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc

	statusItem     *systray.MenuItem
	detailItem     *systray.MenuItem
	uptimeItem     *systray.MenuItem
	connectItem    *systray.MenuItem
	disconnectItem *systray.MenuItem
	reconnectItem  *systray.MenuItem
}

// NewTrayIndicator creates a new system tray indicator.
func NewTrayIndicator(backend Backend) *TrayIndicator {
	return &TrayIndicator{
		backend: backend,
		timeout: common.ManagementTimeout,
	}
}

// Run starts the system tray indicator and blocks until Quit is chosen
// or ctx is done.
func (t *TrayIndicator) Run(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.sub = t.backend.Subscribe()
	go func() {
		<-t.ctx.Done()
		systray.Quit()
	}()
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the systray is ready.
func (t *TrayIndicator) onReady() {
	systray.SetIcon(IconFor(StatusUnavailable))
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName)

	// Status item - shows current state
	t.statusItem = systray.AddMenuItem("…  DAEMON UNAVAILABLE", "Current VPN status")
	t.statusItem.Disable()

	// Location (hidden when unknown)
	t.detailItem = systray.AddMenuItem("", "Exit location")
	t.detailItem.Disable()
	t.detailItem.Hide()

	// Uptime (hidden when not connected)
	t.uptimeItem = systray.AddMenuItem("", "Connection duration")
	t.uptimeItem.Disable()
	t.uptimeItem.Hide()

	systray.AddSeparator()

	t.connectItem = systray.AddMenuItem("Secure my connection", "Connect the tunnel")
	t.disconnectItem = systray.AddMenuItem("⏹  Disconnect", "Disconnect the tunnel")
	t.reconnectItem = systray.AddMenuItem("Reconnect", "Reconnect through a new relay")
	t.connectItem.Disable()
	t.disconnectItem.Disable()
	t.reconnectItem.Disable()

	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Close the tray indicator")

	go t.clicks(t.connectItem, vpn.ConnectCommand{})
	go t.clicks(t.disconnectItem, vpn.DisconnectCommand{})
	go t.clicks(t.reconnectItem, vpn.ReconnectCommand{})
	go func() {
		select {
		case <-quitItem.ClickedCh:
			t.cancel()
		case <-t.ctx.Done():
		}
	}()

	go t.watch()
}

// onExit is called when the systray is about to exit.
func (t *TrayIndicator) onExit() {
	t.cancel()
	if t.sub != nil {
		t.sub.Close()
	}
	common.LogInfo("Tray indicator cleanup completed")
}

// clicks submits cmd every time item is clicked.
func (t *TrayIndicator) clicks(item *systray.MenuItem, cmd vpn.Command) {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-item.ClickedCh:
			ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
			if _, err := t.backend.Submit(ctx, cmd); err != nil {
				common.LogWarn("Tray: %s failed: %v", cmd.Name(), err)
			}
			cancel()
		}
	}
}

// watch applies every snapshot to the menu, and refreshes the uptime
// once a second in between.
func (t *TrayIndicator) watch() {
	snaps := make(chan *vpn.Snapshot)
	go func() {
		defer close(snaps)
		for {
			snap, err := t.sub.Next(t.ctx)
			if err != nil {
				if !errors.Is(err, common.ErrClosed) && !errors.Is(err, context.Canceled) {
					common.LogWarn("Tray: subscription ended: %v", err)
				}
				return
			}
			select {
			case snaps <- snap:
			case <-t.ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last *vpn.Snapshot
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			last = snap
			t.apply(trayViewOf(last, time.Now()))
		case <-ticker.C:
			if last != nil && last.IsConnected() {
				t.apply(trayViewOf(last, time.Now()))
			}
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TrayIndicator) apply(v trayView) {
	systray.SetIcon(IconFor(v.Kind))
	systray.SetTooltip(v.Tooltip)
	t.statusItem.SetTitle(v.Status)

	setOptional(t.detailItem, v.Detail)
	setOptional(t.uptimeItem, v.Uptime)
	setEnabled(t.connectItem, v.CanConnect)
	setEnabled(t.disconnectItem, v.CanDisconnect)
	setEnabled(t.reconnectItem, v.CanReconnect)
}

func setOptional(item *systray.MenuItem, title string) {
	if title == "" {
		item.Hide()
		return
	}
	item.SetTitle(title)
	item.Show()
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}
