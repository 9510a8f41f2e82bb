// Package ui provides the interactive front-ends for vpnd-client.
//
// Every front-end is a consumer of a snapshot subscription. None of them
// talk to the daemon directly: they render what the client publishes and
// send user actions through Submit.
//
//   - Model / RunTUI: Bubble Tea status screen for the terminal
//   - TrayIndicator: system tray icon and menu
//   - DesktopNotifier / RunNotifications: desktop notifications for tunnel
//     and daemon transitions, over the session bus
//
// StatusOf, Headline and Details turn a snapshot into the text all three
// share, so the tray, the terminal and the notifications never disagree.
//
// # Theme Support
//
// Terminal colors follow the configured theme. "auto" adapts to the
// terminal background using lipgloss adaptive colors.
//
// # Thread Safety
//
// The tray menu is updated from a single goroutine that owns the
// subscription. The Bubble Tea model is a value and is only touched by
// the program loop.
package ui
