// Package notify holds the collaborator contracts the scheduler talks to:
// user-visible notifications and the settings toggles owned by the shell.
package notify

import "github.com/rs/zerolog"

// Notifier delivers a user-visible notification. The shell implements this
// with toasts; the daemon falls back to LogNotifier when it runs headless.
type Notifier interface {
	Notify(title, message string)
}

// Settings exposes the shell-owned miner toggles.
type Settings interface {
	AutoClaimEnabled() bool
	NotifyReadyEnabled() bool
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(title, message string) {
	n.log.Info().Str("title", title).Msg(message)
}

// StaticSettings is a fixed snapshot of the miner toggles, used when no
// shell is attached.
type StaticSettings struct {
	AutoClaim   bool
	NotifyReady bool
}

func (s StaticSettings) AutoClaimEnabled() bool   { return s.AutoClaim }
func (s StaticSettings) NotifyReadyEnabled() bool { return s.NotifyReady }
