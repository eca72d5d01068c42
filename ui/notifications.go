package ui

import (
	"os/exec"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/killswitch"
)

// NotificationType represents the urgency class of a notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// ShowNotification displays a desktop notification using notify-send.
// It returns immediately; the command runs in the background so a
// missing or hung notification daemon cannot stall event delivery.
func ShowNotification(n Notification) {
	icon := n.Icon
	if icon == "" {
		switch n.Type {
		case NotificationWarning:
			icon = "dialog-warning"
		case NotificationError:
			icon = "dialog-error"
		default:
			icon = "network-vpn"
		}
	}

	urgency := "normal"
	switch n.Type {
	case NotificationError:
		urgency = "critical"
	case NotificationSuccess:
		urgency = "low"
	}

	cmd := exec.Command("notify-send",
		"--app-name="+common.AppName,
		"--icon="+icon,
		"--urgency="+urgency,
		n.Title,
		n.Message,
	)
	go func() {
		if err := cmd.Run(); err != nil {
			common.LogDebug("notify-send: %v", err)
		}
	}()
}

// NotifyConnected announces an established connection.
func NotifyConnected(profileName string) {
	ShowNotification(Notification{
		Title:   "VPN Connected",
		Message: "Connected to " + profileName,
		Type:    NotificationSuccess,
		Icon:    "network-vpn",
	})
}

// NotifyDropped announces a connection that ended without a user
// request.
func NotifyDropped(profileName string) {
	ShowNotification(Notification{
		Title:   "VPN Connection Dropped",
		Message: "Lost connection to " + profileName,
		Type:    NotificationError,
		Icon:    "network-vpn-disconnected",
	})
}

// NotifyKillSwitch announces kill-switch engagement and release.
func NotifyKillSwitch(change killswitch.Change) {
	switch {
	case change.NewState == killswitch.StateBlocking && change.OldState != killswitch.StateBlocking:
		ShowNotification(Notification{
			Title:   "Kill Switch Engaged",
			Message: "All non-tunnel traffic is blocked",
			Type:    NotificationWarning,
			Icon:    "network-error",
		})
	case change.OldState == killswitch.StateBlocking && change.NewState != killswitch.StateBlocking:
		ShowNotification(Notification{
			Title:   "Kill Switch Released",
			Message: "Traffic is no longer blocked",
			Type:    NotificationInfo,
			Icon:    "network-vpn",
		})
	}
}
