package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notificationsBus  = "org.freedesktop.Notifications"
	notificationsPath = "/org/freedesktop/Notifications"
	notificationIcon  = "dialog-information"
	notifySignature   = "susssasa{sv}i"
	categoryPrefix    = "x-healthmate."
	urgencyLow        = 0
	urgencyNormal     = 1
	urgencyCritical   = 2
)

// desktopMessage is one freedesktop notification.
type desktopMessage struct {
	Summary   string
	Body      string
	Category  string
	Urgency   int
	TimeoutMS int
}

// desktopNotify sends msg over the user bus and returns the ID assigned by the server.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, msg desktopMessage) (uint32, error) {
	args := []string{
		"Notify",
		notifySignature,
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		notificationIcon,
		msg.Summary,
		msg.Body,
		"0", // no action buttons
	}
	args = append(args, notifyHints(msg)...)
	args = append(args, strconv.Itoa(msg.TimeoutMS))

	out, err := callNotifications(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("desktop notify failed: %w", err)
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}

	value, parseErr := strconv.ParseUint(fields[1], 10, 32)
	if parseErr != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], parseErr)
	}
	return uint32(value), nil
}

// desktopDismiss requests explicit close by notification ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	if _, err := callNotifications(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

// notifyHints encodes the a{sv} hints map in busctl argument form.
func notifyHints(msg desktopMessage) []string {
	hints := []string{"urgency", "y", strconv.Itoa(msg.Urgency)}
	count := 1
	if msg.Category != "" {
		hints = append(hints, "category", "s", categoryPrefix+msg.Category)
		count++
	}
	return append([]string{strconv.Itoa(count)}, hints...)
}

func callNotifications(ctx context.Context, method ...string) (string, error) {
	args := append([]string{"--user", "call", notificationsBus, notificationsPath, notificationsBus}, method...)
	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}
