package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// notifyIcon matches the icon property set on the cue playback stream so the
// banner and the sound present as one application.
const notifyIcon = "camera-photo"

// desktopNotify raises or replaces a scan banner over the freedesktop
// Notifications bus via busctl. It returns the server-assigned notification
// ID so the next result can replace the banner in place.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error) {
	out, err := runBusctl(ctx,
		"Notify",
		"susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		notifyIcon,
		summary,
		"",
		"0", // actions array length
		"0", // hints map length
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return 0, fmt.Errorf("desktop notify failed: %w", err)
	}

	// busctl prints the reply signature and value, e.g. "u 42".
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", strings.TrimSpace(string(out)))
	}
	value, parseErr := strconv.ParseUint(fields[1], 10, 32)
	if parseErr != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], parseErr)
	}
	return uint32(value), nil
}

// desktopDismiss closes the scan banner by notification ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := runBusctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	if err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

// runBusctl invokes one org.freedesktop.Notifications method on the user bus
// and folds busctl's stderr into the returned error.
func runBusctl(ctx context.Context, method string, args ...string) ([]byte, error) {
	cmdArgs := append([]string{
		"--user",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		method,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", cmdArgs...).CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w (%s)", err, trimmed)
	}
	return out, nil
}
