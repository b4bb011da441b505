package host

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Opener shows url to the user, usually in a new browser tab.
type Opener func(url string) error

// BrowserOpener launches the platform's default browser.
func BrowserOpener(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
