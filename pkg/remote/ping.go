package remote

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Ping sends one ICMP echo to address using the system ping command
func Ping(ctx context.Context, address string) error {
	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", "5000", address}
	} else {
		args = []string{"-c", "1", "-W", "5", address}
	}
	out, err := exec.CommandContext(ctx, "ping", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("host at address %s cannot be reached: %w: %s", address, err, strings.TrimSpace(string(out)))
	}
	return nil
}
