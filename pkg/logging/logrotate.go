package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
// logging under /var/log/transcoder.
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for transcoder %s
# Install: sudo cp this file to /etc/logrotate.d/transcoder-%s

/var/log/transcoder/%s.log {
    weekly
    rotate 8
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, component, component, component)
}
