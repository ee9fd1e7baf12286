package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"syscall"
)

// ClassifyConnectionError turns a dial failure into an operator-facing
// message with remediation hints.
func ClassifyConnectionError(err error, component, addr string) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - A firewall is blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", component, addr, component, addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "actively refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start the service and retry\n"+
			"  - Verify the address in config.yaml", component, addr, component)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", component, addr)
	}

	if strings.Contains(errStr, "authentication") || strings.Contains(errStr, "password") || strings.Contains(errStr, "denied") || strings.Contains(errStr, "noauth") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the credentials in config.yaml or the ARGUS_ environment variables", component, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", component, addr, err, component)
}

// ClassifySQLiteError explains why the state database could not be opened.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied"):
		return fmt.Sprintf("Permission denied accessing the state database at %s.\n"+
			"  Remediation:\n"+
			"  - Check permissions: ls -la %s", absPath, parentDir)
	case strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "sqlite_busy"):
		return fmt.Sprintf("State database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another running argus process: ps aux | grep argus", absPath)
	case strings.Contains(errStr, "no space") || strings.Contains(errStr, "sqlite_full"):
		return fmt.Sprintf("Disk full, cannot write the state database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)
	case strings.Contains(errStr, "corrupt") || strings.Contains(errStr, "malformed"):
		return fmt.Sprintf("State database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - The database only holds rule enabled state and execution history; deleting it resets both", absPath, absPath)
	case strings.Contains(errStr, "read-only"):
		return fmt.Sprintf("State database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Point rules.state_db (ARGUS_RULES_STATE_DB) at a writable location", absPath)
	}
	return fmt.Sprintf("Failed to initialize the state database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable", absPath, err, parentDir)
}
