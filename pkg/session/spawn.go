package session

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// SpawnInHostTerminal opens a native host terminal emulator window running
// the doodle CLI attached to sess, for use when the caller (the HTTP API,
// typically) has no graphical surface of its own to host the controller in.
// The child doodle process attaches to the already-created session by ID
// rather than by re-running cmdline, so this is only ever called after the
// session itself has been created by the manager.
func SpawnInHostTerminal(sess *Session, doodleBinaryPath string, cmdline []string, workingDir string) error {
	doodleCommand := fmt.Sprintf("DOODLE_SESSION_ID=%s %s -- %s",
		shellQuote(sess.ID), shellQuote(doodleBinaryPath), shellQuoteArgs(cmdline))

	switch runtime.GOOS {
	case "darwin":
		return spawnMacTerminal(doodleCommand, workingDir)
	case "linux":
		return spawnLinuxTerminal(doodleCommand, workingDir)
	default:
		return fmt.Errorf("session: host terminal spawning not supported on %s", runtime.GOOS)
	}
}

func spawnMacTerminal(command, workingDir string) error {
	script := fmt.Sprintf(`
		tell application "Terminal"
			activate
			do script "cd %s && %s"
		end tell
	`, shellQuote(workingDir), command)

	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

func spawnLinuxTerminal(command, workingDir string) error {
	// Try common Linux terminal emulators in order of preference.
	terminals := []struct {
		name string
		args func(string, string) []string
	}{
		{"gnome-terminal", func(cmd, wd string) []string {
			return []string{"--working-directory=" + wd, "--", "bash", "-c", cmd}
		}},
		{"konsole", func(cmd, wd string) []string {
			return []string{"--workdir", wd, "-e", "bash", "-c", cmd}
		}},
		{"xfce4-terminal", func(cmd, wd string) []string {
			return []string{"--working-directory=" + wd, "-e", "bash -c " + shellQuote(cmd)}
		}},
		{"xterm", func(cmd, wd string) []string {
			return []string{"-e", "bash", "-c", "cd " + shellQuote(wd) + " && " + cmd}
		}},
	}

	for _, term := range terminals {
		if _, err := exec.LookPath(term.name); err == nil {
			cmd := exec.Command(term.name, term.args(command, workingDir)...)
			if err := cmd.Start(); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("session: no suitable host terminal emulator found")
}

func shellQuote(s string) string {
	if strings.ContainsAny(s, " \t\n\"'$`\\") {
		escaped := strings.ReplaceAll(s, "'", "'\"'\"'")
		return "'" + escaped + "'"
	}
	return s
}

func shellQuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}
