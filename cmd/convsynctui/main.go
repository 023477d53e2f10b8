package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/convsync/internal/lock"
	"github.com/matheus3301/convsync/internal/profile"
	"github.com/matheus3301/convsync/internal/tui"
	"github.com/matheus3301/convsync/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)

	// Probe daemon health; auto-start if needed. A live lock owner that does
	// not answer yet is still starting up and must not get a sibling.
	if !probeDaemon(socketPath) {
		if owner, err := lock.ReadOwner(profile.Dir(profileName)); err == nil && owner.Alive() {
			fmt.Fprintf(os.Stderr, "waiting for daemon PID %d...\n", owner.PID)
		} else {
			fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
			if err := startDaemon(profileName); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
				os.Exit(1)
			}
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, profileName)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.Chat.GetStatus(ctx)
	return err == nil
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemonBin := filepath.Join(filepath.Dir(executable), "convsyncd")

	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "convsyncd"
	}

	cmd := exec.Command(daemonBin, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real call, not just a socket connect.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
