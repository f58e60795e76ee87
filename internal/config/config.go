// Package config provides configuration helpers for the metronome app.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults for the metronome application.
const (
	DefaultAPIPort  = "8042"
	DefaultLogLevel = "info"
)

// RobotIPRequired returns the robot IP from ROBOT_IP env var.
// Exits with a usage message if not set.
func RobotIPRequired() string {
	ip := os.Getenv("ROBOT_IP")
	if ip == "" {
		fmt.Fprintln(os.Stderr, "Error: ROBOT_IP environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: ROBOT_IP=192.168.68.80 go run ./cmd/metronome")
		os.Exit(1)
	}
	return ip
}

// APIPort returns the settings API port from METRONOME_PORT or the default.
func APIPort() string {
	if p := os.Getenv("METRONOME_PORT"); p != "" {
		return p
	}
	return DefaultAPIPort
}

// LogLevel returns the log level from LOG_LEVEL or the default.
func LogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return l
	}
	return DefaultLogLevel
}

// RecordingsDir returns the directory for finished recordings, from
// RECORDINGS_DIR or ~/reachy_mini_recordings.
func RecordingsDir() string {
	if d := os.Getenv("RECORDINGS_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "reachy_mini_recordings"
	}
	return filepath.Join(home, "reachy_mini_recordings")
}
