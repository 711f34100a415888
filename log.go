package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"golang.org/x/term"

	"github.com/dgnsrekt/wordcast/internal/config"
)

func getLogFilePath(secrets config.Secrets) (string, error) {
	if secrets.LogFile != "" {
		return homedir.Expand(secrets.LogFile)
	}
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

// setupLog logs to stderr when it is a terminal and to the log file
// otherwise, or always to the file when WORDCAST_LOG_FILE is set.
func setupLog(secrets config.Secrets) (func() error, error) {
	log.SetPrefix(config.AppName)
	log.SetReportTimestamp(true)
	if secrets.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if secrets.LogFile == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetOutput(os.Stderr)
		return func() error { return nil }, nil
	}

	logFile, err := getLogFilePath(secrets)
	if err != nil {
		return nil, fmt.Errorf("unable to locate log file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	return f.Close, nil
}
