package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# synthesizer engine: elevenlabs or mock
# the ElevenLabs key is read from ELEVENLABS_API_KEY
engine: "elevenlabs"
# address the server listens on
listen: ":8080"
# server the listener connects to
server: "http://localhost:8080"
# units per playback window
window_size: 5
# PCM sample rate (16000, 22050, 24000 or 44100)
sample_rate: 22050

# Unit store
cache:
  # defaults to the user cache directory
  # dir: "~/.cache/wordcast/units"
  hot_entries: 512
  # zstd level, 0 stores raw PCM
  compression: 3

# Calls to the synthesizer
synthesis:
  concurrency: 3
  requests_per_minute: 300
  timeout: "30s"
  max_retries: 2
  breaker_threshold: 5
  breaker_cooldown: "30s"
  # switch to the mock engine after this many unavailable failures (0 = never)
  fallback_failures: 0

elevenlabs:
  voice_id: "JBFqnCBsd6RMkjVDRZzb"
  model_id: "eleven_multilingual_v2"

# Story composer; uses Gemini when GEMINI_API_KEY is set
compose:
  model: "gemini-2.5-flash"
  age_group: "6-8"

# Listener
playback:
  short_pause: "200ms"
  medium_pause: "400ms"
  long_pause: "800ms"
  # keep reading past window boundaries
  continuous: false
  volume: 1.0
  highlight_color: "212"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the wordcast config file",
	Long:    paragraph(fmt.Sprintf("\n%s the wordcast config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("wordcast config\nwordcast config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Wordcast", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
