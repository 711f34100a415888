package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/wordcast/internal/client"
	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/audio"
	"github.com/dgnsrekt/wordcast/tts/playback"
)

var (
	listenFile   string
	listenPrompt string
	listenAge    string
	listenMute   bool
	listenSync   bool

	listenCmd = &cobra.Command{
		Use:   "listen [TEXT]",
		Short: "Listen to text one word at a time",
		Long: paragraph(fmt.Sprintf("\n%s to a running wordcast server and read text aloud, highlighting each word as it is spoken. "+
			"Text comes from the arguments, a file, stdin or the server's story composer.", keyword("Connect"))),
		Example: paragraph("wordcast listen \"The cat sat on the mat.\"\nwordcast listen -f story.txt --continuous\nwordcast listen --prompt \"a brave turtle\""),
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, args, log.Default())
		},
	}
)

func init() {
	listenCmd.Flags().StringVarP(&listenFile, "file", "f", "", "read the text from a file")
	listenCmd.Flags().StringVarP(&listenPrompt, "prompt", "p", "", "ask the server to compose a story about this")
	listenCmd.Flags().StringVar(&listenAge, "age", "", "age group for composed stories (4-6, 6-8, 8-10)")
	listenCmd.Flags().BoolVarP(&listenMute, "mute", "m", false, "keep time without producing sound")
	listenCmd.Flags().BoolVar(&listenSync, "sync", false, "resolve the whole text in one request instead of streaming")
	listenCmd.Flags().BoolP("continuous", "c", false, "keep reading past window boundaries")
	listenCmd.Flags().String("server", "", "server address")

	_ = viper.BindPFlag("playback.continuous", listenCmd.Flags().Lookup("continuous"))
	_ = viper.BindPFlag("server", listenCmd.Flags().Lookup("server"))
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// listenText picks the text to read: a composed story, a file, piped stdin
// or the arguments, in that order.
func listenText(ctx context.Context, h *client.HTTP, args []string) (string, error) {
	if listenPrompt != "" {
		age := listenAge
		if age == "" {
			age = cfg.Compose.AgeGroup
		}
		story, err := h.Story(ctx, protocol.StoryRequest{Prompt: listenPrompt, AgeGroup: age})
		if err != nil {
			return "", fmt.Errorf("unable to compose story: %w", err)
		}
		return story, nil
	}

	if listenFile != "" {
		path, err := homedir.Expand(listenFile)
		if err != nil {
			return "", err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("unable to read file: %w", err)
		}
		return string(b), nil
	}

	if len(args) == 0 {
		if yes, err := stdinIsPipe(); err != nil {
			return "", err
		} else if yes {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("unable to read from stdin: %w", err)
			}
			return string(b), nil
		}
	}
	return strings.Join(args, " "), nil
}

// newPlayer opens the audio device, or a silent player keeping real time.
func newPlayer() (tts.AudioPlayer, func(), error) {
	format := cfg.AudioFormat()
	if listenMute {
		mp := audio.NewMockPlayer()
		return mp, func() {}, nil
	}
	p, err := audio.NewPlayer(format)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open audio device (use --mute to listen silently): %w", err)
	}
	if err := p.SetVolume(cfg.Playback.Volume); err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// listener drives one read-through of a text.
type listener struct {
	units      []tts.Unit
	size       int
	continuous bool
	out        *transcript
	logger     *log.Logger

	sched  *playback.Scheduler
	stream *client.Client // nil on the synchronous path

	mu         sync.Mutex
	atBoundary bool

	finished     chan struct{}
	finishedOnce sync.Once
}

func runListen(ctx context.Context, args []string, logger *log.Logger) error {
	h := client.NewHTTP(cfg.Server)

	text, err := listenText(ctx, h, args)
	if err != nil {
		return err
	}
	units := tts.Split(text)
	if len(units) == 0 {
		return tts.ErrEmptyText
	}

	// The scheduler must window the text exactly like the server does.
	size := cfg.WindowSize
	if health, err := h.Health(ctx); err == nil && health.WindowSize > 0 {
		size = health.WindowSize
	} else if err != nil {
		logger.Debug("Health check failed", "err", err)
	}

	player, closePlayer, err := newPlayer()
	if err != nil {
		return err
	}
	defer closePlayer()

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	interactive := tty && term.IsTerminal(int(os.Stdin.Fd()))

	l := &listener{
		units:      units,
		size:       size,
		continuous: cfg.Playback.Continuous || !interactive,
		out:        newTranscript(os.Stdout, units, size, tty, cfg.Playback.HighlightColor),
		logger:     logger,
		finished:   make(chan struct{}),
	}
	defer l.out.done()

	var feedDone <-chan error
	if !listenSync {
		c, err := client.Dial(ctx, cfg.Server, client.DialOptions{Logger: logger})
		if err != nil {
			logger.Warn("Streaming unavailable, falling back to a single request", "err", err)
		} else {
			l.stream = c
			defer c.Close() //nolint:errcheck
		}
	}

	opts := playback.Options{
		WindowSize: size,
		Pauses:     cfg.Pauses(),
		Player:     player,
		Logger:     logger,
		OnEvent:    l.onEvent,
	}
	if l.stream != nil {
		opts.Requester = l.stream
	}
	l.sched = playback.New(opts)
	defer l.sched.Close() //nolint:errcheck

	if l.stream != nil {
		feedDone = l.startStream(ctx, text)
		if err := l.stream.SetText(text); err != nil {
			return err
		}
	} else if err := l.loadAll(ctx, h, text); err != nil {
		return err
	}

	if err := l.sched.Play(); err != nil {
		return err
	}

	var keys <-chan byte
	if interactive {
		k, restore, err := readKeys(ctx, os.Stdin)
		if err != nil {
			logger.Warn("Keyboard controls unavailable", "err", err)
		} else {
			defer restore()
			keys = k
			l.out.note("space pause/continue · n next · p previous · r replay · q quit")
		}
	}

	for {
		select {
		case <-l.finished:
			return nil
		case <-ctx.Done():
			return nil
		case err := <-feedDone:
			feedDone = nil
			if err != nil {
				return err
			}
			if cerr := l.stream.Err(); cerr != nil {
				return fmt.Errorf("connection lost: %w", cerr)
			}
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if quit := l.key(k); quit {
				return nil
			}
		}
	}
}

func (l *listener) startStream(ctx context.Context, text string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- client.Feed(ctx, l.stream.Events(), l.sched, nil, l.logger)
	}()
	l.logger.Debug("Streaming text", "units", len(l.units), "bytes", len(text))
	return done
}

// loadAll resolves the whole text over HTTP and buffers every unit.
func (l *listener) loadAll(ctx context.Context, h *client.HTTP, text string) error {
	resp, err := h.Words(ctx, text)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Code == tts.ErrorCode(tts.ErrEmptyText) {
			return tts.ErrEmptyText
		}
		return fmt.Errorf("unable to resolve words: %w", err)
	}
	if err := l.sched.SetTotal(resp.TotalWords); err != nil {
		return err
	}
	for _, d := range client.Deliveries(resp) {
		if err := l.sched.Deliver(d); err != nil {
			return err
		}
	}
	return nil
}

func (l *listener) onEvent(e playback.Event) {
	switch e.Kind {
	case playback.EventHighlight:
		l.setBoundary(false)
		l.out.highlight(e.Index)
		if l.stream != nil {
			if err := l.stream.ReportPlaying(e.Index); err != nil {
				l.logger.Debug("Could not report position", "err", err)
			}
		}
	case playback.EventBoundaryPause:
		next := tts.WindowOf(e.Index, l.size) + 1
		if l.continuous {
			l.sched.SeekWindow(next)
			return
		}
		l.setBoundary(true)
		l.out.note("paused, press space to continue")
	case playback.EventFinished:
		l.finishedOnce.Do(func() { close(l.finished) })
	}
}

func (l *listener) setBoundary(v bool) {
	l.mu.Lock()
	l.atBoundary = v
	l.mu.Unlock()
}

// key handles one key press and reports whether to quit.
func (l *listener) key(k byte) bool {
	snap := l.sched.Snapshot()
	switch k {
	case 'q', keyCtrlC, keyEscape:
		return true
	case ' ':
		l.mu.Lock()
		boundary := l.atBoundary
		l.mu.Unlock()
		switch {
		case boundary:
			l.sched.SeekWindow(snap.Window + 1)
		case snap.State == playback.Playing:
			_ = l.sched.Pause()
		default:
			_ = l.sched.Play()
		}
	case 'n':
		if !l.sched.SeekWindow(snap.Window + 1) {
			l.out.note("already at the last window")
		}
	case 'p':
		l.sched.SeekWindow(max(snap.Window-1, 0))
	case 'r':
		_ = l.sched.ReplayCurrentWindow()
	}
	return false
}
