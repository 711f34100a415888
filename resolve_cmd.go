package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/wordcast/internal/window"
	"github.com/dgnsrekt/wordcast/tts"
)

var (
	resolveWindow int

	resolveCmd = &cobra.Command{
		Use:   "resolve [TEXT]",
		Short: "Synthesize text into the unit store without a server",
		Long: paragraph(fmt.Sprintf("\n%s every unit of a text through the unit store, synthesizing what is missing, and print what happened to each word.",
			keyword("Resolve"))),
		Example: paragraph("wordcast resolve \"Hello there, friend.\"\nwordcast resolve -f story.txt --window 2"),
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := listenText(cmd.Context(), nil, args)
			if err != nil {
				return err
			}
			return runResolve(cmd.Context(), os.Stdout, text, log.Default())
		},
	}
)

func init() {
	resolveCmd.Flags().StringVarP(&listenFile, "file", "f", "", "read the text from a file")
	resolveCmd.Flags().IntVar(&resolveWindow, "window", -1, "resolve a single window")
}

func runResolve(ctx context.Context, w io.Writer, text string, logger *log.Logger) error {
	b, err := openBackend(logger, nil)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	var results []window.Result
	if resolveWindow >= 0 {
		results, err = b.generator.ResolveWindow(ctx, text, resolveWindow)
	} else {
		results, err = b.generator.ResolveAll(ctx, text)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w, resultTable(results, b.generator.Size()))
	_, _ = fmt.Fprintln(w, faintStyle.Render(b.store.Stats().String()))
	return nil
}

func resultTable(results []window.Result, size int) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.Itoa(r.Unit.Index),
			strconv.Itoa(tts.WindowOf(r.Unit.Index, size)),
			r.Unit.Text,
			r.Pause.String(),
			outcome(r),
			humanize.Bytes(uint64(len(r.Audio))),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(faintStyle).
		Headers("#", "WINDOW", "WORD", "PAUSE", "OUTCOME", "AUDIO").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 4 && row >= 0 && row < len(results) && results[row].Err != nil {
				return errorStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

func outcome(r window.Result) string {
	switch {
	case r.Err != nil:
		var ue *tts.UnitError
		if errors.As(r.Err, &ue) {
			return "failed: " + ue.Reason()
		}
		return "failed"
	case r.Decoration:
		return "decoration"
	case r.Cached:
		return "cached"
	default:
		return "synthesized"
	}
}
