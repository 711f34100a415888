package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the unit store",
		Long:  paragraph(fmt.Sprintf("\n%s the unit store shared by every listener of this machine.", keyword("Inspect"))),
		Args:  cobra.NoArgs,
		RunE:  cacheStatsCmd.RunE,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print unit store statistics",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := openStore(log.Default())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			dir, _ := cfg.CacheDir()
			fmt.Println(headerStyle.Render("Unit store"), faintStyle.Render(dir))
			fmt.Println(store.Stats().String())
			return nil
		},
	}

	cacheKeysCmd = &cobra.Command{
		Use:   "keys [FILTER]",
		Short: "List cached units and the word that produced them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := openStore(log.Default())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			var filter string
			if len(args) == 1 {
				filter = strings.ToLower(args[0])
			}
			for _, key := range store.Keys() {
				surface, _ := store.Surface(key)
				if filter != "" && !strings.Contains(strings.ToLower(surface), filter) {
					continue
				}
				_, _ = fmt.Fprintf(os.Stdout, "%s  %s\n", faintStyle.Render(string(key)), surface)
			}
			return nil
		},
	}
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheKeysCmd)
}
