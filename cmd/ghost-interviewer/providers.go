package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sjawhar/ghost-interviewer/internal/config"
)

func newProvidersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show the resolved provider chains",
		Long:  "Prints the STT, TTS and LLM providers that would be used, in failover order, with their rate windows. Providers without credentials are listed as skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printChain(out, "stt", cfg.STT, cfg.EnabledSTT())
			printChain(out, "tts", cfg.TTS, cfg.EnabledTTS())
			if cfg.Session.StockPhrases != "" {
				fmt.Fprintf(out, "  stock phrases: %s\n", cfg.Session.StockPhrases)
			}
			printChain(out, "llm", cfg.LLM, cfg.EnabledLLM())
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ghost-interviewer.yaml", "path to config file")
	return cmd
}

func printChain(out io.Writer, kind string, all, enabled []config.Provider) {
	fmt.Fprintf(out, "%s:\n", kind)
	if len(all) == 0 {
		fmt.Fprintln(out, "  (none configured)")
		return
	}
	active := make(map[string]bool, len(enabled))
	for i, p := range enabled {
		active[p.Name] = true
		limit := "unlimited"
		if p.MaxPerWindow > 0 {
			limit = fmt.Sprintf("%d per %s", p.MaxPerWindow, p.WindowDuration())
		}
		fmt.Fprintf(out, "  %d. %-12s %-24s %s\n", i+1, p.Name, p.Model, limit)
	}
	for _, p := range all {
		if active[p.Name] {
			continue
		}
		reason := "no credentials"
		if p.Disabled {
			reason = "disabled"
		}
		fmt.Fprintf(out, "  -  %-12s skipped (%s)\n", p.Name, reason)
	}
}
