package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/janhq/jan-core/internal/app"
	"github.com/janhq/jan-core/internal/config"
)

var (
	version      = "0.1.0"
	providerFlag string
	modelFlag    string
	assistantID  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jancore",
		Short: "Local-first LLM chat engine",
		Long: `Jancore runs chat completions against local and remote OpenAI-compatible
providers. It manages threads, model loading, MCP tool servers, and
recovery from context-window overflows.`,
		RunE: runChat,
	}

	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "provider for new threads")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model for new threads")
	rootCmd.PersistentFlags().StringVar(&assistantID, "assistant", "", "assistant persona to use")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jancore version %s\n", version)
		},
	})

	rootCmd.AddCommand(threadsCmd())
	rootCmd.AddCommand(providersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Version = version
	return app.New(cfg)
}

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage chat threads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List threads, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			list, err := a.Threads.ListThreads()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMODEL\tUPDATED")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Title, t.ModelID, t.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())
			return a.Threads.DeleteThread(args[0])
		},
	})

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tACTIVE\tMODEL\tCTX")
			for _, p := range a.Providers.List() {
				for i := range p.Models {
					m := &p.Models[i]
					fmt.Fprintf(w, "%s\t%t\t%s\t%d\n", p.Name, p.Active, m.ID, m.ContextLength())
				}
			}
			return w.Flush()
		},
	}
}
