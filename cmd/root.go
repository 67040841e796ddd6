package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"codeassist/internal/dialogue"
	"codeassist/internal/index"
	"codeassist/internal/term"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "codeassist DIR",
	Short: "Ask questions about a codebase, grounded in its own source",
	Long: "codeassist indexes every function and method under DIR, then answers\n" +
		"questions about the code in an interactive session. Type quit to exit.",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAssistant,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// DIR may be named "help"; --help still works.
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
}

func runAssistant(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if fi, err := os.Stat(root); err != nil {
		return err
	} else if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", args[0])
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	console := term.New(cmd.OutOrStdout())
	console.Title("codeassist", "indexing "+root)

	idx, err := index.New(a.collection, a.embedder, newChunker(), index.Config{
		Rebuild:    a.cfg.Index.Rebuild,
		Collisions: a.cfg.Index.Collisions,
		BatchSize:  a.cfg.Index.BatchSize,
	},
		index.WithLogger(a.log),
		index.WithProgress(console.Processing),
	)
	if err != nil {
		return err
	}
	res, err := idx.Index(ctx, root)
	if err != nil {
		return fmt.Errorf("index %s: %w", root, err)
	}
	console.Indexed(res.Stats)

	retriever, err := a.retriever()
	if err != nil {
		return err
	}
	chat, err := a.chatClient()
	if err != nil {
		return err
	}

	session := dialogue.NewSession(chat, retriever, res.Readme, dialogue.WithLogger(a.log))
	err = session.Run(ctx, cmd.InOrStdin(), console)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
