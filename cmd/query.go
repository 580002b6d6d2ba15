package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/models"
)

func queryCMD() *cobra.Command {
	var cfgPath string
	var bookID string
	var chapterHint string
	var topK int
	var budget int

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve a context block for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			timeout := cfg.General.DefaultTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			block, err := a.engine.Retrieve(ctx, bookID, args[0], models.RetrieveOptions{
				TokenBudget: budget,
				ChapterHint: chapterHint,
				TopK:        topK,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(block, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&bookID, "book", "", "book identifier to search")
	cmd.Flags().StringVar(&chapterHint, "chapter", "", "chapter id to bias toward")
	cmd.Flags().IntVar(&topK, "top-k", 0, "passages to select (0 = configured default)")
	cmd.Flags().IntVar(&budget, "budget", 0, "token budget (0 = configured default)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}
