package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/store"
)

func deleteCMD() *cobra.Command {
	var cfgPath string
	var bookID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Withdraw a book and drop its indexed passages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			n, err := st.CountPassages(ctx, bookID)
			if err != nil {
				return err
			}
			if err := st.DeleteBook(ctx, bookID); err != nil {
				return err
			}
			log.Printf("[INGEST] book %s withdrawn, %d passages dropped", bookID, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&bookID, "book", "", "book identifier to withdraw")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}
