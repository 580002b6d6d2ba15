package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/chunker"
	"github.com/bookmind/bookmind/internal/ingest"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var sourceDir string
	var bookID string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index a book's chapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			source := ingest.NewFSSource(sourceDir)
			ing, err := ingest.New(source, chunker.New(cfg.Chunker), a.embedder, a.store, cfg.Ingest, a.metrics, nil)
			if err != nil {
				return err
			}

			chapters, err := source.ListChapters(bookID)
			if err != nil {
				return err
			}
			if len(chapters) == 0 {
				return fmt.Errorf("book %s has no chapter files", bookID)
			}

			total, err := ing.IngestBook(ctx, bookID, chapters)
			if err != nil {
				return err
			}
			log.Printf("[INGEST] book %s: %d chapters, %d passages", bookID, len(chapters), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceDir, "source", "books", "directory containing <book>/<chapter>.txt files")
	cmd.Flags().StringVar(&bookID, "book", "", "book identifier to ingest")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}
