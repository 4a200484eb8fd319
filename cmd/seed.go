package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/homedesk/homedesk/internal/app"
	"github.com/homedesk/homedesk/internal/config"
	"github.com/homedesk/homedesk/internal/example"
)

// runSeed generates synthetic question/answer pairs per category and inserts
// them into the corpus with source "generated".
func runSeed(logger *slog.Logger) error {
	seedFlags := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedFlags.SetOutput(os.Stderr)
	count := seedFlags.Int("count", 5, "Examples to generate per category")
	category := seedFlags.String("category", "", "Seed a single category (default: all)")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := seedFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing seed flags: %w", err)
	}

	if *count <= 0 {
		return fmt.Errorf("count must be positive, got %d", *count)
	}

	categories := example.Categories()
	if *category != "" {
		if !example.ValidCategory(*category) {
			return fmt.Errorf("unknown category %q (known: %v)", *category, example.Categories())
		}
		categories = []string{*category}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var total int
	for _, cat := range categories {
		n, err := seedCategory(ctx, a, cat, *count)
		if err != nil {
			return fmt.Errorf("seeding category %q: %w", cat, err)
		}
		total += n
		logger.Info("category seeded", "category", cat, "inserted", n)
	}

	fmt.Printf("Seeded %d examples across %d categories\n", total, len(categories))
	return nil
}

func seedCategory(ctx context.Context, a *app.App, category string, count int) (int, error) {
	generated, err := a.Completer.GenerateExamples(ctx, category, count)
	if err != nil {
		return 0, err
	}

	batch := make([]example.NewExample, 0, len(generated))
	for _, gen := range generated {
		batch = append(batch, example.NewExample{
			Question: gen.Question,
			Answer:   gen.Answer,
			Category: category,
			Source:   example.SourceGenerated,
		})
	}
	if len(batch) == 0 {
		return 0, nil
	}

	ids, err := a.Examples.InsertBatch(ctx, batch)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
