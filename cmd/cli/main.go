package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendwise/internal/categorize"
	"github.com/dvloznov/spendwise/internal/events"
	infraBQ "github.com/dvloznov/spendwise/internal/infra/bigquery"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/notionsync"
	"github.com/dvloznov/spendwise/internal/reconcile"
	"github.com/dvloznov/spendwise/internal/subscriptions"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "categorize":
		runCategorize(log)
	case "answer":
		runAnswer(log)
	case "detect":
		runDetect(log)
	case "reconcile":
		runReconcile(log)
	case "export-notion":
		runExportNotion(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SpendWise CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  categorize     Run AI categorization for a user's pending transactions")
	fmt.Println("  answer         Apply a user's answer to a categorization question")
	fmt.Println("  detect         Detect recurring subscriptions from charge history")
	fmt.Println("  reconcile      Match bank transactions against email order receipts")
	fmt.Println("  export-notion  Mirror the subscription roster to a Notion database")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// newStore builds the BigQuery store from the shared flags.
func newStore(ctx context.Context, log zerolog.Logger, project, dataset string) *infraBQ.Store {
	if project == "" {
		log.Fatal().Msg("Error: --project is required (or set BQ_PROJECT)")
	}
	bq, err := infraBQ.NewStore(ctx, project, dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery store")
	}
	return bq
}

func storeFlags(fs *flag.FlagSet) (project, dataset *string) {
	project = fs.String("project", os.Getenv("BQ_PROJECT"), "GCP project ID (or set BQ_PROJECT env)")
	dataset = fs.String("dataset", envOr("BQ_DATASET", "spendwise"), "BigQuery dataset (or set BQ_DATASET env)")
	return project, dataset
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runCategorize(log zerolog.Logger) {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	project, dataset := storeFlags(fs)
	userID := fs.String("user", "", "User ID (required)")
	model := fs.String("model", os.Getenv("GEMINI_MODEL"), "Gemini model name (or set GEMINI_MODEL env)")
	redoAll := fs.Bool("redo-all", false, "Re-categorize everything without a user override")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	bq := newStore(ctx, log, *project, *dataset)
	defer bq.Close()
	stores := bq.Stores()

	oracle := categorize.NewGeminiOracle(*model, nil)
	c := categorize.New(stores.Transactions, stores.Questions, oracle, bq, events.LogDispatcher{Log: log}, categorize.DefaultConfig())

	stats, err := c.CategorizeUser(ctx, *userID, *redoAll)
	if err != nil {
		log.Fatal().Err(err).Msg("Categorization failed")
	}

	fmt.Printf("Auto-categorized: %d\n", stats.AutoCategorized)
	fmt.Printf("Needs review:     %d\n", stats.NeedsReview)
	fmt.Printf("Questions asked:  %d\n", stats.QuestionsGenerated)
	fmt.Printf("Failed:           %d\n", stats.Failed)
}

func runAnswer(log zerolog.Logger) {
	fs := flag.NewFlagSet("answer", flag.ExitOnError)
	project, dataset := storeFlags(fs)
	userID := fs.String("user", "", "User ID (required)")
	questionID := fs.String("question", "", "Question ID (required)")
	answer := fs.String("answer", "", "The user's answer text (required)")
	fs.Parse(os.Args[2:])

	if *userID == "" || *questionID == "" || *answer == "" {
		log.Fatal().Msg("Usage: cli answer -user ID -question ID -answer TEXT")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	bq := newStore(ctx, log, *project, *dataset)
	defer bq.Close()
	stores := bq.Stores()

	c := categorize.New(stores.Transactions, stores.Questions, nil, bq, nil, categorize.DefaultConfig())
	if err := c.HandleUserAnswer(ctx, *userID, *questionID, *answer); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply answer")
	}

	fmt.Println("Answer applied.")
}

func runDetect(log zerolog.Logger) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	project, dataset := storeFlags(fs)
	userID := fs.String("user", "", "User ID (required)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	bq := newStore(ctx, log, *project, *dataset)
	defer bq.Close()
	stores := bq.Stores()

	d := subscriptions.New(stores.Transactions, stores.Subscriptions, events.LogDispatcher{Log: log}, subscriptions.DefaultConfig())
	result, err := d.DetectSubscriptions(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Subscription detection failed")
	}

	fmt.Printf("Active subscriptions: %d\n", result.Detected)
	fmt.Printf("Marked unused:        %d\n", result.MarkedUnused)
}

func runReconcile(log zerolog.Logger) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	project, dataset := storeFlags(fs)
	userID := fs.String("user", "", "User ID (required)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	bq := newStore(ctx, log, *project, *dataset)
	defer bq.Close()

	engine := reconcile.New(bq.Stores(), reconcile.DefaultConfig())
	result, err := engine.Reconcile(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Reconciliation failed")
	}

	fmt.Printf("Auto-matched:       %d\n", result.Matched)
	fmt.Printf("Pending candidates: %d\n", result.Candidates)
}

func runExportNotion(log zerolog.Logger) {
	fs := flag.NewFlagSet("export-notion", flag.ExitOnError)
	project, dataset := storeFlags(fs)
	userID := fs.String("user", "", "User ID (required)")
	notionToken := fs.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token (or set NOTION_TOKEN env)")
	notionDBID := fs.String("notion-db-id", os.Getenv("NOTION_DB_ID"), "Notion database ID (or set NOTION_DB_ID env)")
	dryRun := fs.Bool("dry-run", false, "Preview changes without writing to Notion")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}
	if *notionToken == "" || *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-token and --notion-db-id are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	bq := newStore(ctx, log, *project, *dataset)
	defer bq.Close()

	notionClient := notionsync.NewNotionClient(*notionToken)
	if err := notionsync.SyncSubscriptions(ctx, bq, notionClient, *notionDBID, *userID, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Notion export failed")
	}

	if *dryRun {
		fmt.Println("Dry run complete, no changes written.")
	} else {
		fmt.Println("Notion export complete.")
	}
}
