package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/freightdesk/contract-agent/agent"
	"github.com/freightdesk/contract-agent/api"
	"github.com/freightdesk/contract-agent/config"
	"github.com/freightdesk/contract-agent/database"
	"github.com/freightdesk/contract-agent/embeddings"
	"github.com/freightdesk/contract-agent/index"
	"github.com/freightdesk/contract-agent/ingestion"
	"github.com/freightdesk/contract-agent/knowledge"
	"github.com/freightdesk/contract-agent/llm"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// stores bundles the connected backends shared by the CLI commands.
type stores struct {
	idx   *index.Postgres
	graph *knowledge.Graph
	close func(ctx context.Context)
}

func connectStores(ctx context.Context, cfg config.Config, logger *log.Logger) (stores, error) {
	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return stores{}, fmt.Errorf("postgres connection: %w", err)
	}

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		pgPool.Close()
		return stores{}, fmt.Errorf("neo4j connection: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		pgPool.Close()
		_ = neo4jDriver.Close(ctx)
		return stores{}, fmt.Errorf("embedder setup: %w", err)
	}

	idx, err := index.NewPostgres(ctx, pgPool, embedder, cfg.Collection, cfg.Embeddings.Dimension)
	if err != nil {
		pgPool.Close()
		_ = neo4jDriver.Close(ctx)
		return stores{}, fmt.Errorf("index setup: %w", err)
	}

	return stores{
		idx:   idx,
		graph: knowledge.NewGraph(neo4jDriver),
		close: func(ctx context.Context) {
			pgPool.Close()
			if err := neo4jDriver.Close(ctx); err != nil {
				logger.Printf("close neo4j driver: %v", err)
			}
		},
	}, nil
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing contract documents")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := connectStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer st.close(ctx)

	svc := ingestion.NewService(st.idx, st.graph, logger, cfg.ChunkSize, cfg.ChunkOverlap)
	logger.Printf("ingesting contracts from %s using %s/%s embeddings", *dataDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	report, err := svc.IngestDirectory(ctx, *dataDir)
	if err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
	logger.Printf("ingested %d documents, %d chunks, %d failed", len(report.Documents), report.TotalChunks(), report.Failed())
	if report.Failed() > 0 {
		os.Exit(1)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask about the contracts")
	thread := flags.String("thread", "cli", "conversation thread id")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := connectStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer st.close(ctx)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	svc := agent.NewService(st.idx, llmClient, nil, st.graph, logger, cfg.TopK)

	answer, err := svc.AskStream(ctx, *thread, *question, func(delta string) error {
		_, writeErr := fmt.Print(delta)
		return writeErr
	})
	if err != nil {
		logger.Fatalf("chat failed: %v", err)
	}
	fmt.Println()

	if len(answer.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, citation := range answer.Citations {
			fmt.Printf("%d. %s chunk %d (score %.2f)\n", i+1, citation.Document, citation.ChunkIndex, citation.Score)
			if citation.TotalChunks > 0 {
				fmt.Printf("   Indexed chunks: %d\n", citation.TotalChunks)
			}
		}
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := connectStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer st.close(ctx)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	ingestSvc := ingestion.NewService(st.idx, st.graph, logger, cfg.ChunkSize, cfg.ChunkOverlap)
	agentSvc := agent.NewService(st.idx, llmClient, nil, st.graph, logger, cfg.TopK)
	server := api.New(ingestSvc, agentSvc, logger, st.idx, st.graph)

	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete ingested contract data from Postgres and Neo4j. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := connectStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer st.close(ctx)

	if err := st.idx.Clear(ctx); err != nil {
		logger.Fatalf("clear index collection: %v", err)
	}
	logger.Printf("cleared Postgres collection %s", cfg.Collection)

	if err := st.graph.Clear(ctx); err != nil {
		logger.Fatalf("clear knowledge graph: %v", err)
	}
	logger.Println("Neo4j documents and chunks cleared")
}

const serverShutdownTimeout = 10 * time.Second

func printUsage() {
	fmt.Println("Usage: contract-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest   Ingest contract documents into Postgres/Neo4j (use --dir to override data directory)")
	fmt.Println("  chat     Ask a question against the ingested contracts")
	fmt.Println("  serve    Run the HTTP API")
	fmt.Println("  clear    Remove ingested data from Postgres/Neo4j")
}
