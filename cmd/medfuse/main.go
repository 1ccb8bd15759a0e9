// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/medfuse"
	"github.com/poiesic/medfuse/ai/openai"
	"github.com/poiesic/medfuse/config"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/ingestion"
	"github.com/poiesic/medfuse/query"
	"github.com/poiesic/medfuse/reembed"
	"github.com/poiesic/medfuse/server"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "medfuse",
		Usage: "Evidence retrieval and fusion for medical question answering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				EnvVars: []string{"MEDFUSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Environment file loaded before the configuration (ignored if missing)",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides storage.path)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Retrieve and fuse evidence for a question",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Answer audience (patient, doctor); detected when empty",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full response as JSON",
					},
				},
			},
			{
				Name:      "classify",
				Usage:     "Show how a question is preprocessed, without retrieving",
				ArgsUsage: "<question>",
				Action:    classifyCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "llm",
						Usage: "Also extract entities with the configured LLM",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Load corpus documents from a JSON lines file",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "JSON lines file with title, content, corpus and metadata fields (- for stdin)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "corpus",
						Usage: "Corpus name for documents that do not set one",
						Value: "default",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents embedded per request",
						Value: ingestion.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Number of concurrent embedding workers",
						Value: 2,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all documents with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name (overrides ai.embedding_model)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of batches embedded concurrently",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Count documents and batches without embedding",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the JSON HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.addr)",
					},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as TOML, secrets masked",
				Action: configCommand,
			},
		},
	}
}

func setup(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file '%s': %w", path, err)
		}
	}
	return setupLogger(c)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads --config, applies environment secrets and --db.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
		cfg.Storage.InMemory = false
	}
	return cfg, cfg.Validate()
}

func openEngine(ctx context.Context, c *cli.Context) (*medfuse.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return medfuse.Open(ctx, cfg)
}

func questionArg(c *cli.Context) (string, error) {
	q := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if q == "" {
		return "", fmt.Errorf("a question is required")
	}
	return q, nil
}

func parseMode(tag string) (core.UserMode, error) {
	if tag == "" {
		return "", nil
	}
	return core.ParseUserMode(tag)
}

func askCommand(c *cli.Context) error {
	ctx := c.Context

	question, err := questionArg(c)
	if err != nil {
		return err
	}
	mode, err := parseMode(c.String("mode"))
	if err != nil {
		return err
	}

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	resp, err := engine.Retrieve(ctx, question, mode)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, resp)
	}
	printResponse(c.App.Writer, resp)
	return nil
}

func printResponse(w io.Writer, resp *medfuse.Response) {
	md := resp.Metadata
	fmt.Fprintf(w, "Strategy: %v  Fusion: %v  Confidence: %.3f\n",
		md[medfuse.MetaRetrievalStrategy], md[medfuse.MetaFusionMethod], resp.Confidence)
	if applied, _ := md[medfuse.MetaFallbackApplied].(bool); applied {
		fmt.Fprintf(w, "Fallback: %v -> %v (confidence before %.3f)\n",
			md[medfuse.MetaOriginalStrategy], md[medfuse.MetaFallbackStrategy], md[medfuse.MetaPreFallbackConfidence])
	}
	if len(resp.Evidences) == 0 {
		fmt.Fprintln(w, "No evidence found.")
		return
	}
	for i, ev := range resp.Evidences {
		fmt.Fprintf(w, "%2d. [%s %.3f] %s\n", i+1, ev.Source, ev.Confidence, ev.Content)
	}
}

func classifyCommand(c *cli.Context) error {
	ctx := c.Context

	question, err := questionArg(c)
	if err != nil {
		return err
	}

	opts := []query.Option{query.WithLogger(slog.Default())}
	if c.Bool("llm") {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		provider, err := openai.NewProvider(cfg.AIConfig())
		if err != nil {
			return err
		}
		defer provider.Close()
		opts = append(opts, query.WithEntityExtractor(provider.EntityExtractor()))
	}

	processor, err := query.NewProcessor(opts...)
	if err != nil {
		return err
	}
	q, err := processor.Process(ctx, question, "")
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, q)
}

// corpusLine is one line of an ingest file.
type corpusLine struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Corpus   string            `json:"corpus"`
	Metadata map[string]string `json:"metadata"`
}

// readDocuments parses JSON lines. Blank lines are skipped; a malformed line
// fails with its line number.
func readDocuments(r io.Reader, defaultCorpus string) ([]*core.Document, error) {
	var docs []*core.Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cl corpusLine
		if err := json.Unmarshal([]byte(line), &cl); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if strings.TrimSpace(cl.Content) == "" {
			return nil, fmt.Errorf("line %d: %w", lineNo, core.ErrEmptyContent)
		}
		if cl.Corpus == "" {
			cl.Corpus = defaultCorpus
		}
		docs = append(docs, &core.Document{
			Corpus:   cl.Corpus,
			Title:    cl.Title,
			Content:  cl.Content,
			Metadata: cl.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := c.Context

	var in io.Reader = os.Stdin
	if path := c.String("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open corpus file: %w", err)
		}
		defer f.Close()
		in = f
	}
	docs, err := readDocuments(in, c.String("corpus"))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(c.App.ErrWriter, "No documents to ingest")
		return nil
	}

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline, err := engine.NewIngestionPipeline(
		ingestion.WithBatchSize(c.Int("batch-size")),
		ingestion.WithPoolSize(c.Int("pool-size")),
	)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	start := time.Now()
	added, err := pipeline.Ingest(ctx, docs...)
	if err != nil {
		return err
	}
	pipeline.Wait()
	if err := engine.RebuildIndex(ctx); err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Ingested %d documents in %v\n", len(added), time.Since(start).Round(time.Millisecond))
	return nil
}

func reembedCommand(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if model := c.String("embedding-model"); model != "" {
		cfg.AI.EmbeddingModel = model
	}

	engine, err := medfuse.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Reembed(ctx, &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		Workers:        c.Int("workers"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		DryRun:         c.Bool("dry-run"),
	}, c.App.ErrWriter)
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	addr := c.String("addr")
	if addr == "" {
		addr = engine.Config().Server.Addr
	}
	return server.New(engine, slog.Default()).Run(ctx, addr)
}

func configCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	masked := *cfg
	masked.Graph.Password = mask(masked.Graph.Password)
	masked.Literature.APIKey = mask(masked.Literature.APIKey)
	masked.AI.APIKey = mask(masked.AI.APIKey)

	data, err := masked.Encode()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
