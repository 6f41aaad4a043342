package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/analysis"
	"github.com/web-shredder/chunk-daddy-sub002/internal/assign"
	"github.com/web-shredder/chunk-daddy-sub002/internal/chunker"
	"github.com/web-shredder/chunk-daddy-sub002/internal/config"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	embopenai "github.com/web-shredder/chunk-daddy-sub002/internal/embedding/openai"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding/tfidf"
	llmopenai "github.com/web-shredder/chunk-daddy-sub002/internal/llm/openai"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/metrics"
	"github.com/web-shredder/chunk-daddy-sub002/internal/optimizer"
	"github.com/web-shredder/chunk-daddy-sub002/internal/service"
	"github.com/web-shredder/chunk-daddy-sub002/internal/summarizer"
	"github.com/web-shredder/chunk-daddy-sub002/internal/tui"
)

// queryList collects repeated -q flags.
type queryList []string

func (q *queryList) String() string { return strings.Join(*q, ", ") }

func (q *queryList) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	_ = godotenv.Load()

	var (
		cfgPath   string
		mode      string
		analyze   bool
		optimized string
		asJSON    bool
		sessionID string
		queries   queryList
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/chunkdaddy/config.yaml if not provided)")
	flag.StringVar(&mode, "mode", string(optimizer.ModeFocused), "Optimization mode: focused or global")
	flag.BoolVar(&analyze, "analyze", false, "Only score the content against the queries")
	flag.StringVar(&optimized, "optimized", "", "Optimized version of the content to compare with -analyze")
	flag.BoolVar(&asJSON, "json", false, "Print the result as JSON instead of the progress view")
	flag.StringVar(&sessionID, "session", "", "Session id (defaults to a random id)")
	flag.Var(&queries, "q", "Target query (repeatable)")
	flag.Parse()
	if flag.NArg() != 1 || len(queries) == 0 {
		fmt.Println("Usage: chunkdaddy [--config=config.yaml] [-mode focused|global] [-analyze [-optimized file]] [-json] -q query [-q query ...] file.{md,txt,html}")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	interactive := !asJSON && !analyze
	zl, err := newLogger(cfg.Logging, interactive)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = serveMetrics(cfg.Metrics.Addr, zl)
	}

	provider, err := newProvider(cfg.Embedder)
	if err != nil {
		zl.Fatal("embedder init failed", zap.Error(err))
	}
	batchSize := 0
	if cfg.Embedder.OpenAI != nil {
		batchSize = cfg.Embedder.OpenAI.BatchSize
	}
	emb := embedding.NewBatchClient(provider,
		embedding.WithBatchSize(batchSize),
		embedding.WithRetries(cfg.Pipeline.MaxRetries),
		embedding.WithLogger(zl),
		embedding.WithMetrics(m))

	ch, err := chunker.New(cfg.Chunker.Type, chunker.Options{
		SentencesPerChunk: cfg.Chunker.SentencesPerChunk,
		OverlapSentences:  cfg.Chunker.OverlapSentences,
		MaxWords:          cfg.Chunker.MaxWords,
	})
	if err != nil {
		zl.Fatal("chunker init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	deps := service.Deps{
		Chunker:    ch,
		Analyzer:   analysis.NewRunner(emb, ch, zl, m),
		Assigner:   assign.NewAssigner(emb, cfg.Assignment.MinCosine, zl),
		Summarizer: summarizer.NewFrequencySummarizer(),
		Logger:     zl,
	}

	if analyze {
		svc := service.New(deps)
		doc, err := svc.LoadDocument(flag.Arg(0))
		if err != nil {
			zl.Fatal("load failed", zap.Error(err))
		}
		var optContent string
		if optimized != "" {
			optDoc, err := svc.LoadDocument(optimized)
			if err != nil {
				zl.Fatal("load optimized failed", zap.Error(err))
			}
			optContent = optDoc.Content
		}
		res, err := svc.Analyze(ctx, doc, optContent, queries)
		if err != nil {
			zl.Fatal("analysis failed", zap.Error(err))
		}
		printJSON(res)
		return
	}

	gen, err := llmopenai.New(llmopenai.Config{
		BaseURL:     cfg.Generator.OpenAI.BaseURL,
		APIKeyEnv:   cfg.Generator.OpenAI.APIKeyEnv,
		Model:       cfg.Generator.OpenAI.Model,
		Timeout:     time.Duration(cfg.Generator.OpenAI.TimeoutSecs) * time.Second,
		MaxTokens:   cfg.Generator.OpenAI.MaxTokens,
		Temperature: cfg.Generator.OpenAI.Temperature,
	}, zl)
	if err != nil {
		zl.Fatal("generator init failed", zap.Error(err))
	}

	var prog *tea.Program
	opts := []optimizer.Option{optimizer.WithLogger(zl), optimizer.WithMetrics(m)}
	if interactive {
		opts = append(opts, optimizer.WithObserver(func(_ string, s optimizer.State) {
			if prog != nil {
				prog.Send(tui.StateMsg(s))
			}
		}))
	}
	deps.Optimizer = optimizer.New(gen, emb, optimizer.Config{
		BriefBatchSize:  cfg.Pipeline.BriefBatchSize,
		BriefBatchDelay: cfg.Pipeline.BriefBatchDelay(),
		StageTimeout:    cfg.Pipeline.StageTimeout(),
		MaxRetries:      cfg.Pipeline.MaxRetries,
	}, opts...)
	svc := service.New(deps)

	doc, err := svc.LoadDocument(flag.Arg(0))
	if err != nil {
		zl.Fatal("load failed", zap.Error(err))
	}
	req := service.OptimizeRequest{
		SessionID: sessionID,
		Document:  doc,
		Queries:   queries,
		Mode:      optimizer.Mode(mode),
	}

	if !interactive {
		res, err := svc.Optimize(ctx, req)
		if err != nil {
			zl.Fatal("optimization failed", zap.Error(err))
		}
		printJSON(res)
		return
	}

	prog = tea.NewProgram(tui.New(filepath.Base(doc.Path), svc.Synopsis(doc, 2)), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		res, err := svc.Optimize(ctx, req)
		prog.Send(tui.DoneMsg{Result: res, Err: err})
	}()
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Fatal(err)
	}
}

func newLogger(cfg config.LoggingConfig, interactive bool) (*zap.Logger, error) {
	switch {
	case cfg.File != "":
		return logger.New(cfg.Level, cfg.Development, cfg.File)
	case interactive:
		// the progress view owns the terminal
		return zap.NewNop(), nil
	}
	return logger.New(cfg.Level, cfg.Development)
}

func newProvider(cfg config.EmbedderConfig) (embedding.Provider, error) {
	switch cfg.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai", "":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		return embopenai.NewClient(embopenai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimensions: cfg.OpenAI.Dimensions,
		})
	}
	return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
}

func serveMetrics(addr string, zl *zap.Logger) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("metrics server stopped", zap.Error(err))
		}
	}()
	zl.Info("serving metrics", zap.String("addr", addr))
	return m
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
