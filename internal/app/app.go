package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/contextasm"
	"github.com/nebulus/gantry/internal/data/db"
	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/handlers"
	"github.com/nebulus/gantry/internal/ingest"
	"github.com/nebulus/gantry/internal/jobs"
	"github.com/nebulus/gantry/internal/kg"
	"github.com/nebulus/gantry/internal/observability"
	"github.com/nebulus/gantry/internal/orchestrator"
	"github.com/nebulus/gantry/internal/persona"
	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/neo4jdb"
	"github.com/nebulus/gantry/internal/platform/openai"
	"github.com/nebulus/gantry/internal/platform/vectorindex"
	"github.com/nebulus/gantry/internal/retrieval"
	"github.com/nebulus/gantry/internal/server"
	"github.com/nebulus/gantry/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine

	Queue  jobs.Queue
	Worker *jobs.Worker
	Neo4j  *neo4jdb.Client

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "gantry",
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
	})

	gdb, err := db.Open(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	index, err := vectorindex.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector index: %w", err)
	}
	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("neo4j init failed (graph mirror disabled)", "error", err)
		neo = nil
	}
	queue, err := jobs.NewQueue(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init job queue: %w", err)
	}
	ai, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	conversationRepo := repos.NewConversationRepo(gdb, log)
	messageRepo := repos.NewMessageRepo(gdb, log)
	generationRepo := repos.NewGenerationRepo(gdb, log)
	chunkRepo := repos.NewChunkRepo(gdb, log)
	documentRepo := repos.NewDocumentRepo(gdb, log)
	graphRepo := repos.NewGraphRepo(gdb, log)

	personas := persona.LoadRegistry(log)
	ingestor := ingest.NewIngestor(chunkRepo, index, ai, log)
	retriever := retrieval.NewRetriever(chunkRepo, index, ai, log)
	graphEngine := kg.NewEngine(graphRepo, ai, neo, log)
	assembler := contextasm.NewAssembler(messageRepo, retriever, graphEngine, personas, log)
	summarizer := contextasm.NewSummarizer(gdb, conversationRepo, messageRepo, ai, log)
	orch := orchestrator.New(gdb, messageRepo, generationRepo, ai, queue, log)

	chatService := services.NewChatService(gdb, conversationRepo, messageRepo, generationRepo, chunkRepo, index, assembler, orch, personas, log)
	documentService := services.NewDocumentService(gdb, documentRepo, chunkRepo, index, retriever, queue, log)

	worker := jobs.NewWorker(queue, log)
	jobs.NewPostProcessor(conversationRepo, messageRepo, generationRepo, documentRepo, ingestor, graphEngine, summarizer, log).Register(worker)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:     handlers.NewChatHandler(log, chatService),
		DocumentHandler: handlers.NewDocumentHandler(log, documentService),
		PersonaHandler:  handlers.NewPersonaHandler(personas),
	})

	return &App{
		Log:          log,
		DB:           gdb,
		Router:       router,
		Queue:        queue,
		Worker:       worker,
		Neo4j:        neo,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Worker.Start(ctx, envutil.Int("JOB_WORKERS", 2))
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + envutil.Str("PORT", "8080")
	a.Log.Info("listening", "addr", addr)
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Worker.Wait()
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.Neo4j != nil {
		_ = a.Neo4j.Close(context.Background())
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
