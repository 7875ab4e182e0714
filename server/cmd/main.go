package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/auth"
	"github.com/geraldfingburke/hmlr/server/internal/chunker"
	"github.com/geraldfingburke/hmlr/server/internal/config"
	"github.com/geraldfingburke/hmlr/server/internal/conversation"
	"github.com/geraldfingburke/hmlr/server/internal/crawler"
	"github.com/geraldfingburke/hmlr/server/internal/database"
	"github.com/geraldfingburke/hmlr/server/internal/dossier"
	"github.com/geraldfingburke/hmlr/server/internal/embedding"
	"github.com/geraldfingburke/hmlr/server/internal/factscrubber"
	"github.com/geraldfingburke/hmlr/server/internal/gardener"
	"github.com/geraldfingburke/hmlr/server/internal/governor"
	"github.com/geraldfingburke/hmlr/server/internal/graphql"
	"github.com/geraldfingburke/hmlr/server/internal/hydrator"
	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/notify"
	"github.com/geraldfingburke/hmlr/server/internal/profile"
	"github.com/geraldfingburke/hmlr/server/internal/scribe"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg := config.Load()

	db, err := database.NewDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.EmbeddingDim); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	mailer := notify.New(notify.Config{
		SMTPHost:  cfg.SMTPHost,
		SMTPPort:  cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		FromEmail: cfg.SMTPFromEmail,
		ToEmail:   cfg.OpsAlertEmail,
	}, log)

	llmClient := llm.NewClient(cfg)
	embedder := embedding.NewClient(cfg)

	profileStore, err := profile.NewStore(cfg.UserProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize user profile store")
	}

	chunkerEngine := chunker.NewEngine(embedder)
	scrubber := factscrubber.New(db, llmClient, log)
	scribeSvc := scribe.New(profileStore, llmClient, log)
	crawl := crawler.New(db, embedder, cfg.SimilarityThreshold)

	locker := gardener.NewLocker()
	gov := governor.New(db, llmClient, locker, mailer, log)
	hydrate := hydrator.New(db)

	dossierRetriever := dossier.NewRetriever(db, crawl)
	dossierGov := dossier.New(db, llmClient, embedder, crawl, cfg.VotingTopK, cfg.SimilarityThreshold, log)

	gard := gardener.New(db, llmClient, dossierGov, locker, log)
	sched := gardener.NewScheduler(db, gard, cfg.GardenSweepInterval, cfg.GardenAgeThreshold, mailer, log)

	engine := conversation.New(conversation.Deps{
		DB:            db,
		Chunker:       chunkerEngine,
		Scrubber:      scrubber,
		Scribe:        scribeSvc,
		Crawler:       crawl,
		Governor:      gov,
		Hydrator:      hydrate,
		DossierSearch: dossierRetriever,
		Profile:       profileStore,
		Generator:     conversation.NewLLMGenerator(llmClient),
		Gardener:      gard,
		RetrievalTopK: cfg.RetrievalTopK,
		DossierTopK:   cfg.DossierRetrievalTopK,
		Log:           log,
	})

	authSvc := auth.NewService(cfg.JWTSecret)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/auth/register", registerHandler(db, authSvc))
	r.Post("/auth/login", loginHandler(db, authSvc))

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(authSvc))

		r.Post("/message", messageHandler(engine))
		r.Post("/reset", resetHandler(engine))

		gqlHandler, err := graphql.Handler(db, profileStore, sched, gard)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create graphql handler")
		}
		r.Handle("/graphql", gqlHandler)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	sched.Start()

	go func() {
		log.Info().Str("port", port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
