package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/backend/internal/kvstore"
	"cadence/backend/internal/music"
	"cadence/backend/internal/music/autoplay"
	"cadence/backend/internal/music/dedupe"
	"cadence/backend/internal/music/history"
	"cadence/backend/internal/music/search"
	"cadence/backend/internal/ratelimit"
	"cadence/backend/pkg/config"
	"cadence/backend/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Discord bot...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	if cfg.DiscordBotToken == "" {
		log.Fatal("DISCORD_BOT_TOKEN is required")
	}

	// Open the key-value store, degrading to in-memory when the file store
	// cannot be opened. History and rate limits then reset on restart.
	store, closeStore := openStore(cfg, log)
	defer closeStore()

	// Wire the playback engine
	hist := history.NewStore(store, log.Named("history"), history.Options{
		MaxSize:     cfg.MaxHistorySize,
		HistoryTTL:  cfg.HistoryTTL,
		MetadataTTL: cfg.MetadataTTL,
	})
	detector := dedupe.NewDetector(hist, log.Named("dedupe"), dedupe.Options{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MinTitleLength:      cfg.MinTitleLength,
		SimilarityWindow:    cfg.HistoryCheckLen,
	})
	engines := []search.Engine{
		search.NewYouTubeEngine(),
		search.NewYouTubeMusicEngine(),
		search.NewSoundCloudEngine(),
	}
	searchMgr := search.NewManager(engines, search.NewClassifier(search.DefaultRules()), log.Named("search"), search.ManagerOptions{
		MaxRetries:     cfg.SearchMaxRetries,
		RetryDelay:     cfg.SearchRetryDelay,
		AttemptTimeout: cfg.SearchAttemptTimeout,
		TotalTimeout:   cfg.SearchTotalTimeout,
	})
	limiter := ratelimit.NewLimiter(store, log.Named("ratelimit"),
		ratelimit.Rule{Name: autoplay.RuleName, Window: time.Minute, MaxRequests: 10},
		ratelimit.Rule{Name: "search", Window: time.Minute, MaxRequests: 30},
	)

	var suggester autoplay.QuerySuggester
	if cfg.OpenRouterAPIKey != "" {
		suggester = autoplay.NewSuggester(cfg.LiteLLMURL, cfg.OpenRouterAPIKey, cfg.ModelID, log.Named("suggest"))
		log.Info("LLM query suggester enabled", zap.String("model", cfg.ModelID))
	}

	replenisher := autoplay.NewReplenisher(hist, searchMgr, detector, limiter, log.Named("autoplay"), autoplay.Options{
		LowWater:   cfg.QueueLowWater,
		ArtistBias: cfg.AutoplayArtistBias,
		Suggester:  suggester,
	})

	bots := music.NewManager()
	bus := music.NewBus(log.Named("events"))

	// Started tracks enter history and get metadata derived for future
	// related-query seeds.
	bus.Subscribe(music.TrackStarted, func(ctx context.Context, bot *music.Bot, track music.Track) {
		hist.AddEntry(ctx, bot.GuildID, track)
		hist.EnsureMetadata(ctx, track)
	})

	// Every lifecycle transition is a chance to top the queue back up.
	refill := func(ctx context.Context, bot *music.Bot, track music.Track) {
		replenisher.Replenish(ctx, bot.GuildID, bot.Queue)
	}
	bus.Subscribe(music.TrackStarted, refill)
	bus.Subscribe(music.TrackFinished, refill)
	bus.Subscribe(music.TrackSkipped, refill)

	// Create Discord session
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", zap.Error(err))
	}

	commands := newCommandHandler(bots, bus, searchMgr, detector, hist, limiter, log.Named("commands"))
	dg.AddHandler(commands.handleInteraction)
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if err := commands.registerCommands(s); err != nil {
			log.Error("Failed to register slash commands", zap.Error(err))
		}
	})

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildVoiceStates

	// Open connection
	if err := dg.Open(); err != nil {
		log.Fatal("Failed to open Discord connection", zap.Error(err))
	}
	defer dg.Close()

	log.Info("Discord bot is running. Press CTRL-C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Discord bot...")
}

// openStore opens the configured SQLite store, falling back to the in-memory
// store when the file cannot be opened.
func openStore(cfg *config.Config, log *zap.Logger) (kvstore.Store, func()) {
	sqlStore, err := kvstore.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		log.Warn("Failed to open durable store, using in-memory fallback",
			zap.String("path", cfg.StorePath),
			zap.Error(err),
		)
		return kvstore.NewMemoryStore(), func() {}
	}
	log.Info("Durable store opened", zap.String("path", cfg.StorePath))
	return sqlStore, func() {
		if err := sqlStore.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}
}
