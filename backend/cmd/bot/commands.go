package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"cadence/backend/internal/music"
	"cadence/backend/internal/music/dedupe"
	"cadence/backend/internal/music/history"
	"cadence/backend/internal/music/search"
	"cadence/backend/internal/ratelimit"
)

// commandHandler is the thin glue between slash commands and the playback
// engine. Command UX beyond play/skip lives elsewhere.
type commandHandler struct {
	bots     *music.Manager
	bus      *music.Bus
	search   *search.Manager
	detector *dedupe.Detector
	history  *history.Store
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

func newCommandHandler(bots *music.Manager, bus *music.Bus, searchMgr *search.Manager, detector *dedupe.Detector, hist *history.Store, limiter *ratelimit.Limiter, logger *zap.Logger) *commandHandler {
	return &commandHandler{
		bots:     bots,
		bus:      bus,
		search:   searchMgr,
		detector: detector,
		history:  hist,
		limiter:  limiter,
		logger:   logger,
	}
}

func (h *commandHandler) registerCommands(s *discordgo.Session) error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Search for a track and add it to the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "What to search for",
					Required:    true,
				},
			},
		},
		{
			Name:        "skip",
			Description: "Skip the current track",
		},
	}
	for _, cmd := range commands {
		if _, err := s.ApplicationCommandCreate(s.State.User.ID, "", cmd); err != nil {
			return fmt.Errorf("failed to register /%s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (h *commandHandler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := context.Background()
	switch i.ApplicationCommandData().Name {
	case "play":
		h.handlePlay(ctx, s, i)
	case "skip":
		h.handleSkip(ctx, s, i)
	}
}

func (h *commandHandler) handlePlay(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	query := i.ApplicationCommandData().Options[0].StringValue()
	userID := interactionUserID(i)

	res, err := h.limiter.CheckAndRecord(ctx, "search", userID)
	if err != nil {
		h.logger.Error("search rate rule misconfigured", zap.Error(err))
		respond(s, i, "something went wrong, please try again")
		return
	}
	if !res.Allowed {
		respond(s, i, fmt.Sprintf("you're searching too fast, try again in %s", res.RetryAfter.Round(time.Second)))
		return
	}

	bot := h.bots.GetBot(i.GuildID, s, music.RequestContext{
		UserID:    userID,
		ChannelID: i.ChannelID,
	})

	out := h.search.Resolve(ctx, search.Request{Query: query, Requester: userID})
	if !out.Succeeded() {
		respond(s, i, out.Message)
		return
	}

	track, ok := h.pickTrack(ctx, bot, out.Tracks)
	if !ok {
		respond(s, i, "everything I found was played recently, try a different search")
		return
	}

	bot.Queue.Add(track)
	respond(s, i, fmt.Sprintf("queued: %s - %s", track.Author, track.Title))

	// No active track means this one starts immediately.
	if bot.Queue.Current() == nil {
		if next := bot.Queue.Next(); next != nil {
			h.bus.Publish(ctx, music.TrackStarted, bot, *next)
		}
	}
}

// pickTrack returns the first search result that is not a duplicate of queue
// or recent history.
func (h *commandHandler) pickTrack(ctx context.Context, bot *music.Bot, tracks []music.Track) (music.Track, bool) {
	recent := h.history.GetRecent(ctx, bot.GuildID, 15)
	queueIDs := bot.Queue.UpcomingIDs()
	for _, t := range tracks {
		cc := dedupe.CheckContext{
			GuildID:   bot.GuildID,
			Candidate: t,
			QueueIDs:  queueIDs,
			Recent:    recent,
		}
		if !h.detector.IsDuplicate(ctx, cc) {
			return t, true
		}
	}
	return music.Track{}, false
}

func (h *commandHandler) handleSkip(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	bot, ok := h.bots.LookupBot(i.GuildID)
	if !ok || bot.Queue.Current() == nil {
		respond(s, i, "nothing is playing")
		return
	}

	skipped := *bot.Queue.Current()
	h.bus.Publish(ctx, music.TrackSkipped, bot, skipped)

	if next := bot.Queue.Next(); next != nil {
		h.bus.Publish(ctx, music.TrackStarted, bot, *next)
		respond(s, i, fmt.Sprintf("skipped, now playing: %s - %s", next.Author, next.Title))
		return
	}
	respond(s, i, "skipped, the queue is empty")
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}
