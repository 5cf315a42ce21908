package music

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Bot holds the per-guild playback state. Playback events for a single guild
// arrive serially from the transport layer, so the queue mutex is only
// defending against cross-guild sharing of the store, not reentrancy here.
type Bot struct {
	GuildID string
	Session *discordgo.Session
	Queue   *Queue
	Request RequestContext // who created this session
}

// NewBot creates a new Bot instance for a guild.
func NewBot(guildID string, session *discordgo.Session, req RequestContext) *Bot {
	return &Bot{
		GuildID: guildID,
		Session: session,
		Queue:   NewQueue(),
		Request: req,
	}
}

// Manager tracks Bot instances per guild.
type Manager struct {
	bots map[string]*Bot
	mu   sync.RWMutex
}

// NewManager creates a new manager.
func NewManager() *Manager {
	return &Manager{bots: make(map[string]*Bot)}
}

// GetBot gets or creates a bot for a guild.
func (m *Manager) GetBot(guildID string, session *discordgo.Session, req RequestContext) *Bot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bot, exists := m.bots[guildID]; exists {
		return bot
	}

	bot := NewBot(guildID, session, req)
	m.bots[guildID] = bot
	return bot
}

// LookupBot returns the bot for a guild if one exists.
func (m *Manager) LookupBot(guildID string) (*Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[guildID]
	return bot, ok
}

// RemoveBot removes a guild's bot (cleanup on disconnect).
func (m *Manager) RemoveBot(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bots, guildID)
}
