package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	// Discord rejects messages over 2000 characters.
	discordChunkLimit = 1800
)

// discordSession is the subset of *discordgo.Session the companion uses.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// DiscordChannel lets people talk to the companion in DMs, or in a server
// channel by mentioning the bot. Each Discord user gets their own companion
// slot.
type DiscordChannel struct {
	*BaseChannel
	session discordSession
	botID   string
	typing  *typingIndicator
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return newDiscordChannel(session, cfg, messageBus), nil
}

func newDiscordChannel(session discordSession, cfg config.DiscordConfig, messageBus *bus.MessageBus) *DiscordChannel {
	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, cfg.AllowFrom),
		session:     session,
	}
	c.typing = newTypingIndicator(typingRefreshInterval, c.ping)
	return c
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m != nil && m.Message != nil {
			c.handleMessage(m.Message)
		}
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	me, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("resolve discord bot user: %w", err)
	}
	c.botID = me.ID
	c.setRunning(true)

	logger.InfoCF("discord", "Companion connected to Discord", map[string]interface{}{
		"bot":    me.Username,
		"bot_id": me.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	c.typing.stopAll()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	logger.InfoC("discord", "Companion disconnected from Discord")
	return nil
}

// Send delivers a companion reply, split to fit Discord's message limit.
func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("discord reply has no channel id")
	}
	defer c.typing.end(msg.ChatID)

	for i, chunk := range splitMessage(msg.Content, discordChunkLimit) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := c.session.ChannelMessageSend(msg.ChatID, chunk, discordgo.WithContext(sendCtx))
		cancel()
		if err != nil {
			return fmt.Errorf("send discord reply part %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *DiscordChannel) ping(chatID string) {
	if !c.IsRunning() {
		return
	}
	if err := c.session.ChannelTyping(chatID); err != nil {
		logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

// handleMessage forwards a human message to the companion. Server channel
// messages count only when they mention the bot.
func (c *DiscordChannel) handleMessage(m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botID {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && !mentions(m.Content, c.botID) {
		return
	}

	sender := m.Author.ID
	if m.Author.Username != "" {
		sender += "|" + m.Author.Username
	}
	if !c.IsAllowed(sender) {
		logger.DebugCF("discord", "Sender not on allow list", map[string]interface{}{
			"sender": sender,
		})
		return
	}

	text := strings.TrimSpace(stripMention(m.Content, c.botID))
	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
		"is_dm":      strconv.FormatBool(isDM),
	}
	if c.HandleMessage(sender, m.ChannelID, text, metadata) {
		c.typing.begin(m.ChannelID)
	}
}

func mentions(content, botID string) bool {
	return botID != "" && (strings.Contains(content, "<@"+botID+">") || strings.Contains(content, "<@!"+botID+">"))
}

func stripMention(content, botID string) string {
	if botID == "" {
		return content
	}
	return strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(content)
}

// splitMessage cuts content into chunks of at most limit bytes at the last
// paragraph, line or word break in the second half of each window.
func splitMessage(content string, limit int) []string {
	var out []string
	rest := strings.TrimSpace(content)
	for len(rest) > limit {
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if idx := strings.LastIndex(rest[:limit], sep); idx >= limit/2 {
				cut = idx
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		out = append(out, strings.TrimSpace(rest[:cut]))
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}
