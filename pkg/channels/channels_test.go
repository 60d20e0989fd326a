package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	open := NewBaseChannel("discord", bus.NewMessageBus(), nil)
	assert.True(t, open.IsAllowed("anyone"))

	c := NewBaseChannel("discord", bus.NewMessageBus(), []string{"123", "@maria"})
	assert.True(t, c.IsAllowed("123"))
	assert.True(t, c.IsAllowed("123|someone"))
	assert.True(t, c.IsAllowed("999|maria"))
	assert.False(t, c.IsAllowed("456"))
}

func TestUserSlot(t *testing.T) {
	assert.Equal(t, "discord:42", UserSlot("discord", "42|sam"))
	assert.Equal(t, "discord:42", UserSlot("discord", "42"))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 100))

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
		assert.False(t, strings.HasSuffix(c, " "))
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(chunks, " ")))
}

type fakeSession struct {
	mu    sync.Mutex
	sent  []string
	typed int
}

func (f *fakeSession) AddHandler(handler interface{}) func() { return func() {} }
func (f *fakeSession) Open() error                           { return nil }
func (f *fakeSession) Close() error                          { return nil }
func (f *fakeSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: "bot", Username: "companion"}, nil
}
func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channelID+"|"+content)
	return &discordgo.Message{}, nil
}
func (f *fakeSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed++
	return nil
}

func TestDiscordChannel_InboundAndOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	sess := &fakeSession{}
	ch := newDiscordChannel(sess, config.DiscordConfig{AllowFrom: config.FlexibleStringSlice{"42"}}, mb)
	require.NoError(t, ch.Start(context.Background()))

	ch.handleMessage(&discordgo.Message{ID: "m0", ChannelID: "c1", Content: "ignored", Author: &discordgo.User{ID: "7"}})
	ch.handleMessage(&discordgo.Message{ID: "m1", ChannelID: "c1", Content: "<@bot> hello there", Author: &discordgo.User{ID: "42", Username: "sam"}})
	ch.handleMessage(&discordgo.Message{ID: "m2", ChannelID: "c1", Content: "loop", Author: &discordgo.User{ID: "bot"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "hello there", msg.Content)
	assert.Equal(t, "discord:42", msg.UserID)
	assert.Equal(t, "sam", msg.Metadata["username"])
	assert.Equal(t, 0, mb.Stats().InboundQueued)

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi Sam"}))
	sess.mu.Lock()
	assert.Equal(t, []string{"c1|hi Sam"}, sess.sent)
	assert.GreaterOrEqual(t, sess.typed, 1)
	sess.mu.Unlock()

	require.NoError(t, ch.Stop(context.Background()))
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "c1", Content: "late"}))
}

type recordingChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (r *recordingChannel) Start(ctx context.Context) error { r.setRunning(true); return nil }
func (r *recordingChannel) Stop(ctx context.Context) error  { r.setRunning(false); return nil }
func (r *recordingChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func TestManager_DispatchesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	m, err := NewManager(config.DefaultConfig(), mb)
	require.NoError(t, err)
	assert.Empty(t, m.EnabledChannels())

	rec := &recordingChannel{BaseChannel: NewBaseChannel("test", mb, nil)}
	m.RegisterChannel(rec)
	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, map[string]bool{"test": true}, m.Status())

	mb.PublishOutbound(bus.OutboundMessage{Channel: "test", ChatID: "c", Content: "hello"})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "nowhere", ChatID: "c", Content: "dropped"})

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.sent) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.StopAll(context.Background()))
	assert.False(t, rec.IsRunning())
}

func TestDiscordChannel_GuildMessagesNeedMention(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := newDiscordChannel(&fakeSession{}, config.DiscordConfig{}, mb)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	ch.handleMessage(&discordgo.Message{ID: "g1", GuildID: "guild", ChannelID: "c2", Content: "just chatting", Author: &discordgo.User{ID: "5"}})
	assert.Equal(t, 0, mb.Stats().InboundQueued)

	ch.handleMessage(&discordgo.Message{ID: "g2", GuildID: "guild", ChannelID: "c2", Content: "<@!bot> remember my cat Miso", Author: &discordgo.User{ID: "5", Username: "ana"}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "remember my cat Miso", msg.Content)
	assert.Equal(t, "5|ana", msg.SenderID)
	assert.Equal(t, "false", msg.Metadata["is_dm"])
}

func TestTypingIndicator_RefCounts(t *testing.T) {
	var mu sync.Mutex
	pings := 0
	ti := newTypingIndicator(time.Hour, func(string) {
		mu.Lock()
		pings++
		mu.Unlock()
	})

	ti.begin("c1")
	ti.begin("c1")
	ti.begin("")
	assert.True(t, ti.active("c1"))

	ti.end("c1")
	assert.True(t, ti.active("c1"))
	ti.end("c1")
	assert.False(t, ti.active("c1"))
	ti.end("c1")

	ti.begin("c2")
	ti.stopAll()
	assert.False(t, ti.active("c2"))

	mu.Lock()
	assert.Equal(t, 2, pings)
	mu.Unlock()
}
