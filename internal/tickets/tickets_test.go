package tickets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardia/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlatform struct {
	mu       sync.Mutex
	created  []string
	deleted  []string
	messages []string

	failCreate bool
}

func (p *fakePlatform) CreateTicketChannel(guildID, categoryID, name string, memberID, supportRoleID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate {
		return "", errors.New("missing permissions")
	}
	p.created = append(p.created, name)
	return "chan-" + name, nil
}

func (p *fakePlatform) SendMessage(channelID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, content)
	return nil
}

func (p *fakePlatform) DeleteChannel(channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, channelID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakePlatform, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	platform := &fakePlatform{}
	manager := NewManager(store, platform, zap.NewNop(), "ticket-", 5*time.Second)
	manager.afterFunc = func(d time.Duration, f func()) { f() }
	return manager, platform, store
}

func TestOpenTicket(t *testing.T) {
	manager, platform, _ := newTestManager(t)
	ctx := context.Background()

	ticket, err := manager.Open(ctx, "g1", "u1", "Ana López", "no puedo escribir")
	require.NoError(t, err)
	require.Equal(t, "chan-ticket-ana-lpez", ticket.ChannelID)
	require.Equal(t, storage.TicketStatusOpen, ticket.Status)
	require.NotEmpty(t, ticket.ID)
	require.Equal(t, []string{"ticket-ana-lpez"}, platform.created)
	require.Len(t, platform.messages, 1)
	require.Contains(t, platform.messages[0], "<@u1>")
	require.Contains(t, platform.messages[0], "no puedo escribir")
}

func TestOpenTicketOnlyOnePerCreator(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)

	_, err = manager.Open(ctx, "g1", "u1", "ana", "")
	require.ErrorIs(t, err, ErrAlreadyOpen)

	// Other guilds are independent.
	_, err = manager.Open(ctx, "g2", "u1", "ana", "")
	require.NoError(t, err)
}

func staffActor(id string) Actor {
	return Actor{ID: id, ManageChannels: true}
}

func TestClaimTicket(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	ticket, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)

	claimed, err := manager.Claim(ctx, "g1", ticket.ChannelID, staffActor("staff1"))
	require.NoError(t, err)
	require.Equal(t, "staff1", claimed.ClaimedBy)

	_, err = manager.Claim(ctx, "g1", ticket.ChannelID, staffActor("staff2"))
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	_, err = manager.Claim(ctx, "g1", "not-a-ticket", staffActor("staff1"))
	require.ErrorIs(t, err, ErrNotTicketChannel)
}

func TestClaimRequiresSupportRole(t *testing.T) {
	manager, _, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertGuildSettings(ctx, storage.GuildSettings{GuildID: "g1", SupportRoleID: "r-support"}))

	ticket, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)

	// A random member cannot claim, not even the creator.
	_, err = manager.Claim(ctx, "g1", ticket.ChannelID, Actor{ID: "u1"})
	require.ErrorIs(t, err, ErrNotSupport)

	claimed, err := manager.Claim(ctx, "g1", ticket.ChannelID, Actor{ID: "staff1", Roles: []string{"r-other", "r-support"}})
	require.NoError(t, err)
	require.Equal(t, "staff1", claimed.ClaimedBy)
}

func TestCloseTicketDeletesChannel(t *testing.T) {
	manager, platform, _ := newTestManager(t)
	ctx := context.Background()

	ticket, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)

	closed, err := manager.Close(ctx, "g1", ticket.ChannelID, Actor{ID: "u1"})
	require.NoError(t, err)
	require.Equal(t, storage.TicketStatusClosed, closed.Status)
	require.Equal(t, []string{ticket.ChannelID}, platform.deleted)

	_, err = manager.Close(ctx, "g1", ticket.ChannelID, Actor{ID: "u1"})
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestCloseAuthorization(t *testing.T) {
	manager, platform, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertGuildSettings(ctx, storage.GuildSettings{GuildID: "g1", SupportRoleID: "r-support"}))

	ticket, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)

	// A bystander without support role or channel permissions is refused.
	_, err = manager.Close(ctx, "g1", ticket.ChannelID, Actor{ID: "stranger"})
	require.ErrorIs(t, err, ErrNotAllowed)
	require.Empty(t, platform.deleted)

	// A support member closes someone else's ticket.
	_, err = manager.Close(ctx, "g1", ticket.ChannelID, Actor{ID: "staff1", Roles: []string{"r-support"}})
	require.NoError(t, err)

	// A channel manager closes too.
	second, err := manager.Open(ctx, "g1", "u2", "bob", "")
	require.NoError(t, err)
	_, err = manager.Close(ctx, "g1", second.ChannelID, Actor{ID: "admin", ManageChannels: true})
	require.NoError(t, err)
}

func TestRateTicket(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Rate(ctx, "g1", "u1", 5)
	require.ErrorIs(t, err, ErrNoClosedTicket)

	ticket, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.NoError(t, err)
	_, err = manager.Close(ctx, "g1", ticket.ChannelID, Actor{ID: "u1"})
	require.NoError(t, err)

	_, err = manager.Rate(ctx, "g1", "u1", 0)
	require.ErrorIs(t, err, ErrBadRating)
	_, err = manager.Rate(ctx, "g1", "u1", 6)
	require.ErrorIs(t, err, ErrBadRating)

	rated, err := manager.Rate(ctx, "g1", "u1", 4)
	require.NoError(t, err)
	require.Equal(t, 4, rated.Rating)
}

func TestOpenTicketChannelFailure(t *testing.T) {
	manager, platform, store := newTestManager(t)
	platform.failCreate = true
	ctx := context.Background()

	_, err := manager.Open(ctx, "g1", "u1", "ana", "")
	require.Error(t, err)

	// Nothing persisted, the user can retry.
	_, exists, err := store.GetOpenTicketByCreator(ctx, "g1", "u1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestChannelSlug(t *testing.T) {
	require.Equal(t, "ana-lpez", channelSlug("Ana López"))
	require.Equal(t, "user-42", channelSlug("user_42"))
	require.Equal(t, "usuario", channelSlug("日本語"))
}
