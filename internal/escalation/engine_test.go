package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardia/internal/config"
	"guardia/internal/modlog"
	"guardia/internal/storage"

	"go.uber.org/zap"
)

type fakeTimer struct {
	stopped bool
	fn      func()
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{fn: fn}
	f.timers = append(f.timers, timer)
	f.delays = append(f.delays, d)
	return timer
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []*fakeTimer
	var remaining []*fakeTimer
	var remainingDelays []time.Duration
	for i, timer := range f.timers {
		if f.delays[i] <= d && !timer.stopped {
			due = append(due, timer)
			continue
		}
		remaining = append(remaining, timer)
		remainingDelays = append(remainingDelays, f.delays[i])
	}
	f.timers = remaining
	f.delays = remainingDelays
	f.mu.Unlock()
	for _, timer := range due {
		timer.fn()
	}
}

type fakeGuild struct {
	mu          sync.Mutex
	roles       []Role
	channels    []Channel
	memberRoles map[string]map[string]bool
	memberGone  map[string]bool

	deleted      []string
	notices      []string
	overrides    []string
	createdRoles int
	removedRoles []string

	failCreateRole bool
	failAddRole    bool
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		channels:    []Channel{{ID: "text1"}, {ID: "text2"}, {ID: "voice1", Voice: true}},
		memberRoles: make(map[string]map[string]bool),
		memberGone:  make(map[string]bool),
	}
}

func (g *fakeGuild) DeleteMessage(channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGuild) SendMessage(channelID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notices = append(g.notices, content)
	return nil
}

func (g *fakeGuild) Roles(guildID string) ([]Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Role{}, g.roles...), nil
}

func (g *fakeGuild) CreateMutedRole(guildID, name string) (Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreateRole {
		return Role{}, errors.New("missing permissions")
	}
	g.createdRoles++
	role := Role{ID: "created-muted", Name: name}
	g.roles = append(g.roles, role)
	return role, nil
}

func (g *fakeGuild) Channels(guildID string) ([]Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Channel{}, g.channels...), nil
}

func (g *fakeGuild) DenyRoleOnChannel(channelID, roleID string, voice bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides = append(g.overrides, channelID)
	return nil
}

func (g *fakeGuild) AddRole(guildID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAddRole {
		return errors.New("missing permissions")
	}
	if g.memberRoles[userID] == nil {
		g.memberRoles[userID] = make(map[string]bool)
	}
	g.memberRoles[userID][roleID] = true
	return nil
}

func (g *fakeGuild) RemoveRole(guildID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedRoles = append(g.removedRoles, userID+":"+roleID)
	delete(g.memberRoles[userID], roleID)
	return nil
}

func (g *fakeGuild) MemberHasRole(guildID, userID, roleID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.memberGone[userID] {
		return false, nil
	}
	return g.memberRoles[userID][roleID], nil
}

func (g *fakeGuild) hasRole(userID, roleID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memberRoles[userID][roleID]
}

func testModerationConfig() config.ModerationConfig {
	return config.ModerationConfig{
		SpamWindowSeconds:   5,
		SpamCountThreshold:  5,
		RepetitionThreshold: 3,
		MaxWarnings:         3,
		MuteDurationSeconds: 600,
		MuteRoleName:        "Muted",
	}
}

type testHarness struct {
	store  *storage.Store
	guild  *fakeGuild
	engine *Engine
	clock  *fakeClock

	mu     sync.Mutex
	events []modlog.Event
}

func (h *testHarness) recorded() []modlog.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]modlog.Event{}, h.events...)
}

func (h *testHarness) lastAction() string {
	events := h.recorded()
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Action
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWithConfig(t, testModerationConfig())
}

func newHarnessWithConfig(t *testing.T, cfg config.ModerationConfig) *testHarness {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &testHarness{
		store: store,
		guild: newFakeGuild(),
		clock: &fakeClock{now: time.Unix(0, 0)},
	}
	sink := modlog.NewSink(store, zap.NewNop())
	sink.SetNotifier(func(ctx context.Context, event modlog.Event) {
		h.mu.Lock()
		h.events = append(h.events, event)
		h.mu.Unlock()
	})
	h.engine = NewEngine(store, h.guild, sink, zap.NewNop(), cfg, config.EmbedColors{}).WithClock(h.clock)
	return h
}

func testMessage(id string) Message {
	return Message{
		GuildID:    "g1",
		ChannelID:  "general",
		MessageID:  id,
		AuthorID:   "u1",
		AuthorName: "usuario",
	}
}

func TestViolationBelowThresholdWarns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome := h.engine.HandleViolation(ctx, testMessage("m1"), "Uso de palabra prohibida: 'tonto'")
	if outcome.Action != ActionWarned || outcome.Warnings != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(h.guild.deleted) != 1 || h.guild.deleted[0] != "m1" {
		t.Fatalf("offending message should be deleted, got %v", h.guild.deleted)
	}
	if len(h.guild.notices) != 1 {
		t.Fatalf("expected one warning notice, got %v", h.guild.notices)
	}
	if h.lastAction() != modlog.ActionWarn {
		t.Fatalf("expected warn event, got %q", h.lastAction())
	}

	record, err := h.store.GetWarnings(ctx, "g1", "u1")
	if err != nil || record.Count != 1 {
		t.Fatalf("expected one persisted warning, got %d err %v", record.Count, err)
	}
}

func TestThirdViolationMutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.HandleViolation(ctx, testMessage("m1"), "razón")
	h.engine.HandleViolation(ctx, testMessage("m2"), "razón")
	outcome := h.engine.HandleViolation(ctx, testMessage("m3"), "razón")

	if outcome.Action != ActionMuted || outcome.Warnings != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if h.guild.createdRoles != 1 {
		t.Fatalf("expected muted role creation, got %d", h.guild.createdRoles)
	}
	if len(h.guild.overrides) != 3 {
		t.Fatalf("expected overrides on every channel, got %v", h.guild.overrides)
	}
	if !h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("member should hold the muted role")
	}
	if h.lastAction() != modlog.ActionMute {
		t.Fatalf("expected mute event, got %q", h.lastAction())
	}
	if !h.engine.PendingUnmute("g1", "u1") {
		t.Fatalf("expected a scheduled unmute")
	}

	// Counter reset so the ladder starts over.
	record, err := h.store.GetWarnings(ctx, "g1", "u1")
	if err != nil || record.Count != 0 {
		t.Fatalf("expected reset counter, got %d err %v", record.Count, err)
	}

	// The role ID survives restarts through guild settings.
	settings, err := h.store.GetGuildSettings(ctx, "g1")
	if err != nil || settings.MuteRoleID != "created-muted" {
		t.Fatalf("expected persisted mute role, got %q err %v", settings.MuteRoleID, err)
	}
}

func TestMuteReusesStoredRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.guild.roles = []Role{{ID: "r-old", Name: "Muted"}}
	if err := h.store.UpsertGuildSettings(ctx, storage.GuildSettings{GuildID: "g1", MuteRoleID: "r-old"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}
	if h.guild.createdRoles != 0 {
		t.Fatalf("stored role should be reused, created %d", h.guild.createdRoles)
	}
	if !h.guild.hasRole("u1", "r-old") {
		t.Fatalf("member should hold the stored role")
	}
}

func TestMuteAdoptsRoleByName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// No stored ID, but a role with the configured name already exists.
	h.guild.roles = []Role{{ID: "r-existing", Name: "Muted"}}

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}
	if h.guild.createdRoles != 0 {
		t.Fatalf("existing role should be adopted, created %d", h.guild.createdRoles)
	}
	settings, err := h.store.GetGuildSettings(ctx, "g1")
	if err != nil || settings.MuteRoleID != "r-existing" {
		t.Fatalf("adopted role should be persisted, got %q err %v", settings.MuteRoleID, err)
	}
}

func TestMuteFailureKeepsCounterForRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.guild.failCreateRole = true

	h.engine.HandleViolation(ctx, testMessage("m1"), "razón")
	h.engine.HandleViolation(ctx, testMessage("m2"), "razón")
	outcome := h.engine.HandleViolation(ctx, testMessage("m3"), "razón")

	if outcome.Action != ActionMuteFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if h.lastAction() != modlog.ActionMuteFailed {
		t.Fatalf("expected mute_failed event, got %q", h.lastAction())
	}
	if h.engine.PendingUnmute("g1", "u1") {
		t.Fatalf("failed mute must not schedule an unmute")
	}

	record, err := h.store.GetWarnings(ctx, "g1", "u1")
	if err != nil || record.Count != 3 {
		t.Fatalf("counter should stay at the maximum, got %d err %v", record.Count, err)
	}

	// Once permissions are fixed the next violation retries the mute.
	h.guild.failCreateRole = false
	outcome = h.engine.HandleViolation(ctx, testMessage("m4"), "razón")
	if outcome.Action != ActionMuted {
		t.Fatalf("expected retry to mute, got %+v", outcome)
	}
}

func TestAutoUnmuteAfterDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}
	if !h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("member should be muted")
	}

	h.clock.Advance(600 * time.Second)

	if h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("member should be unmuted after the full duration")
	}
	if h.lastAction() != modlog.ActionUnmute {
		t.Fatalf("expected unmute event, got %q", h.lastAction())
	}
	if h.engine.PendingUnmute("g1", "u1") {
		t.Fatalf("timer should be consumed")
	}
}

func TestZeroDurationMutesIndefinitely(t *testing.T) {
	cfg := testModerationConfig()
	cfg.MuteDurationSeconds = 0
	h := newHarnessWithConfig(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}
	if !h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("member should be muted")
	}
	if h.engine.PendingUnmute("g1", "u1") {
		t.Fatalf("no unmute should be scheduled for an indefinite mute")
	}

	h.clock.Advance(24 * time.Hour)

	if !h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("indefinite mute must survive the clock advancing")
	}
	if h.lastAction() == modlog.ActionUnmute {
		t.Fatalf("no unmute event expected for an indefinite mute")
	}
}

func TestAutoUnmuteSkippedWhenRoleAlreadyRemoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}

	// A moderator removed the role by hand before the timer fired.
	_ = h.guild.RemoveRole("g1", "u1", "created-muted")
	removals := len(h.guild.removedRoles)

	h.clock.Advance(600 * time.Second)

	if len(h.guild.removedRoles) != removals {
		t.Fatalf("no extra removal expected, got %v", h.guild.removedRoles)
	}
	if h.lastAction() == modlog.ActionUnmute {
		t.Fatalf("no unmute event expected for an already-unmuted member")
	}
}

func TestCancelUnmute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.HandleViolation(ctx, testMessage("m"), "razón")
	}
	if !h.engine.CancelUnmute("g1", "u1") {
		t.Fatalf("expected a timer to cancel")
	}
	if h.engine.PendingUnmute("g1", "u1") {
		t.Fatalf("timer should be gone")
	}
	if h.engine.CancelUnmute("g1", "u1") {
		t.Fatalf("second cancel should report nothing to do")
	}

	h.clock.Advance(600 * time.Second)
	if !h.guild.hasRole("u1", "created-muted") {
		t.Fatalf("cancelled timer must not remove the role")
	}
}

func TestStorageFailureAbortsEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.Close()
	outcome := h.engine.HandleViolation(ctx, testMessage("m1"), "razón")
	if outcome.Action != ActionAborted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(h.guild.deleted) != 0 {
		t.Fatalf("no message should be deleted when the increment fails")
	}
	if len(h.guild.notices) != 0 {
		t.Fatalf("no notice should be sent when the increment fails")
	}
}
