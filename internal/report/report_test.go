package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/arkstatus/internal/models"
)

type fakeChannel struct {
	messages  map[string][]Message
	sendErr   error
	pinErr    error
	deleteErr error
	self      string
	nextID    int
	mu        sync.Mutex
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{messages: make(map[string][]Message), self: "bot"}
}

func (f *fakeChannel) Send(_ context.Context, channelID string, p Payload) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}
	f.nextID++
	m := Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID, AuthorID: f.self, Title: p.Title}
	f.messages[channelID] = append(f.messages[channelID], m)
	return m, nil
}

func (f *fakeChannel) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	msgs := f.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[channelID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrMessageNotFound
}

func (f *fakeChannel) Pin(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinErr != nil {
		return f.pinErr
	}
	for i, m := range f.messages[channelID] {
		if m.ID == messageID {
			f.messages[channelID][i].Pinned = true
			return nil
		}
	}
	return ErrMessageNotFound
}

func (f *fakeChannel) Fetch(_ context.Context, channelID, messageID string) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

func (f *fakeChannel) History(_ context.Context, channelID string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]Message(nil), f.messages[channelID]...)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeChannel) SelfID() string { return f.self }

func (f *fakeChannel) live(channelID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[channelID]...)
}

func sampleReport() models.TenantReport {
	return models.TenantReport{
		TenantID:    "guild",
		GeneratedAt: time.Unix(1700000000, 0).UTC(),
		Severity:    models.SeverityWarning,
		Records: []models.ResourceStatusRecord{
			{ResourceID: "a", DisplayName: "Island", MapName: "TheIsland", RawStatus: "started", PlayerCount: 5, MaxPlayers: 10, Health: models.HealthHealthy, CountryCode: "de"},
			{ResourceID: "b", DisplayName: "Server b", MapName: "Unknown", RawStatus: "restarting", PlayerCount: 0, MaxPlayers: 20, Health: models.HealthTransitioning},
		},
	}
}

func TestRenderReport(t *testing.T) {
	p := Renderer{Interval: 10 * time.Minute}.Render(sampleReport())

	assert.Equal(t, Title, p.Title)
	assert.Equal(t, ColorYellow, p.Color)
	assert.Equal(t, "Last updated: <t:1700000000:R>", p.Description)
	assert.Equal(t, "Auto-updated every 10 minutes", p.Footer)

	require.Len(t, p.Fields, 3, "two records separated by one spacer")
	assert.Equal(t, "Island", p.Fields[0].Name)
	assert.Contains(t, p.Fields[0].Value, "🆔 ID: `a`")
	assert.Contains(t, p.Fields[0].Value, "🧍 Players: `5/10`")
	assert.Contains(t, p.Fields[0].Value, "🟢 Status: `started`")
	assert.Contains(t, p.Fields[0].Value, "🇩🇪 `DE`")
	assert.Equal(t, "\u200b", p.Fields[1].Name)
	assert.Contains(t, p.Fields[2].Value, "🧍 Players: `0/20`")
	assert.Contains(t, p.Fields[2].Value, "🟡 Status: `restarting`")
	assert.NotContains(t, p.Fields[2].Value, "Region")
}

func TestRenderSentinelAndColors(t *testing.T) {
	p := Renderer{Interval: time.Hour}.Render(models.TenantReport{
		Notice:   "❌ No token configured.",
		Severity: models.SeverityCritical,
	})

	assert.Equal(t, ColorRed, p.Color)
	assert.True(t, strings.HasPrefix(p.Description, "❌ No token configured."))
	assert.Empty(t, p.Fields)
	assert.Equal(t, "Auto-updated every hour", p.Footer)

	assert.Equal(t, ColorGreen, SeverityColor(models.SeverityNominal))
}

func TestRenderFieldLimit(t *testing.T) {
	var rep models.TenantReport
	for i := range 30 {
		rec := models.ResourceStatusRecord{ResourceID: fmt.Sprint(i), DisplayName: fmt.Sprint(i), Health: models.HealthHealthy}
		if i >= 26 {
			rec.Health = models.HealthUnreachable
		}
		rep.Records = append(rep.Records, rec)
	}

	p := Renderer{}.Render(rep)
	require.Len(t, p.Fields, maxFields)
	assert.Equal(t, "0", p.Fields[0].Name)
	assert.Equal(t, "1", p.Fields[1].Name, "no spacers once records do not fit")
	assert.Equal(t, "23", p.Fields[maxFields-2].Name)

	last := p.Fields[maxFields-1]
	assert.Equal(t, "…and 6 more servers (4 unreachable)", last.Name)
	assert.Equal(t, "24, 25, 26, 27, 28, 29", last.Value)
}

func TestRenderAllRecordsFit(t *testing.T) {
	var rep models.TenantReport
	for i := range maxFields {
		rep.Records = append(rep.Records, models.ResourceStatusRecord{ResourceID: fmt.Sprint(i), DisplayName: fmt.Sprint(i)})
	}

	p := Renderer{}.Render(rep)
	require.Len(t, p.Fields, maxFields)
	assert.Equal(t, "24", p.Fields[maxFields-1].Name)
}

func TestPublishReplacesPriorMessage(t *testing.T) {
	ch := newFakeChannel()
	pub := NewPublisher(ch, Renderer{Interval: 10 * time.Minute}, false)

	first, err := pub.Publish(context.Background(), sampleReport(), "chan", models.PublishedMessageHandle{})
	require.NoError(t, err)
	require.True(t, first.IsSet())

	second, err := pub.Publish(context.Background(), sampleReport(), "chan", first)
	require.NoError(t, err)

	msgs := ch.live("chan")
	require.Len(t, msgs, 1)
	assert.Equal(t, second.MessageID, msgs[0].ID)
	assert.True(t, msgs[0].Pinned)
	assert.NotEqual(t, first.MessageID, second.MessageID)

	live, err := pub.Live(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestPublishToleratesDeleteFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.deleteErr = ErrForbidden
	pub := NewPublisher(ch, Renderer{}, false)

	handle, err := pub.Publish(context.Background(), sampleReport(), "chan",
		models.PublishedMessageHandle{ChannelID: "chan", MessageID: "gone"})
	require.NoError(t, err)
	assert.True(t, handle.IsSet())
	assert.Len(t, ch.live("chan"), 1)
}

func TestPublishSendFailureLeavesHandleUnset(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errors.New("503")
	pub := NewPublisher(ch, Renderer{}, false)

	handle, err := pub.Publish(context.Background(), sampleReport(), "chan", models.PublishedMessageHandle{})
	require.ErrorIs(t, err, ErrPublish)
	assert.False(t, handle.IsSet())
	assert.Equal(t, "guild", handle.TenantID)
}

func TestPublishPinFailureKeepsHandle(t *testing.T) {
	ch := newFakeChannel()
	ch.pinErr = ErrForbidden
	pub := NewPublisher(ch, Renderer{}, false)

	handle, err := pub.Publish(context.Background(), sampleReport(), "chan", models.PublishedMessageHandle{})
	require.NoError(t, err)
	assert.True(t, handle.IsSet())
}

func TestPublishSentinelSendsOneMessage(t *testing.T) {
	ch := newFakeChannel()
	pub := NewPublisher(ch, Renderer{}, false)

	_, err := pub.Publish(context.Background(), models.TenantReport{TenantID: "g", Notice: "⚠️ No servers configured for this guild.", Severity: models.SeverityWarning}, "chan", models.PublishedMessageHandle{})
	require.NoError(t, err)
	assert.Len(t, ch.live("chan"), 1)
}

func TestSweepRemovesOnlyOwnReports(t *testing.T) {
	ch := newFakeChannel()
	ch.messages["chan"] = []Message{
		{ID: "old-report", AuthorID: "bot", Title: Title},
		{ID: "user-post", AuthorID: "someone", Title: ""},
		{ID: "bot-other", AuthorID: "bot", Title: "Something else"},
	}
	pub := NewPublisher(ch, Renderer{}, true)

	handle, err := pub.Publish(context.Background(), sampleReport(), "chan", models.PublishedMessageHandle{})
	require.NoError(t, err)

	var ids []string
	for _, m := range ch.live("chan") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"user-post", "bot-other", handle.MessageID}, ids)
}

func TestRetractDeletesLiveMessage(t *testing.T) {
	ch := newFakeChannel()
	p := NewPublisher(ch, Renderer{Interval: 10 * time.Minute}, false)

	handle, err := p.Publish(context.Background(), models.TenantReport{TenantID: "t"}, "c", models.PublishedMessageHandle{})
	require.NoError(t, err)
	require.Len(t, ch.messages["c"], 1)

	p.Retract(context.Background(), handle)
	assert.Empty(t, ch.messages["c"])

	p.Retract(context.Background(), models.PublishedMessageHandle{})
}
