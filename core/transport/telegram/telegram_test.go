package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/menubot/core/dispatch"
	"github.com/m3rciful/menubot/core/engine"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	require.NoError(t, err)
	return b
}

func TestNormalize(t *testing.T) {
	b := offlineBot(t)
	user := &tele.User{ID: 42}
	chat := &tele.Chat{ID: 42}

	tests := []struct {
		name string
		upd  tele.Update
		want engine.Event
		ok   bool
	}{
		{
			name: "text",
			upd:  tele.Update{ID: 1, Message: &tele.Message{Sender: user, Chat: chat, Text: "  English "}},
			want: engine.Event{UserID: "42", Kind: engine.KindText, Payload: "English"},
			ok:   true,
		},
		{
			name: "start command",
			upd:  tele.Update{ID: 2, Message: &tele.Message{Sender: user, Chat: chat, Text: "/start"}},
			want: engine.Event{UserID: "42", Kind: engine.KindRestart},
			ok:   true,
		},
		{
			name: "restart addressed to bot",
			upd:  tele.Update{ID: 3, Message: &tele.Message{Sender: user, Chat: chat, Text: "/restart@zp_bot"}},
			want: engine.Event{UserID: "42", Kind: engine.KindRestart},
			ok:   true,
		},
		{
			name: "raw callback",
			upd:  tele.Update{ID: 4, Callback: &tele.Callback{Sender: user, Data: "\fmenu|dept_health"}},
			want: engine.Event{UserID: "42", Kind: engine.KindSelection, Payload: "dept_health"},
			ok:   true,
		},
		{
			name: "matched callback",
			upd:  tele.Update{ID: 5, Callback: &tele.Callback{Sender: user, Unique: "menu", Data: "nav:back"}},
			want: engine.Event{UserID: "42", Kind: engine.KindSelection, Payload: "nav:back"},
			ok:   true,
		},
		{
			name: "empty message",
			upd:  tele.Update{ID: 6, Message: &tele.Message{Sender: user, Chat: chat}},
			want: engine.Event{UserID: "42"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := normalize(b.NewContext(tt.upd))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestMarkup(t *testing.T) {
	d := engine.Directive{
		Presentation: engine.Buttons,
		Options: []engine.Option{
			{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"},
		},
	}
	m := Markup(d, 2)
	require.NotNil(t, m)
	require.Len(t, m.InlineKeyboard, 2)
	assert.Len(t, m.InlineKeyboard[0], 2)
	assert.Equal(t, "A", m.InlineKeyboard[0][0].Text)
	assert.Equal(t, menuUnique, m.InlineKeyboard[0][0].Unique)
	assert.True(t, strings.HasSuffix(m.InlineKeyboard[0][0].Data, "a"))

	list := engine.Directive{
		Presentation: engine.List,
		Sections: []engine.Section{
			{Options: []engine.Option{{ID: "x", Label: "X"}}},
			{Title: "Navigation", Options: []engine.Option{{ID: "nav:back", Label: "Back"}, {ID: "nav:main", Label: "Main menu"}}},
		},
	}
	m = Markup(list, 3)
	require.Len(t, m.InlineKeyboard, 3)
	assert.Equal(t, "Main menu", m.InlineKeyboard[2][0].Text)

	assert.Nil(t, Markup(engine.Directive{Presentation: engine.PlainText, Text: "hi"}, 2))
}

type sentMsg struct {
	to   string
	text string
	kb   bool
}

type fakeSender struct {
	mu    sync.Mutex
	msgs  []sentMsg
	fails int
}

func (f *fakeSender) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, &tele.Error{Code: 429, Description: "Too Many Requests: retry after 1"}
	}
	msg := sentMsg{to: to.Recipient(), text: what.(string)}
	if so, ok := opts[0].(*tele.SendOptions); ok && so.ReplyMarkup != nil {
		msg.kb = true
	}
	f.msgs = append(f.msgs, msg)
	return &tele.Message{}, nil
}

func TestOutboxDeliversInOrderWithRetries(t *testing.T) {
	s := &fakeSender{}
	d := dispatch.New(dispatch.Options{Workers: 2, MaxRetries: 2, RetryBackoff: time.Millisecond})
	o := NewOutbox(s, d, 2)

	err := o.Deliver(context.Background(), []engine.Directive{
		{UserID: "42", Text: "Sorry", Presentation: engine.PlainText},
		{UserID: "42", Text: "Main menu", Presentation: engine.Buttons, Options: []engine.Option{{ID: "a", Label: "A"}}},
	})
	require.NoError(t, err)
	d.Close()

	assert.Equal(t, []sentMsg{
		{to: "42", text: "Sorry"},
		{to: "42", text: "Main menu", kb: true},
	}, s.msgs)

	s.msgs = nil
	s.fails = 1
	d = dispatch.New(dispatch.Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	o = NewOutbox(s, d, 2)
	require.NoError(t, o.Deliver(context.Background(), []engine.Directive{{UserID: "42", Text: "Are you still there?"}}))
	d.Close()
	assert.Equal(t, []sentMsg{{to: "42", text: "Are you still there?"}}, s.msgs)
	assert.Zero(t, d.ErrorCount())
}

type slowSender struct {
	fakeSender
	slow string
}

func (s *slowSender) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	if what.(string) == s.slow {
		time.Sleep(50 * time.Millisecond)
	}
	return s.fakeSender.Send(to, what, opts...)
}

func TestOutboxKeepsOrderAcrossDeliveriesForOneChat(t *testing.T) {
	s := &slowSender{slow: "Sorry"}
	d := dispatch.New(dispatch.Options{Workers: 4})
	o := NewOutbox(s, d, 1)

	require.NoError(t, o.Deliver(context.Background(), []engine.Directive{{UserID: "42", Text: "Sorry"}}))
	require.NoError(t, o.Deliver(context.Background(), []engine.Directive{{UserID: "42", Text: "Main menu"}}))
	d.Close()

	assert.Equal(t, []sentMsg{{to: "42", text: "Sorry"}, {to: "42", text: "Main menu"}}, s.msgs)
}

func TestOutboxRejectsNonNumericRecipient(t *testing.T) {
	o := NewOutbox(&fakeSender{}, dispatch.New(dispatch.Options{}), 1)
	err := o.Deliver(context.Background(), []engine.Directive{{UserID: "abc", Text: "x"}})
	assert.Error(t, err)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []engine.Event
}

func (h *recordingHandler) Handle(_ context.Context, ev engine.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func TestRouteAndRateLimit(t *testing.T) {
	b := offlineBot(t)
	h := &recordingHandler{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	Route(b, h, Logging, Recover, RateLimit(RateLimitOptions{
		Interval: time.Second,
		Now:      func() time.Time { return now },
	}))

	user := &tele.User{ID: 7}
	chat := &tele.Chat{ID: 7, Type: tele.ChatPrivate}
	b.ProcessUpdate(tele.Update{ID: 1, Message: &tele.Message{Sender: user, Chat: chat, Text: "/start"}})
	b.ProcessUpdate(tele.Update{ID: 2, Message: &tele.Message{Sender: user, Chat: chat, Text: "English"}})
	now = now.Add(2 * time.Second)
	b.ProcessUpdate(tele.Update{ID: 3, Message: &tele.Message{Sender: user, Chat: chat, Text: "Departments"}})

	assert.Equal(t, []engine.Event{
		{UserID: "7", Kind: engine.KindRestart},
		{UserID: "7", Kind: engine.KindText, Payload: "Departments"},
	}, h.events)
}

func TestWrapErrorExposesStatus(t *testing.T) {
	err := wrapError(tele.FloodError{RetryAfter: 3})
	var sc interface{ StatusCode() int }
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, 429, sc.StatusCode())

	err = wrapError(&tele.Error{Code: 403, Description: "bot was blocked by the user"})
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, 403, sc.StatusCode())
}
