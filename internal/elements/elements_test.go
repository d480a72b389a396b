package elements

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"ssebot/internal/sse/metrics"
)

type songForm struct {
	display func(Command) (Message, error)
	action  func(Action) (Message, error)
}

func (songForm) CommandName() string { return "songwriter.quote" }

func (songForm) CommandMatcher() func(string) bool {
	return func(text string) bool { return strings.HasPrefix(text, "/quote") }
}

func (songForm) FormID() string { return "quote-form" }

func (f songForm) DisplayElements(_ context.Context, cmd Command) (Message, error) {
	return f.display(cmd)
}

func (f songForm) HandleAction(_ context.Context, a Action) (Message, error) {
	return f.action(a)
}

type dispatchers struct {
	commands map[string]CommandHandler
	filters  map[string]func(string) bool
	forms    map[string]ActionHandler
	calls    int
}

func newDispatchers() *dispatchers {
	return &dispatchers{
		commands: map[string]CommandHandler{},
		filters:  map[string]func(string) bool{},
		forms:    map[string]ActionHandler{},
	}
}

type commandRegistrar struct{ d *dispatchers }

func (r commandRegistrar) Register(name string, h CommandHandler) {
	r.d.calls++
	r.d.commands[name] = h
}

type filterRegistrar struct{ d *dispatchers }

func (r filterRegistrar) AddFilter(name string, m func(string) bool) { r.d.filters[name] = m }

type eventRegistrar struct{ d *dispatchers }

func (r eventRegistrar) Register(formID string, h ActionHandler) { r.d.forms[formID] = h }

type sent struct {
	streamID string
	msg      Message
}

type fakeMessages struct {
	mu   sync.Mutex
	sent []sent
	err  error
	// failures is the number of leading sends rejected with errUnavailable.
	failures int
}

var errUnavailable = errors.New("messaging unavailable")

func (m *fakeMessages) Send(_ context.Context, streamID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{streamID: streamID, msg: msg})
	if m.failures > 0 {
		m.failures--
		return errUnavailable
	}
	return m.err
}

type features struct {
	fallback string
	feedback bool
}

func (f features) UnexpectedErrorResponse() (string, bool) { return f.fallback, f.fallback != "" }

func (f features) IsCommandFeedbackEnabled() bool { return f.feedback }

type bot string

func (b bot) BotDisplayName() string { return string(b) }

func newHandler(t *testing.T, form Form, msgs MessageService, feats FeatureManager) (*Handler, *dispatchers) {
	t.Helper()
	d := newDispatchers()
	h, err := NewHandler(form, Deps{
		Commands: commandRegistrar{d},
		Filter:   filterRegistrar{d},
		Events:   eventRegistrar{d},
		Messages: msgs,
		Features: feats,
		Bot:      bot("songwriter"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h, d
}

func okForm() songForm {
	return songForm{
		display: func(Command) (Message, error) { return NewMessage("<form id=\"quote-form\"/>"), nil },
		action:  func(a Action) (Message, error) { return NewMessage("thanks " + a.Values["name"].(string)), nil },
	}
}

func TestRegister(t *testing.T) {
	h, d := newHandler(t, okForm(), &fakeMessages{}, features{})

	h.Register()
	h.Register()

	assert.Equal(t, 1, d.calls)
	assert.Same(t, h, d.commands["songwriter.quote"])
	assert.Same(t, h, d.forms["quote-form"])
	require.Contains(t, d.filters, "songwriter.quote")
	assert.True(t, d.filters["songwriter.quote"]("/quote please"))
	assert.False(t, d.filters["songwriter.quote"]("/help"))
	assert.Equal(t, "songwriter", h.BotName())
}

type unnamedForm struct{ songForm }

func (unnamedForm) CommandName() string { return "" }

func TestRegisterDefaultsCommandNameToType(t *testing.T) {
	h, d := newHandler(t, unnamedForm{okForm()}, &fakeMessages{}, features{})

	h.Register()

	assert.Equal(t, "elements.unnamedForm", h.CommandName())
	assert.Same(t, h, d.commands["elements.unnamedForm"])
	assert.Contains(t, d.filters, "elements.unnamedForm")
}

func TestOnCommandSendsForm(t *testing.T) {
	msgs := &fakeMessages{}
	h, _ := newHandler(t, okForm(), msgs, features{})

	h.OnCommand(context.Background(), Command{StreamID: "X", Message: "/quote"})

	require.Len(t, msgs.sent, 1)
	assert.Equal(t, "X", msgs.sent[0].streamID)
	assert.Contains(t, msgs.sent[0].msg.Content, "quote-form")
}

func TestOnCommandEmptyResponseSendsNothing(t *testing.T) {
	msgs := &fakeMessages{}
	form := okForm()
	form.display = func(Command) (Message, error) { return Message{}, nil }
	h, _ := newHandler(t, form, msgs, features{fallback: "oops"})

	h.OnCommand(context.Background(), Command{StreamID: "X"})
	assert.Empty(t, msgs.sent)
}

func TestOnCommandErrorSendsFallback(t *testing.T) {
	tests := []struct {
		name     string
		display  func(Command) (Message, error)
		fallback string
		wantSent []string
	}{
		{
			name:     "error with fallback",
			display:  func(Command) (Message, error) { return Message{}, errors.New("render failed") },
			fallback: "Sorry, something went wrong",
			wantSent: []string{"Sorry, something went wrong"},
		},
		{
			name:    "error without fallback",
			display: func(Command) (Message, error) { return NewMessage("partial"), errors.New("render failed") },
		},
		{
			name:     "panic with fallback",
			display:  func(Command) (Message, error) { panic("bad template") },
			fallback: "Sorry",
			wantSent: []string{"Sorry"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := &fakeMessages{}
			form := okForm()
			form.display = tt.display
			h, _ := newHandler(t, form, msgs, features{fallback: tt.fallback})

			h.OnCommand(context.Background(), Command{StreamID: "X"})

			var got []string
			for _, s := range msgs.sent {
				assert.Equal(t, "X", s.streamID)
				got = append(got, s.msg.Content)
			}
			assert.Equal(t, tt.wantSent, got)
		})
	}
}

func TestOnActionRespectsFeedbackFlag(t *testing.T) {
	action := Action{StreamID: "X", FormID: "quote-form", Values: map[string]any{"name": "Ann"}}

	msgs := &fakeMessages{}
	h, _ := newHandler(t, okForm(), msgs, features{feedback: true})
	h.OnAction(context.Background(), action)
	require.Len(t, msgs.sent, 1)
	assert.Equal(t, "thanks Ann", msgs.sent[0].msg.Content)

	msgs = &fakeMessages{}
	h, _ = newHandler(t, okForm(), msgs, features{feedback: false})
	h.OnAction(context.Background(), action)
	assert.Empty(t, msgs.sent)
}

func TestOnActionErrorSendsFallbackEvenWithoutFeedback(t *testing.T) {
	msgs := &fakeMessages{}
	form := okForm()
	form.action = func(Action) (Message, error) { return Message{}, errors.New("invalid submission") }
	h, _ := newHandler(t, form, msgs, features{fallback: "Sorry"})

	h.OnAction(context.Background(), Action{StreamID: "Y"})

	require.Len(t, msgs.sent, 1)
	assert.Equal(t, sent{streamID: "Y", msg: NewMessage("Sorry")}, msgs.sent[0])
}

func TestFailedReplySendsFallback(t *testing.T) {
	ctx := context.Background()

	msgs := &fakeMessages{failures: 1}
	h, _ := newHandler(t, okForm(), msgs, features{fallback: "Sorry"})
	h.OnCommand(ctx, Command{StreamID: "X"})

	require.Len(t, msgs.sent, 2)
	assert.Contains(t, msgs.sent[0].msg.Content, "quote-form")
	assert.Equal(t, sent{streamID: "X", msg: NewMessage("Sorry")}, msgs.sent[1])

	msgs = &fakeMessages{failures: 1}
	h, _ = newHandler(t, okForm(), msgs, features{fallback: "Sorry", feedback: true})
	h.OnAction(ctx, Action{StreamID: "Y", Values: map[string]any{"name": "Ann"}})

	require.Len(t, msgs.sent, 2)
	assert.Equal(t, "thanks Ann", msgs.sent[0].msg.Content)
	assert.Equal(t, sent{streamID: "Y", msg: NewMessage("Sorry")}, msgs.sent[1])
}

func TestFailedFallbackIsNotRetried(t *testing.T) {
	msgs := &fakeMessages{failures: 2}
	h, _ := newHandler(t, okForm(), msgs, features{fallback: "Sorry"})

	h.OnCommand(context.Background(), Command{StreamID: "X"})

	assert.Len(t, msgs.sent, 2)
}

func TestSendFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	msgs := &fakeMessages{err: errors.New("unavailable")}
	d := newDispatchers()
	h, err := NewHandler(okForm(), Deps{
		Commands: commandRegistrar{d},
		Filter:   filterRegistrar{d},
		Events:   eventRegistrar{d},
		Messages: msgs,
		Features: features{},
		Bot:      bot("songwriter"),
	}, zap.New(core))
	require.NoError(t, err)

	h.OnCommand(context.Background(), Command{StreamID: "X"})
	assert.Equal(t, 1, logs.FilterMessage("failed to send message").Len())
}

func TestNewHandlerRejectsPartialWiring(t *testing.T) {
	_, err := NewHandler(okForm(), Deps{Messages: &fakeMessages{}}, zap.NewNop())
	require.Error(t, err)
}

func TestMetricsMessageService(t *testing.T) {
	registry := metrics.NewRegistry()
	msgs := NewMetricsMessageService(&fakeMessages{}, registry)

	require.NoError(t, msgs.Send(context.Background(), "X", NewMessage("hi")))

	count, err := testutil.GatherAndCount(registry.Gatherer(), "ssebot_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
