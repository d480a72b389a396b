// Package elements joins a bot command to an interactive form: issuing the
// command renders the form and submitting the form produces a reply.
package elements

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ssebot/internal/validator"
)

// Command is a text command addressed to the bot.
type Command struct {
	StreamID string
	UserID   uint64
	Message  string
}

// Action is a submission of an interactive form.
type Action struct {
	StreamID string
	UserID   uint64
	FormID   string
	Values   map[string]any
}

// Message is a reply sent to a stream.
type Message struct {
	Content string
	Data    map[string]any
}

// NewMessage creates a text-only message.
func NewMessage(content string) Message {
	return Message{Content: content}
}

// HasContent reports whether the message is worth sending.
func (m Message) HasContent() bool {
	return m.Content != ""
}

// Form is the part supplied by a concrete adapter.
type Form interface {
	// CommandName is a stable identifier of the adapter, unique per bot. An
	// empty name selects the Go type of the form.
	CommandName() string
	// CommandMatcher reports whether a text command targets this form.
	CommandMatcher() func(text string) bool
	// FormID identifies submissions of the rendered form.
	FormID() string
	// DisplayElements renders the form in response to cmd.
	DisplayElements(ctx context.Context, cmd Command) (Message, error)
	// HandleAction turns a submission into a reply.
	HandleAction(ctx context.Context, action Action) (Message, error)
}

// CommandHandler receives dispatched commands.
type CommandHandler interface {
	OnCommand(ctx context.Context, cmd Command)
}

// ActionHandler receives dispatched form submissions.
type ActionHandler interface {
	OnAction(ctx context.Context, action Action)
}

// CommandDispatcher routes commands by name.
type CommandDispatcher interface {
	Register(name string, handler CommandHandler)
}

// CommandFilter decides which command name a text command resolves to.
type CommandFilter interface {
	AddFilter(name string, matcher func(text string) bool)
}

// EventDispatcher routes form submissions by form id.
type EventDispatcher interface {
	Register(formID string, handler ActionHandler)
}

// MessageService sends messages to streams.
type MessageService interface {
	Send(ctx context.Context, streamID string, msg Message) error
}

// FeatureManager exposes the bot feature flags consulted by the adapter.
type FeatureManager interface {
	// UnexpectedErrorResponse returns the fallback reply, if one is configured.
	UnexpectedErrorResponse() (string, bool)
	IsCommandFeedbackEnabled() bool
}

// BotIdentity describes the running bot.
type BotIdentity interface {
	BotDisplayName() string
}

// Deps are the collaborators of a Handler. All are required.
type Deps struct {
	Commands CommandDispatcher
	Filter   CommandFilter
	Events   EventDispatcher
	Messages MessageService
	Features FeatureManager
	Bot      BotIdentity
}

// Handler adapts a Form to the command and event dispatchers.
type Handler struct {
	form   Form
	name   string
	deps   Deps
	logger *zap.Logger

	registerOnce sync.Once
}

// NewHandler wires form to deps.
func NewHandler(form Form, deps Deps, logger *zap.Logger) (*Handler, error) {
	if err := validator.Validate(
		"elements handler",
		form,
		deps.Commands,
		deps.Filter,
		deps.Events,
		deps.Messages,
		deps.Features,
		deps.Bot,
		logger,
	); err != nil {
		return nil, fmt.Errorf("failed to validate elements handler deps: %w", err)
	}
	if form.FormID() == "" || form.CommandMatcher() == nil {
		return nil, errors.New("form must declare a matcher and a form id")
	}

	name := form.CommandName()
	if name == "" {
		name = fmt.Sprintf("%T", form)
	}

	return &Handler{
		form: form,
		name: name,
		deps: deps,
		logger: logger.Named("elements").With(
			zap.String("command", name),
			zap.String("formId", form.FormID()),
		),
	}, nil
}

// CommandName returns the name the handler registers under.
func (h *Handler) CommandName() string {
	return h.name
}

// Register installs the handler with the dispatchers. Later calls are no-ops.
func (h *Handler) Register() {
	h.registerOnce.Do(func() {
		h.deps.Commands.Register(h.name, h)
		h.deps.Filter.AddFilter(h.name, h.form.CommandMatcher())
		h.deps.Events.Register(h.form.FormID(), h)
	})
}

// BotName returns the display name of the bot.
func (h *Handler) BotName() string {
	return h.deps.Bot.BotDisplayName()
}

// OnCommand renders the form and sends it to the command's stream.
func (h *Handler) OnCommand(ctx context.Context, cmd Command) {
	h.logger.Debug("received command to display elements form", zap.String("message", cmd.Message))

	msg, err := guard(func() (Message, error) { return h.form.DisplayElements(ctx, cmd) })
	if err != nil {
		h.logger.Error("error processing command",
			zap.String("streamId", cmd.StreamID),
			zap.Uint64("userId", cmd.UserID),
			zap.Error(err),
		)
		h.sendFallback(ctx, cmd.StreamID)
		return
	}

	if msg.HasContent() && h.send(ctx, cmd.StreamID, msg) != nil {
		h.sendFallback(ctx, cmd.StreamID)
	}
}

// OnAction handles a form submission. The reply is only sent when command
// feedback is enabled. A reply that cannot be sent is replaced by the
// fallback, as on the command path.
func (h *Handler) OnAction(ctx context.Context, action Action) {
	h.logger.Debug("received action for elements form", zap.String("actionFormId", action.FormID))

	msg, err := guard(func() (Message, error) { return h.form.HandleAction(ctx, action) })
	if err != nil {
		h.logger.Error("error processing elements action",
			zap.String("streamId", action.StreamID),
			zap.Uint64("userId", action.UserID),
			zap.Error(err),
		)
		h.sendFallback(ctx, action.StreamID)
		return
	}

	if !msg.HasContent() || !h.deps.Features.IsCommandFeedbackEnabled() {
		return
	}
	if h.send(ctx, action.StreamID, msg) != nil {
		h.sendFallback(ctx, action.StreamID)
	}
}

// sendFallback sends the configured error reply, if any. A failure here is
// only logged.
func (h *Handler) sendFallback(ctx context.Context, streamID string) {
	if text, ok := h.deps.Features.UnexpectedErrorResponse(); ok {
		_ = h.send(ctx, streamID, NewMessage(text))
	}
}

func (h *Handler) send(ctx context.Context, streamID string, msg Message) error {
	err := h.deps.Messages.Send(ctx, streamID, msg)
	if err != nil {
		h.logger.Error("failed to send message", zap.String("streamId", streamID), zap.Error(err))
	}
	return err
}

// guard runs fn, turning a panic into an error.
func guard(fn func() (Message, error)) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("form panicked: %v", r)
		}
	}()

	return fn()
}
