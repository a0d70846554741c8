package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatrelay/models"
	"chatrelay/pkg/cache"
	"chatrelay/pkg/config"
	"chatrelay/pkg/llm"
	"chatrelay/pkg/store"
)

var (
	ErrMissingChatID = errors.New("chat id is required")
	ErrNoMessages    = errors.New("messages are required")
	// ErrModelRequired: the payload carries no model selection and the chat
	// has no persisted first message to resolve one from.
	ErrModelRequired = errors.New("model is required for new chats")
)

// Relay orchestrates one message exchange: it resolves the model, persists
// the user turn, consumes the model stream, and re-frames it into the
// outbound protocol, keeping the persisted assistant id equal to the id
// announced in the start frame.
type Relay struct {
	gateway     *store.Gateway
	modelCache  *cache.ModelCache
	system      string
	timeout     time.Duration
	streamerFor func(llm.Model) llm.Streamer
}

func New(gateway *store.Gateway, modelCache *cache.ModelCache) *Relay {
	return &Relay{
		gateway:     gateway,
		modelCache:  modelCache,
		system:      config.SystemPrompt,
		timeout:     time.Duration(config.RequestTimeoutSeconds) * time.Second,
		streamerFor: llm.StreamerFor,
	}
}

// Exchange is one prepared request, resolved and validated but with no
// output emitted yet. Preparation failures stay plain request errors so the
// transport can reject with a status code instead of opening a stream.
type Exchange struct {
	relay       *Relay
	req         SendRequest
	model       llm.Model
	history     []llm.ChatMessage
	assistantID string
}

// Prepare validates the payload and resolves the model. No frame is
// emitted and nothing is persisted; an unrecognized model must fail before
// any side effect.
func (r *Relay) Prepare(ctx context.Context, req SendRequest) (*Exchange, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, ErrMissingChatID
	}
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	modelID := req.modelID()
	if modelID == "" {
		// follow-up turn: continue with the model the chat was started with
		cached, ok := r.modelCache.Get(req.ChatID)
		if ok {
			modelID = cached
		} else {
			first, err := r.gateway.FirstModelID(ctx, req.ChatID)
			if errors.Is(err, store.ErrChatNotFound) {
				return nil, ErrModelRequired
			}
			if err != nil {
				return nil, err
			}
			modelID = first
		}
	}

	model, err := llm.Resolve(modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, modelID)
	}
	r.modelCache.Set(req.ChatID, model.ID)

	return &Exchange{
		relay:   r,
		req:     req,
		model:   model,
		history: req.history(),
		// generated before the model call so the start frame and the
		// eventual assistant row agree on the id
		assistantID: uuid.NewString(),
	}, nil
}

// AssistantID is the pre-generated id the start frame will carry.
func (ex *Exchange) AssistantID() string { return ex.assistantID }

// Run drives the exchange to completion, writing frames to sink. The two
// persistence-side and model-side branches proceed independently; both are
// joined before Run returns. ctx is the client connection's context: when
// it is cancelled mid-stream the model call is abandoned, already started
// writes complete, and no assistant message is persisted.
func (ex *Exchange) Run(ctx context.Context, rawSink Sink) error {
	r := ex.relay
	sink := &lockedSink{sink: rawSink}

	if err := sink.Send(startFrame(ex.assistantID)); err != nil {
		return err
	}

	mctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// branch (a): ensure the chat row, then record the trailing user turn.
	// Detached from ctx so a client disconnect never aborts a write that
	// already began.
	persistDone := make(chan error, 1)
	go func() {
		persistDone <- ex.persistUserTurn(context.Background(), sink, cancel)
	}()

	// branch (b): consume the model stream, re-framing each fragment in
	// arrival order.
	streamer := r.streamerFor(ex.model)
	res, streamErr := streamer.Stream(mctx, r.system, ex.history, func(delta string) {
		_ = sink.Send(textDeltaFrame(ex.assistantID, delta))
	})

	persistErr := <-persistDone

	if ctx.Err() != nil && persistErr == nil {
		// client went away; there is nobody to frame an error for
		log.Printf("[relay] chat %s: client disconnected, stream abandoned", ex.req.ChatID)
		return ctx.Err()
	}
	if persistErr != nil {
		log.Printf("[relay] chat %s: user message not persisted: %v", ex.req.ChatID, persistErr)
		_ = sink.Send(errorFrame("failed to save message"))
		return persistErr
	}
	if streamErr != nil {
		if errors.Is(streamErr, context.DeadlineExceeded) {
			streamErr = &llm.ProviderError{Provider: ex.model.Provider, Message: "request timed out"}
		}
		log.Printf("[relay] chat %s: model stream failed: %v", ex.req.ChatID, streamErr)
		_ = sink.Send(errorFrame(streamErr.Error()))
		return streamErr
	}

	// persist the assistant turn before the terminal frame, under the model
	// id the provider reports actually serving the request
	if err := r.gateway.RecordAssistantMessage(context.Background(), models.Message{
		ID:      ex.assistantID,
		ChatID:  ex.req.ChatID,
		Text:    res.Text,
		ModelID: res.ModelID,
	}); err != nil {
		// the transcript is now authoritative only in the client's memory;
		// finish anyway so the client is not left hanging
		log.Printf("[relay] chat %s: assistant message %s not persisted, transcript skewed: %v",
			ex.req.ChatID, ex.assistantID, err)
	}

	if err := sink.Send(textEndFrame(ex.assistantID)); err != nil {
		return err
	}
	return sink.Send(finishFrame(res.FinishReason, res.Usage))
}

// persistUserTurn creates the chat when absent (announcing it to the
// client) and records the trailing user message. On failure it cancels the
// model branch; the exchange is failing either way.
func (ex *Exchange) persistUserTurn(ctx context.Context, sink Sink, cancelModel context.CancelFunc) error {
	r := ex.relay

	created, err := r.gateway.EnsureChat(ctx, ex.req.ChatID, ex.req.title())
	if err != nil {
		cancelModel()
		return err
	}
	if created {
		if err := sink.Send(chatCreatedFrame(ex.req.ChatID)); err != nil {
			return err
		}
	}

	last := ex.req.Messages[len(ex.req.Messages)-1]
	if last.Role != "user" {
		return nil
	}
	msgID := last.ID
	if strings.TrimSpace(msgID) == "" {
		msgID = uuid.NewString()
	}
	if err := r.gateway.RecordUserMessage(ctx, models.Message{
		ID:      msgID,
		ChatID:  ex.req.ChatID,
		Text:    last.text(),
		ModelID: ex.model.ID,
	}); err != nil {
		cancelModel()
		return err
	}
	return nil
}
