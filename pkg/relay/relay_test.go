package relay

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatrelay/models"
	"chatrelay/pkg/cache"
	"chatrelay/pkg/llm"
	"chatrelay/pkg/store"
)

const refText = "Hello there! This reference reply is long enough to be split " +
	"into several fragments by the mock source, which is all the relay needs " +
	"to exercise ordered delta delivery and final persistence."

// collectSink records frames in arrival order.
type collectSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *collectSink) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *collectSink) all() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *collectSink) byType(t string) []Frame {
	var out []Frame
	for _, f := range s.all() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// fakeStreamer emits a fixed delta sequence, then its result or error.
type fakeStreamer struct {
	deltas []string
	res    *llm.Result
	err    error
}

func (f *fakeStreamer) Stream(ctx context.Context, system string, history []llm.ChatMessage, onDelta func(string)) (*llm.Result, error) {
	for _, d := range f.deltas {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if onDelta != nil {
			onDelta(d)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newTestRelay(t *testing.T, streamer llm.Streamer) (*Relay, *store.Gateway, *gorm.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_fk=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&models.Chat{}, &models.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gateway := store.NewGateway(db)
	r := &Relay{
		gateway:     gateway,
		modelCache:  cache.NewModelCache(time.Minute, 100),
		system:      "You are a helpful assistant.",
		timeout:     5 * time.Second,
		streamerFor: func(llm.Model) llm.Streamer { return streamer },
	}
	return r, gateway, db
}

func userRequest(chatID, msgID, text, modelID string) SendRequest {
	msg := InboundMessage{
		ID:    msgID,
		Role:  "user",
		Parts: []InboundPart{{Type: "text", Text: text}},
	}
	if modelID != "" {
		msg.Metadata = &InboundMetadata{ModelID: modelID}
	}
	return SendRequest{ChatID: chatID, Messages: []InboundMessage{msg}}
}

func TestExchangeNewChatScenario(t *testing.T) {
	mock := llm.NewMockStreamerWithText("gemini-2.5-pro", refText)
	r, gateway, _ := newTestRelay(t, mock)

	ex, err := r.Prepare(context.Background(), userRequest("c1", "m1", "hello", "gemini-2.5-pro"))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	sink := &collectSink{}
	if err := ex.Run(context.Background(), sink); err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := sink.all()
	if len(frames) == 0 || frames[0].Type != FrameStart {
		t.Fatalf("expected start frame first, got %+v", frames)
	}
	if frames[0].MessageID != ex.AssistantID() {
		t.Fatalf("start frame id %q does not match exchange id %q", frames[0].MessageID, ex.AssistantID())
	}
	if last := frames[len(frames)-1]; last.Type != FrameFinish {
		t.Fatalf("expected finish frame last, got %s", last.Type)
	}

	created := sink.byType(FrameChatCreated)
	if len(created) != 1 || created[0].Data == nil || created[0].Data.ChatID != "c1" {
		t.Fatalf("expected exactly one data-chatCreated for c1, got %+v", created)
	}

	var text strings.Builder
	for _, f := range sink.byType(FrameTextDelta) {
		if f.ID != ex.AssistantID() {
			t.Fatalf("delta tagged with %q, want %q", f.ID, ex.AssistantID())
		}
		text.WriteString(f.Delta)
	}
	if text.String() != refText {
		t.Fatalf("deltas do not reassemble reference text:\n%q", text.String())
	}

	ends := sink.byType(FrameTextEnd)
	if len(ends) != 1 || ends[0].ID != ex.AssistantID() {
		t.Fatalf("expected one text-end for the assistant id, got %+v", ends)
	}
	fin := sink.byType(FrameFinish)
	if len(fin) != 1 || fin[0].Usage == nil || fin[0].Usage.TotalTokens == 0 {
		t.Fatalf("expected finish frame with usage, got %+v", fin)
	}

	chat, err := gateway.GetChat(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.Title != "hello" {
		t.Fatalf("expected title derived from first user message, got %q", chat.Title)
	}
	if len(chat.Messages) != 2 {
		t.Fatalf("expected user + assistant rows, got %d", len(chat.Messages))
	}
	byID := map[string]models.Message{}
	for _, m := range chat.Messages {
		byID[m.ID] = m
	}
	if u, ok := byID["m1"]; !ok || u.Role != models.RoleUser || u.Text != "hello" {
		t.Fatalf("user row wrong: %+v", byID["m1"])
	}
	a, ok := byID[ex.AssistantID()]
	if !ok {
		t.Fatalf("assistant row not stored under the streamed id")
	}
	if a.Role != models.RoleAssistant || a.Text != refText {
		t.Fatalf("assistant row wrong: role=%s len(text)=%d", a.Role, len(a.Text))
	}
}

func TestPrepareUnsupportedModelHasNoSideEffects(t *testing.T) {
	r, gateway, db := newTestRelay(t, &fakeStreamer{})

	_, err := r.Prepare(context.Background(), userRequest("c1", "m1", "hello", "gpt-4"))
	if !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}

	if _, err := gateway.GetChat(context.Background(), "c1"); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("expected no chat row, got %v", err)
	}
	var count int64
	if err := db.Model(&models.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no message rows, got %d", count)
	}
}

func TestPrepareValidation(t *testing.T) {
	r, _, _ := newTestRelay(t, &fakeStreamer{})

	if _, err := r.Prepare(context.Background(), SendRequest{Messages: []InboundMessage{{Role: "user"}}}); !errors.Is(err, ErrMissingChatID) {
		t.Fatalf("expected ErrMissingChatID, got %v", err)
	}
	if _, err := r.Prepare(context.Background(), SendRequest{ChatID: "c1"}); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
	// no model selection and no persisted first message to fall back to
	if _, err := r.Prepare(context.Background(), userRequest("c1", "m1", "hello", "")); !errors.Is(err, ErrModelRequired) {
		t.Fatalf("expected ErrModelRequired, got %v", err)
	}
}

func TestPrepareFollowUpResolvesPersistedModel(t *testing.T) {
	r, gateway, _ := newTestRelay(t, &fakeStreamer{})
	ctx := context.Background()

	if _, err := gateway.EnsureChat(ctx, "c1", "hello"); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if err := gateway.RecordUserMessage(ctx, models.Message{ID: "m1", ChatID: "c1", Text: "hello", ModelID: "claude-opus-4-1-20250805"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	ex, err := r.Prepare(ctx, userRequest("c1", "m2", "and then?", ""))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if ex.model.ID != "claude-opus-4-1-20250805" {
		t.Fatalf("expected follow-up to reuse the chat's model, got %s", ex.model.ID)
	}

	// second prepare is served from the model cache
	if _, ok := r.modelCache.Get("c1"); !ok {
		t.Fatalf("expected model cache populated after resolution")
	}
}

func TestRetriedUserMessageIsIdempotent(t *testing.T) {
	streamer := &fakeStreamer{
		deltas: []string{"hi ", "there"},
		res:    &llm.Result{Text: "hi there", ModelID: "gemini-2.5-pro", FinishReason: "stop"},
	}
	r, gateway, db := newTestRelay(t, streamer)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ex, err := r.Prepare(ctx, userRequest("c1", "m1", "hello", "gemini-2.5-pro"))
		if err != nil {
			t.Fatalf("prepare %d: %v", i+1, err)
		}
		if err := ex.Run(ctx, &collectSink{}); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	var userRows int64
	if err := db.Model(&models.Message{}).Where("id = ?", "m1").Count(&userRows).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if userRows != 1 {
		t.Fatalf("retried request duplicated the user row: %d", userRows)
	}

	chat, err := gateway.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	// one user row, two assistant replies under distinct pre-generated ids
	if len(chat.Messages) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(chat.Messages))
	}
}

func TestStreamErrorEmitsTerminalErrorFrame(t *testing.T) {
	streamer := &fakeStreamer{
		deltas: []string{"partial "},
		err:    &llm.ProviderError{Provider: llm.ProviderGemini, StatusCode: 500, Message: "backend blew up"},
	}
	r, _, db := newTestRelay(t, streamer)
	ctx := context.Background()

	ex, err := r.Prepare(ctx, userRequest("c1", "m1", "hello", "gemini-2.5-pro"))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	sink := &collectSink{}
	if err := ex.Run(ctx, sink); err == nil {
		t.Fatalf("expected run to report the stream error")
	}

	frames := sink.all()
	if last := frames[len(frames)-1]; last.Type != FrameError || last.ErrorText == "" {
		t.Fatalf("expected terminal error frame, got %+v", last)
	}
	if len(sink.byType(FrameFinish)) != 0 {
		t.Fatalf("failed stream must not emit finish")
	}

	// no assistant persistence on failure; the user turn stays
	var roles []string
	if err := db.Model(&models.Message{}).Where("chat_id = ?", "c1").Pluck("role", &roles).Error; err != nil {
		t.Fatalf("pluck: %v", err)
	}
	for _, role := range roles {
		if role == models.RoleAssistant {
			t.Fatalf("assistant message must not be persisted after a stream error")
		}
	}
}

func TestClientCancellationAbandonsStream(t *testing.T) {
	mock := llm.NewMockStreamerWithText("gemini-2.5-pro", refText)
	mock.ChunkDelay = 10 * time.Millisecond
	r, _, db := newTestRelay(t, mock)

	ex, err := r.Prepare(context.Background(), userRequest("c1", "m1", "hello", "gemini-2.5-pro"))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancellingSink{inner: &collectSink{}, cancel: cancel, after: 2}
	runErr := ex.Run(ctx, sink)
	if runErr == nil {
		t.Fatalf("expected cancelled run to return an error")
	}

	// partial assistant output is never persisted
	var count int64
	if err := db.Model(&models.Message{}).Where("role = ?", models.RoleAssistant).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("partial assistant output was persisted")
	}

	// the user turn write, already initiated, still completed
	var userCount int64
	if err := db.Model(&models.Message{}).Where("id = ?", "m1").Count(&userCount).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if userCount != 1 {
		t.Fatalf("expected user message persisted despite cancellation, got %d", userCount)
	}
}

type cancellingSink struct {
	inner  *collectSink
	cancel context.CancelFunc
	after  int
	deltas int
}

func (s *cancellingSink) Send(f Frame) error {
	_ = s.inner.Send(f)
	if f.Type == FrameTextDelta {
		s.deltas++
		if s.deltas == s.after {
			s.cancel()
		}
	}
	return nil
}

func TestAssistantPersistFailureStillFinishes(t *testing.T) {
	streamer := &fakeStreamer{
		deltas: []string{"re", "ply"},
		res:    &llm.Result{Text: "reply", ModelID: "gemini-2.5-pro", FinishReason: "stop"},
	}
	r, _, db := newTestRelay(t, streamer)
	ctx := context.Background()

	// trailing assistant turn means no user write happens; dropping the
	// messages table makes only the assistant insert fail
	req := SendRequest{
		ChatID: "c1",
		Messages: []InboundMessage{
			{ID: "m1", Role: "user", Parts: []InboundPart{{Type: "text", Text: "hello"}}, Metadata: &InboundMetadata{ModelID: "gemini-2.5-pro"}},
			{ID: "m2", Role: "assistant", Parts: []InboundPart{{Type: "text", Text: "earlier reply"}}},
		},
	}
	ex, err := r.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := db.Migrator().DropTable(&models.Message{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	sink := &collectSink{}
	if err := ex.Run(ctx, sink); err != nil {
		t.Fatalf("persist failure must not fail the exchange: %v", err)
	}

	frames := sink.all()
	if last := frames[len(frames)-1]; last.Type != FrameFinish {
		t.Fatalf("expected finish frame despite persistence failure, got %s", last.Type)
	}
	if len(sink.byType(FrameTextEnd)) != 1 {
		t.Fatalf("expected text-end despite persistence failure")
	}
}

func TestProviderTimeoutSurfacesAsError(t *testing.T) {
	mock := llm.NewMockStreamerWithText("gemini-2.5-pro", refText)
	mock.ChunkDelay = 50 * time.Millisecond
	r, _, _ := newTestRelay(t, mock)
	r.timeout = 60 * time.Millisecond

	ex, err := r.Prepare(context.Background(), userRequest("c1", "m1", "hello", "gemini-2.5-pro"))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	sink := &collectSink{}
	if err := ex.Run(context.Background(), sink); err == nil {
		t.Fatalf("expected timeout to fail the exchange")
	}

	frames := sink.all()
	if last := frames[len(frames)-1]; last.Type != FrameError {
		t.Fatalf("expected terminal error frame on timeout, got %s", last.Type)
	}
}
