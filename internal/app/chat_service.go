package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/platform/logger"
	"studymate/internal/repository"
)

// Mode is the instructional style of an answer, chosen by explicit request flags.
type Mode int

const (
	ModeDefault Mode = iota
	ModeSocratic
	ModeFeynman
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeSocratic:
		return "socratic"
	case ModeFeynman:
		return "feynman"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func SelectMode(socratic, feynman bool) (Mode, error) {
	switch {
	case socratic && feynman:
		return ModeDefault, validationf("socratic and feynman modes are mutually exclusive")
	case socratic:
		return ModeSocratic, nil
	case feynman:
		return ModeFeynman, nil
	}
	return ModeDefault, nil
}

type TurnState string

const (
	StateReceived     TurnState = "RECEIVED"
	StateClassified   TurnState = "CLASSIFIED"
	StateRewritten    TurnState = "REWRITTEN"
	StatePassthrough  TurnState = "PASSTHROUGH"
	StateRetrieved    TurnState = "RETRIEVED"
	StateModeSelected TurnState = "MODE_SELECTED"
	StateAnswered     TurnState = "ANSWERED"
	StatePersisted    TurnState = "PERSISTED"
)

// historyCacheSize is how many turns one cached history entry holds.
const historyCacheSize = 100

type ChatConfig struct {
	HistoryTurns int
	Temperature  float64
	Context      ContextOptions
	Retry        RetryPolicy
}

type ChatService struct {
	turns     *repository.ChatTurnRepository
	publisher TurnPublisher
	history   HistoryCache
	retriever *Retriever
	quota     *QuotaService
	completer Completer
	describer ImageDescriber
	cfg       ChatConfig
	log       *logger.Logger
	now       func() time.Time
}

func NewChatService(
	turns *repository.ChatTurnRepository,
	publisher TurnPublisher,
	history HistoryCache,
	retriever *Retriever,
	quota *QuotaService,
	completer Completer,
	describer ImageDescriber,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	return &ChatService{
		turns:     turns,
		publisher: publisher,
		history:   history,
		retriever: retriever,
		quota:     quota,
		completer: completer,
		describer: describer,
		cfg:       cfg,
		log:       log.With("service", "chat"),
		now:       time.Now,
	}
}

type ChatInput struct {
	OwnerID    string
	DocumentID string
	Message    string
	Image      []byte
	Socratic   bool
	Feynman    bool
}

type ChatResult struct {
	Reply          string      `json:"reply"`
	Mode           string      `json:"mode"`
	DirectAnswer   bool        `json:"direct_answer"`
	Conversational bool        `json:"conversational"`
	SearchQuery    string      `json:"search_query,omitempty"`
	ContextChunks  int         `json:"context_chunks"`
	Trace          []TurnState `json:"trace"`
}

// SendMessage runs one tutoring turn through the state machine
// RECEIVED, CLASSIFIED, REWRITTEN or PASSTHROUGH, RETRIEVED, MODE_SELECTED,
// ANSWERED, PERSISTED. Conversational turns skip rewrite and retrieval.
func (s *ChatService) SendMessage(ctx context.Context, in ChatInput) (*ChatResult, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	documentID := NormalizeDocumentID(in.DocumentID)
	message := strings.TrimSpace(in.Message)
	if ownerID == "" || documentID == "" {
		return nil, validationf("owner id and document id are required")
	}
	if message == "" && len(in.Image) == 0 {
		return nil, validationf("message is empty")
	}
	mode, err := SelectMode(in.Socratic, in.Feynman)
	if err != nil {
		return nil, err
	}
	if err := s.quota.CheckAndIncrement(ctx, ownerID, FeatureTutoringTurn, 1); err != nil {
		return nil, err
	}

	log := s.log.With("owner_id", ownerID, "document_id", documentID)
	res := &ChatResult{Mode: mode.String(), Trace: []TurnState{StateReceived}}

	effective := message
	if len(in.Image) > 0 && s.describer != nil {
		desc, err := s.describer.Describe(ctx, in.Image)
		if err != nil {
			log.Warn("describe image failed, continuing without it", "err", err)
		} else if desc = strings.TrimSpace(desc); desc != "" {
			effective = strings.TrimSpace(effective + "\n\n[Image description]: " + desc)
		}
	}
	if effective == "" {
		effective = "Please explain this image."
	}

	history := s.recentHistory(ctx, ownerID, documentID, log)
	historyMessages := toChatMessages(history)

	res.Conversational = IsConversational(effective)
	res.Trace = append(res.Trace, StateClassified)

	var system string
	if res.Conversational {
		res.Trace = append(res.Trace, StateModeSelected)
		system = greetingInstruction
	} else {
		query := effective
		if len(history) > 1 {
			if rewritten, ok := s.rewrite(ctx, historyMessages, effective, log); ok {
				query = rewritten
				res.Trace = append(res.Trace, StateRewritten)
			} else {
				res.Trace = append(res.Trace, StatePassthrough)
			}
		} else {
			res.Trace = append(res.Trace, StatePassthrough)
		}
		res.SearchQuery = query

		chunks, err := s.retriever.Retrieve(ctx, RetrieveInput{OwnerID: ownerID, DocumentID: documentID, Query: query})
		if err != nil {
			return nil, err
		}
		res.ContextChunks = len(chunks)
		res.Trace = append(res.Trace, StateRetrieved)

		instruction, direct := modeInstruction(mode, effective)
		res.DirectAnswer = direct
		res.Trace = append(res.Trace, StateModeSelected)
		system = instruction + "\n\nContext:\n" + AssembleContext(chunks, s.cfg.Context)
	}

	var reply string
	err = s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		var completeErr error
		reply, completeErr = s.completer.Complete(ctx, ai.CompletionRequest{
			System:      system,
			History:     historyMessages,
			User:        effective,
			Temperature: s.cfg.Temperature,
		})
		return completeErr
	})
	if err != nil {
		return nil, upstream("answer completion", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "The model returned an empty response."
	}
	res.Reply = reply
	res.Trace = append(res.Trace, StateAnswered)

	s.persist(ctx, ownerID, documentID, effective, reply, history, log)
	res.Trace = append(res.Trace, StatePersisted)
	return res, nil
}

func (s *ChatService) rewrite(ctx context.Context, history []ai.ChatMessage, message string, log *logger.Logger) (string, bool) {
	out, err := s.completer.Complete(ctx, ai.CompletionRequest{
		System:  rewriteInstruction,
		History: history,
		User:    message,
	})
	if err != nil {
		log.Warn("query rewrite failed, using original message", "err", err)
		return "", false
	}
	out = strings.Trim(strings.TrimSpace(out), `"'`)
	if out == "" {
		return "", false
	}
	return out, true
}

func modeInstruction(mode Mode, message string) (string, bool) {
	switch mode {
	case ModeSocratic:
		if SignalsFrustration(message) {
			return socraticDirectInstruction, true
		}
		return socraticInstruction, false
	case ModeFeynman:
		return feynmanInstruction, false
	}
	return defaultInstruction, false
}

// persist writes both turns. Failures are logged and never reach the caller.
func (s *ChatService) persist(ctx context.Context, ownerID, documentID, userText, reply string, history []model.ChatTurn, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	userAt := s.now().UTC().Truncate(time.Microsecond)
	if n := len(history); n > 0 && !userAt.After(history[n-1].CreatedAt) {
		userAt = history[n-1].CreatedAt.Add(time.Microsecond)
	}
	assistantAt := s.now().UTC().Truncate(time.Microsecond)
	if !assistantAt.After(userAt) {
		assistantAt = userAt.Add(time.Microsecond)
	}

	for _, turn := range []model.ChatTurn{
		{OwnerID: ownerID, DocumentID: documentID, Role: model.RoleUser, Content: userText, CreatedAt: userAt},
		{OwnerID: ownerID, DocumentID: documentID, Role: model.RoleAssistant, Content: reply, CreatedAt: assistantAt},
	} {
		s.persistTurn(ctx, turn, log)
	}

	if s.history != nil {
		if err := s.history.Invalidate(ctx, ownerID, documentID); err != nil {
			log.Warn("invalidate history cache failed", "err", err)
		}
	}
}

func (s *ChatService) persistTurn(ctx context.Context, turn model.ChatTurn, log *logger.Logger) {
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, turn)
		if err == nil {
			return
		}
		log.Warn("enqueue chat turn failed, writing directly", "role", turn.Role, "err", err)
	}
	if err := s.turns.Create(ctx, &turn); err != nil {
		log.Error("persist chat turn failed", "role", turn.Role, "err", err)
	}
}

func (s *ChatService) recentHistory(ctx context.Context, ownerID, documentID string, log *logger.Logger) []model.ChatTurn {
	turns, err := s.loadHistory(ctx, ownerID, documentID)
	if err != nil {
		log.Warn("load chat history failed, answering without it", "err", err)
		return nil
	}
	return trimTurns(turns, s.cfg.HistoryTurns)
}

// History returns up to limit turns of one document's conversation, oldest first.
func (s *ChatService) History(ctx context.Context, ownerID, documentID string, limit int) ([]model.ChatTurn, error) {
	ownerID = strings.TrimSpace(ownerID)
	documentID = NormalizeDocumentID(documentID)
	if ownerID == "" || documentID == "" {
		return nil, validationf("owner id and document id are required")
	}
	turns, err := s.loadHistory(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	return trimTurns(turns, limit), nil
}

func (s *ChatService) loadHistory(ctx context.Context, ownerID, documentID string) ([]model.ChatTurn, error) {
	if s.history != nil {
		dirty, err := s.history.IsDirty(ctx, ownerID, documentID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.history.Get(ctx, ownerID, documentID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	turns, err := s.turns.ListRecent(ctx, ownerID, documentID, historyCacheSize)
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		if dirty, err := s.history.IsDirty(ctx, ownerID, documentID); err == nil && !dirty {
			_ = s.history.Set(ctx, ownerID, documentID, turns)
		}
	}
	return turns, nil
}

func trimTurns(turns []model.ChatTurn, limit int) []model.ChatTurn {
	if limit <= 0 || limit >= len(turns) {
		return turns
	}
	return turns[len(turns)-limit:]
}

func toChatMessages(turns []model.ChatTurn) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		out = append(out, ai.ChatMessage{Role: role, Content: t.Content})
	}
	return out
}

var smallTalk = map[string]struct{}{
	"hi": {}, "hii": {}, "hello": {}, "hey": {}, "heya": {}, "hola": {}, "yo": {}, "sup": {},
	"good morning": {}, "good afternoon": {}, "good evening": {}, "good night": {},
	"thanks": {}, "thank you": {}, "thx": {}, "ok": {}, "okay": {}, "cool": {},
	"bye": {}, "goodbye": {}, "see you": {}, "see ya": {}, "cya": {},
	"how are you": {}, "whats up": {},
}

// Normalize lowercases s, drops punctuation and symbols, and collapses spaces.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsConversational reports greetings, farewells and inputs too short to search for.
func IsConversational(message string) bool {
	n := Normalize(message)
	if len([]rune(n)) < 3 {
		return true
	}
	_, ok := smallTalk[n]
	return ok
}

var frustrationSignals = []string{
	"just tell me", "tell me the answer", "give me the answer", "what is the answer", "whats the answer",
	"just answer", "i dont know", "idk", "i give up", "im stuck", "i am stuck",
	"im confused", "i am confused", "frustrat", "no idea",
}

func SignalsFrustration(message string) bool {
	n := " " + Normalize(message) + " "
	for _, sig := range frustrationSignals {
		if strings.Contains(n, " "+sig) {
			return true
		}
	}
	return false
}
