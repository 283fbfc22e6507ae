package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

const testUser = "819012345678"

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.InMemoryStore, *mockMessenger) {
	t.Helper()
	cat, err := catalog.DefaultIntakeCatalog()
	if err != nil {
		t.Fatalf("DefaultIntakeCatalog returned error: %v", err)
	}
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{}
	engine := NewEngine(cat, st, messenger, opts...)
	return engine, st, messenger
}

func sendText(t *testing.T, e *Engine, body string) {
	t.Helper()
	ev := models.TextEvent{UserID: testUser, Body: body, Time: time.Now().Unix()}
	if err := e.OnTextEvent(context.Background(), ev); err != nil {
		t.Fatalf("OnTextEvent(%q) returned error: %v", body, err)
	}
}

func sendChoice(t *testing.T, e *Engine, token string) {
	t.Helper()
	ev := models.ChoiceEvent{UserID: testUser, Token: token, Time: time.Now().Unix()}
	if err := e.OnChoiceEvent(context.Background(), ev); err != nil {
		t.Fatalf("OnChoiceEvent(%q) returned error: %v", token, err)
	}
}

// walkHappyPath answers every question with all gates set to "no".
func walkHappyPath(t *testing.T, e *Engine) {
	t.Helper()
	sendText(t, e, "register")
	sendText(t, e, "Taro Tanaka")
	sendText(t, e, "Tanaka Taro")
	sendText(t, e, "09012345678")
	sendText(t, e, "1985")
	sendText(t, e, "3")
	sendText(t, e, "14")
	sendChoice(t, e, catalog.TokenMale)
	sendText(t, e, "172")
	sendText(t, e, "68")
	sendChoice(t, e, catalog.TokenNo)
	sendChoice(t, e, catalog.TokenNo)
	sendChoice(t, e, catalog.TokenNo)
}

func TestEngine_HappyPathCompletes(t *testing.T) {
	engine, st, messenger := newTestEngine(t)

	walkHappyPath(t, engine)

	if !st.IsCompleted(testUser) {
		t.Fatalf("expected user completed after full walk")
	}
	if _, ok := st.GetSession(testUser); ok {
		t.Errorf("session should be gone after completion")
	}
	last, ok := messenger.last()
	if !ok || !strings.Contains(last.Body, "Thank you for completing") {
		t.Errorf("expected completion message last, got %+v", last)
	}

	rec, _ := st.GetCompleted(testUser)
	for _, want := range []string{"Taro Tanaka (Tanaka Taro)", "09012345678", "1985/03/14", "Height: 172 cm", "Weight: 68 kg", "Past illness: No"} {
		if !strings.Contains(rec.SummaryText, want) {
			t.Errorf("summary missing %q:\n%s", want, rec.SummaryText)
		}
	}
}

func TestEngine_InvalidAnswerDoesNotAdvance(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")
	sendText(t, engine, "Taro Tanaka")
	sendText(t, engine, "Tanaka Taro")

	before := messenger.count()

	// Phone must be exactly 11 digits; repeated bad input never mutates.
	for i := 0; i < 3; i++ {
		sendText(t, engine, "not-a-phone")
	}

	sess, _ := st.GetSession(testUser)
	if _, answered := sess.Answers[catalog.QuestionPhone]; answered {
		t.Errorf("invalid answer must not be stored")
	}
	if got := messenger.count() - before; got != 3 {
		t.Errorf("expected one reprompt per invalid input, got %d", got)
	}

	// A valid retry still advances.
	sendText(t, engine, "09012345678")
	sess, _ = st.GetSession(testUser)
	if sess.Answers[catalog.QuestionPhone] != "09012345678" {
		t.Errorf("valid retry not stored: %v", sess.Answers)
	}
}

func TestEngine_FreeTextWhileChoiceExpected(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")
	sendText(t, engine, "Taro Tanaka")
	sendText(t, engine, "Tanaka Taro")
	sendText(t, engine, "09012345678")
	sendText(t, engine, "1985")
	sendText(t, engine, "3")
	sendText(t, engine, "14")

	// Gender expects a choice; plain text re-offers the choices.
	sendText(t, engine, "male please")

	last, _ := messenger.last()
	if last.Options == nil {
		t.Errorf("expected choice prompt re-offered, got %+v", last)
	}
	sess, _ := st.GetSession(testUser)
	if _, answered := sess.Answers[catalog.QuestionGender]; answered {
		t.Errorf("typed text must not answer a choice question")
	}
}

func TestEngine_ChoiceWhileFreeTextExpected(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")

	// First question is free-text name; a button press is rejected.
	sendChoice(t, engine, catalog.TokenYes)

	last, _ := messenger.last()
	if !strings.Contains(last.Body, "type your answer") {
		t.Errorf("expected type-answer nudge, got %q", last.Body)
	}
	sess, _ := st.GetSession(testUser)
	if len(sess.Answers) != 0 {
		t.Errorf("choice on free-text question must not mutate session")
	}
}

func TestEngine_StaleTokenIgnored(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")
	sendText(t, engine, "Taro Tanaka")
	sendText(t, engine, "Tanaka Taro")
	sendText(t, engine, "09012345678")
	sendText(t, engine, "1985")
	sendText(t, engine, "3")
	sendText(t, engine, "14")

	// Gender is current; a replayed yes/no token from a gate is unknown here.
	sendChoice(t, engine, "maybe")

	sess, _ := st.GetSession(testUser)
	if _, answered := sess.Answers[catalog.QuestionGender]; answered {
		t.Errorf("stale token must not be stored")
	}
	last, _ := messenger.last()
	if last.Options == nil {
		t.Errorf("expected current choices re-offered, got %+v", last)
	}
}

func TestEngine_GateYesAsksDetails(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")
	sendText(t, engine, "Taro Tanaka")
	sendText(t, engine, "Tanaka Taro")
	sendText(t, engine, "09012345678")
	sendText(t, engine, "1985")
	sendText(t, engine, "3")
	sendText(t, engine, "14")
	sendChoice(t, engine, catalog.TokenFemale)
	sendText(t, engine, "160")
	sendText(t, engine, "52")
	sendChoice(t, engine, catalog.TokenYes)

	last, _ := messenger.last()
	if !strings.Contains(last.Body, "describe the illness") {
		t.Errorf("expected history details prompt after yes, got %q", last.Body)
	}

	sendText(t, engine, "appendicitis in 2015")
	sendChoice(t, engine, catalog.TokenNo)
	sendChoice(t, engine, catalog.TokenNo)

	if !st.IsCompleted(testUser) {
		t.Fatalf("expected completion")
	}
	rec, _ := st.GetCompleted(testUser)
	if !strings.Contains(rec.SummaryText, "Past illness: Yes (appendicitis in 2015)") {
		t.Errorf("summary missing gate details:\n%s", rec.SummaryText)
	}
}

func TestEngine_CompletedUserBlockedUntilReset(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	walkHappyPath(t, engine)

	// Further free text never re-enters the flow.
	sendText(t, engine, "172")
	last, _ := messenger.last()
	if !strings.Contains(last.Body, "already complete") {
		t.Errorf("expected already-completed reply, got %q", last.Body)
	}

	// Replayed button press is also inert.
	sendChoice(t, engine, catalog.TokenYes)
	if !st.IsCompleted(testUser) {
		t.Errorf("completed state must survive replayed events")
	}

	// Reset then register starts over.
	sendText(t, engine, "reset")
	if st.IsCompleted(testUser) {
		t.Errorf("reset should clear completed state")
	}
	sendText(t, engine, "register")
	last, _ = messenger.last()
	if !strings.Contains(last.Body, "full name") {
		t.Errorf("expected first question after register, got %q", last.Body)
	}
}

func TestEngine_CompletedUserGetsResponderReply(t *testing.T) {
	responder := &mockResponder{Reply: "Glad to hear from you!"}
	engine, _, messenger := newTestEngine(t, WithResponder(responder))
	walkHappyPath(t, engine)

	sendText(t, engine, "thanks for everything")

	last, _ := messenger.last()
	if last.Body != "Glad to hear from you!" {
		t.Errorf("expected responder reply, got %q", last.Body)
	}
}

func TestEngine_ResponderFailureFallsBack(t *testing.T) {
	responder := &mockResponder{Fail: fmt.Errorf("api down")}
	engine, _, messenger := newTestEngine(t, WithResponder(responder))
	walkHappyPath(t, engine)

	sendText(t, engine, "hello?")

	last, _ := messenger.last()
	if !strings.Contains(last.Body, "already complete") {
		t.Errorf("expected fixed fallback reply, got %q", last.Body)
	}
}

func TestEngine_RegisterMidFlowRestarts(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")
	sendText(t, engine, "Taro Tanaka")
	sendText(t, engine, "register")

	sess, _ := st.GetSession(testUser)
	if len(sess.Answers) != 0 {
		t.Errorf("register must discard prior answers, got %v", sess.Answers)
	}
	last, _ := messenger.last()
	if !strings.Contains(last.Body, "full name") {
		t.Errorf("expected first question again, got %q", last.Body)
	}
}

func TestEngine_NotifierAndArchiveOnCompletion(t *testing.T) {
	notifier := &mockNotifier{}
	archive := &mockArchive{}
	engine, _, _ := newTestEngine(t, WithNotifier(notifier), WithArchive(archive))
	walkHappyPath(t, engine)

	if len(notifier.Notified) != 1 || !strings.Contains(notifier.Notified[0], "Taro Tanaka") {
		t.Errorf("expected one notification with name, got %v", notifier.Notified)
	}
	if len(archive.Recorded) != 1 {
		t.Fatalf("expected one archive record, got %d", len(archive.Recorded))
	}
	if archive.Recorded[0].UserID != testUser {
		t.Errorf("archive record has wrong user %q", archive.Recorded[0].UserID)
	}
}

func TestEngine_NotifierFailureDoesNotBlockCompletion(t *testing.T) {
	notifier := &mockNotifier{Fail: fmt.Errorf("smtp down")}
	archive := &mockArchive{Fail: fmt.Errorf("db down")}
	engine, st, messenger := newTestEngine(t, WithNotifier(notifier), WithArchive(archive))
	walkHappyPath(t, engine)

	if !st.IsCompleted(testUser) {
		t.Errorf("completion must survive notifier and archive failures")
	}
	last, _ := messenger.last()
	if !strings.Contains(last.Body, "Thank you for completing") {
		t.Errorf("expected completion message, got %q", last.Body)
	}
}

func TestEngine_DistinctUsersProgressIndependently(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("8190123456%02d", n)
			ctx := context.Background()
			if err := engine.OnTextEvent(ctx, models.TextEvent{UserID: userID, Body: "register", Time: time.Now().Unix()}); err != nil {
				t.Errorf("register failed for %s: %v", userID, err)
				return
			}
			if err := engine.OnTextEvent(ctx, models.TextEvent{UserID: userID, Body: "User " + userID, Time: time.Now().Unix()}); err != nil {
				t.Errorf("answer failed for %s: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	sessions, _ := st.Counts()
	if sessions != 8 {
		t.Errorf("expected 8 independent sessions, got %d", sessions)
	}
	for i := 0; i < 8; i++ {
		userID := fmt.Sprintf("8190123456%02d", i)
		sess, ok := st.GetSession(userID)
		if !ok || sess.Answers[catalog.QuestionName] != "User "+userID {
			t.Errorf("user %s state corrupted: %+v", userID, sess)
		}
	}
}

func TestEngine_SameUserConcurrentAnswersSerialized(t *testing.T) {
	engine, st, messenger := newTestEngine(t)
	sendText(t, engine, "register")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := models.TextEvent{UserID: testUser, Body: "Taro Tanaka", Time: time.Now().Unix()}
			if err := engine.OnTextEvent(context.Background(), ev); err != nil {
				t.Errorf("OnTextEvent returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Serialized, the submissions answer name and reading and then pile up
	// on the phone question, which rejects them all without mutation. Any
	// double advance past one question would leave extra answers behind.
	sess, _ := st.GetSession(testUser)
	if len(sess.Answers) != 2 {
		t.Fatalf("expected exactly 2 answers after concurrent submissions, got %v", sess.Answers)
	}
	if sess.Answers[catalog.QuestionName] != "Taro Tanaka" || sess.Answers[catalog.QuestionNameReading] != "Taro Tanaka" {
		t.Errorf("unexpected answers %v", sess.Answers)
	}
	if got := messenger.count(); got != 17 {
		t.Errorf("expected one reply per event, got %d", got)
	}
}

func TestEngine_RejectsInvalidEvents(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.OnTextEvent(ctx, models.TextEvent{UserID: "", Body: "hi"}); err == nil {
		t.Errorf("expected error for empty user ID")
	}
	if err := engine.OnChoiceEvent(ctx, models.ChoiceEvent{UserID: testUser, Token: strings.Repeat("x", models.MaxChoiceTokenLength+1)}); err == nil {
		t.Errorf("expected error for oversized token")
	}
}
