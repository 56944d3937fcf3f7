package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chime/pkg/chat"
	"chime/pkg/presenter"
)

type fakeChat struct {
	mu sync.Mutex

	messages map[string]*chat.Message
	fetchErr error
	sendErr  error
	addErr   error

	// fetchGate, when set, blocks GetMessage until closed.
	fetchGate chan struct{}

	fetchCalls int
	sent       [][3]string
	tokens     []string
}

func (f *fakeChat) GetMessage(_ context.Context, messageID string) (*chat.Message, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.fetchGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return msg, nil
}

func (f *fakeChat) SendMessage(_ context.Context, channelType, channelID, text string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, [3]string{channelType, channelID, text})
	return &chat.Message{ID: "sent", Text: text}, nil
}

func (f *fakeChat) AddDevice(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeChat) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeChat) sentMessages() [][3]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][3]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeImages struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
	urls  []string
}

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.urls = append(f.urls, url)
	return f.data, f.err
}

func (f *fakeImages) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type shownNotification struct {
	notificationID int32
	descriptor     presenter.Descriptor
}

type fakePresenter struct {
	mu        sync.Mutex
	shown     []shownNotification
	dismissed []int32
	showErr   error
	shownCh   chan struct{}
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{shownCh: make(chan struct{}, 16)}
}

func (f *fakePresenter) Show(_ context.Context, notificationID int32, d presenter.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return f.showErr
	}
	f.shown = append(f.shown, shownNotification{notificationID: notificationID, descriptor: d})
	select {
	case f.shownCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePresenter) Dismiss(_ context.Context, notificationID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, notificationID)
	return nil
}

func (f *fakePresenter) shownNotifications() []shownNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]shownNotification, len(f.shown))
	copy(out, f.shown)
	return out
}

type staticSensor bool

func (s staticSensor) IsForeground() bool { return bool(s) }

func testMessage(id, channelName, text, imageURL string) *chat.Message {
	return &chat.Message{
		ID:   id,
		Text: text,
		User: chat.User{ID: "u1", Image: imageURL},
		ExtraData: map[string]any{
			"channel": map[string]any{
				"id":   "general",
				"type": "messaging",
				"name": channelName,
			},
		},
	}
}

type coordinatorFixture struct {
	coordinator *Coordinator
	chat        *fakeChat
	images      *fakeImages
	presenter   *fakePresenter
}

func newFixture(t *testing.T, foreground bool) *coordinatorFixture {
	t.Helper()

	chatClient := &fakeChat{messages: make(map[string]*chat.Message)}
	imageFetcher := &fakeImages{data: []byte("avatar")}
	p := newFakePresenter()

	coordinator, err := NewCoordinator(Options{
		Chat:       chatClient,
		Images:     imageFetcher,
		Presenter:  p,
		Foreground: staticSensor(foreground),
	})
	if err != nil {
		t.Fatalf("NewCoordinator error: %v", err)
	}

	return &coordinatorFixture{coordinator: coordinator, chat: chatClient, images: imageFetcher, presenter: p}
}

func waitForDrained(t *testing.T, coordinator *Coordinator) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for coordinator.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("identity table not drained, %d records pending", coordinator.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForShow(t *testing.T, p *fakePresenter) {
	t.Helper()

	select {
	case <-p.shownCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for presenter show")
	}
}

func TestAdmitRejectsEmptyMessageID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	if got := f.coordinator.Admit(context.Background(), "  ", PushOrigin(nil)); got != Rejected {
		t.Fatalf("result = %v, want rejected", got)
	}
	if got := f.coordinator.Pending(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestPushThenEventRaceShowsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m1"] = testMessage("m1", "General", "hello", "https://cdn.example/u1.jpg")

	gate := make(chan struct{})
	f.chat.fetchGate = gate

	envelope := &PushEnvelope{Data: map[string]string{PushMessageIDKey: "m1"}}
	if got := f.coordinator.Admit(context.Background(), "m1", PushOrigin(envelope)); got != Admitted {
		t.Fatalf("push admit = %v, want admitted", got)
	}

	event := &chat.Event{Type: chat.EventMessageNew, Message: f.chat.messages["m1"]}
	if got := f.coordinator.Admit(context.Background(), "m1", EventOrigin(event)); got != Duplicate {
		t.Fatalf("event admit = %v, want duplicate", got)
	}

	close(gate)
	waitForShow(t, f.presenter)
	waitForDrained(t, f.coordinator)

	if got := f.chat.fetches(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}

	shown := f.presenter.shownNotifications()
	if len(shown) != 1 {
		t.Fatalf("show calls = %d, want 1", len(shown))
	}

	d := shown[0].descriptor
	if d.Title != "General" || d.Body != "hello" {
		t.Fatalf("descriptor title/body = %q/%q", d.Title, d.Body)
	}
	if d.Priority != presenter.PriorityHigh || d.Category != presenter.CategoryMessage {
		t.Fatalf("descriptor priority/category = %q/%q", d.Priority, d.Category)
	}
	if string(d.Image) != "avatar" {
		t.Fatalf("descriptor image = %q", d.Image)
	}
	if d.ContentIntent.Action != "chime.open.push" {
		t.Fatalf("content intent = %q, want push-derived", d.ContentIntent.Action)
	}
	if d.Reply.ChannelID != "general" || d.Reply.ChannelType != "messaging" {
		t.Fatalf("reply intent = %+v", d.Reply)
	}
	if d.Reply.NotificationID != shown[0].notificationID {
		t.Fatal("reply intent must carry the presented notification id")
	}
}

func TestForegroundSuppression(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	f.chat.messages["m2"] = testMessage("m2", "General", "hi", "https://cdn.example/u1.jpg")

	if got := f.coordinator.Admit(context.Background(), "m2", PushOrigin(nil)); got != Admitted {
		t.Fatalf("admit = %v, want admitted", got)
	}

	waitForDrained(t, f.coordinator)

	if got := f.chat.fetches(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	if got := f.images.fetches(); got != 1 {
		t.Fatalf("image calls = %d, want 1", got)
	}
	if got := len(f.presenter.shownNotifications()); got != 0 {
		t.Fatalf("show calls = %d, want 0 while foreground", got)
	}
}

func TestMissingMetadataDropsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m3"] = testMessage("m3", "", "hello", "")

	f.coordinator.Admit(context.Background(), "m3", PushOrigin(nil))
	waitForDrained(t, f.coordinator)

	if got := f.images.fetches(); got != 0 {
		t.Fatal("image load must not start without valid metadata")
	}
	if got := len(f.presenter.shownNotifications()); got != 0 {
		t.Fatalf("show calls = %d, want 0", got)
	}
}

func TestEmptyMessageTextDropsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m3b"] = testMessage("m3b", "General", "", "")

	f.coordinator.Admit(context.Background(), "m3b", EventOrigin(&chat.Event{Type: chat.EventMessageNew}))
	waitForDrained(t, f.coordinator)

	if got := len(f.presenter.shownNotifications()); got != 0 {
		t.Fatalf("show calls = %d, want 0", got)
	}
}

func TestFetchFailureDropsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.fetchErr = errors.New("backend down")

	f.coordinator.Admit(context.Background(), "m-err", PushOrigin(nil))
	waitForDrained(t, f.coordinator)

	if got := len(f.presenter.shownNotifications()); got != 0 {
		t.Fatalf("show calls = %d, want 0", got)
	}
}

func TestImageFailurePresentsWithoutImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m4"] = testMessage("m4", "General", "pic?", "https://cdn.example/u1.jpg")
	f.images.err = errors.New("cdn timeout")

	f.coordinator.Admit(context.Background(), "m4", PushOrigin(nil))
	waitForShow(t, f.presenter)
	waitForDrained(t, f.coordinator)

	shown := f.presenter.shownNotifications()
	if len(shown) != 1 {
		t.Fatalf("show calls = %d, want 1", len(shown))
	}
	if shown[0].descriptor.Image != nil {
		t.Fatal("expected no image in descriptor")
	}
}

func TestMissingImageURLPresentsWithoutImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m5"] = testMessage("m5", "General", "no avatar", "")
	f.images.err = errors.New("no image url")

	f.coordinator.Admit(context.Background(), "m5", PushOrigin(nil))
	waitForShow(t, f.presenter)
	waitForDrained(t, f.coordinator)

	if got := len(f.presenter.shownNotifications()); got != 1 {
		t.Fatalf("show calls = %d, want 1", got)
	}
}

func TestDuplicatePushAdmitsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m6"] = testMessage("m6", "General", "twice", "")

	gate := make(chan struct{})
	f.chat.fetchGate = gate

	envelope := &PushEnvelope{Data: map[string]string{PushMessageIDKey: "m6"}}
	first := f.coordinator.Admit(context.Background(), "m6", PushOrigin(envelope))
	second := f.coordinator.Admit(context.Background(), "m6", PushOrigin(envelope))
	close(gate)

	if first != Admitted || second != Duplicate {
		t.Fatalf("results = %v, %v; want admitted, duplicate", first, second)
	}

	waitForShow(t, f.presenter)
	waitForDrained(t, f.coordinator)

	if got := f.chat.fetches(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	if got := len(f.presenter.shownNotifications()); got != 1 {
		t.Fatalf("show calls = %d, want 1", got)
	}
}

func TestEventOriginBuildsEventIntent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.chat.messages["m7"] = testMessage("m7", "General", "evented", "")

	event := &chat.Event{Type: chat.EventMessageNew, Message: &chat.Message{ID: "m7"}}
	f.coordinator.Admit(context.Background(), "m7", EventOrigin(event))
	waitForShow(t, f.presenter)

	shown := f.presenter.shownNotifications()
	if shown[0].descriptor.ContentIntent.Action != "chime.open.event" {
		t.Fatalf("content intent = %q, want event-derived", shown[0].descriptor.ContentIntent.Action)
	}
	if got := shown[0].descriptor.ContentIntent.Extras[PushMessageIDKey]; got != "m7" {
		t.Fatalf("intent message id = %q, want m7", got)
	}
}

func TestNotificationIDsAreUnique(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	fixed := time.Unix(1700000000, 0)
	f.coordinator.now = func() time.Time { return fixed }

	seen := make(map[int32]bool)
	for i := 0; i < 100; i++ {
		id := f.coordinator.nextNotificationID()
		if seen[id] {
			t.Fatalf("duplicate notification id %d", id)
		}
		seen[id] = true
	}
}

func TestRegisterPushTokenNotifiesListener(t *testing.T) {
	t.Parallel()

	chatClient := &fakeChat{messages: make(map[string]*chat.Message)}
	listener := &recordingListener{}

	coordinator, err := NewCoordinator(Options{
		Chat:       chatClient,
		Images:     &fakeImages{},
		Presenter:  newFakePresenter(),
		Foreground: staticSensor(false),
		Listener:   listener,
	})
	if err != nil {
		t.Fatalf("NewCoordinator error: %v", err)
	}

	if err := coordinator.RegisterPushToken(context.Background(), "token-1"); err != nil {
		t.Fatalf("RegisterPushToken error: %v", err)
	}
	if listener.successes != 1 {
		t.Fatalf("successes = %d, want 1", listener.successes)
	}

	chatClient.addErr = &chat.APIError{Status: 409, Message: "already registered"}
	if err := coordinator.RegisterPushToken(context.Background(), "token-1"); err == nil {
		t.Fatal("expected registration error")
	}
	if listener.errorCode != 409 {
		t.Fatalf("error code = %d, want 409", listener.errorCode)
	}
}

type recordingListener struct {
	successes int
	errorMsg  string
	errorCode int
}

func (l *recordingListener) OnDeviceRegisteredSuccess() { l.successes++ }

func (l *recordingListener) OnDeviceRegisteredError(message string, code int) {
	l.errorMsg = message
	l.errorCode = code
}
