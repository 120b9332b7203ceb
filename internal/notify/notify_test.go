package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/repository"
)

// --- テスト用モック ---

type mockUsers struct {
	users map[string]*model.User
	err   error
}

func (m *mockUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

type sent struct {
	token string
	msg   Message
}

type mockSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (m *mockSender) Send(_ context.Context, token string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{token: token, msg: msg})
	return m.err
}

// recordingMetrics は通知結果のみを記録するMetricsCollector。
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) RecordOracleCall(string, string, time.Duration) {}
func (r *recordingMetrics) RecordTagFallback(string)                       {}
func (r *recordingMetrics) RecordMatchPath(string, int)                    {}
func (r *recordingMetrics) RecordClaimTransition(string, string)           {}
func (r *recordingMetrics) RecordHTTPStatus(int)                           {}
func (r *recordingMetrics) RecordNotification(_ string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

// --- Translate テスト ---

func TestTranslate_Recipients(t *testing.T) {
	base := Event{ClaimID: "c1", ClaimantID: "claimant", ItemID: "i1", ItemDescription: "blue bottle", ReporterID: "reporter"}

	tests := []struct {
		kind      EventKind
		recipient string
		title     string
	}{
		{EventClaimSubmitted, "reporter", "New Claim Request"},
		{EventClaimAccepted, "claimant", "Claim Accepted!"},
		{EventClaimRejected, "claimant", "Claim Rejected"},
		{EventClaimCompleted, "claimant", "Item Recovered"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ev := base
			ev.Kind = tt.kind
			recipient, msg, ok := Translate(ev)
			if !ok {
				t.Fatal("既知のイベントが変換されなかった")
			}
			if recipient != tt.recipient {
				t.Errorf("recipient = %q, want %q", recipient, tt.recipient)
			}
			if msg.Title != tt.title {
				t.Errorf("Title = %q, want %q", msg.Title, tt.title)
			}
			if msg.Link != "/item/i1" {
				t.Errorf("Link = %q", msg.Link)
			}
		})
	}

	if _, _, ok := Translate(Event{Kind: "unknown"}); ok {
		t.Error("未知のイベントはokがfalseであるべき")
	}
}

// --- Dispatcher テスト ---

func TestDispatcher_DeliversToRecipientToken(t *testing.T) {
	users := &mockUsers{users: map[string]*model.User{"reporter": {ID: "reporter", DeviceToken: "tok-r"}}}
	sender := &mockSender{}
	rec := &recordingMetrics{}
	d := NewDispatcher(users, sender, rec, nil, time.Second)

	d.Dispatch(context.Background(), Event{Kind: EventClaimSubmitted, ReporterID: "reporter", ItemID: "i1", ItemDescription: "keys"})
	d.Wait()

	if len(sender.sent) != 1 || sender.sent[0].token != "tok-r" {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "ok" {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

func TestDispatcher_FailuresAreAbsorbed(t *testing.T) {
	tests := []struct {
		name    string
		users   *mockUsers
		sender  *mockSender
		outcome string
		sends   int
	}{
		{"send error", &mockUsers{users: map[string]*model.User{"c": {DeviceToken: "t"}}}, &mockSender{err: errors.New("boom")}, "error", 1},
		{"lookup error", &mockUsers{err: errors.New("db down")}, &mockSender{}, "error", 0},
		{"no token", &mockUsers{users: map[string]*model.User{"c": {}}}, &mockSender{}, "skipped", 0},
		{"unknown user", &mockUsers{users: map[string]*model.User{}}, &mockSender{}, "skipped", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingMetrics{}
			d := NewDispatcher(tt.users, tt.sender, rec, nil, time.Second)

			d.Dispatch(context.Background(), Event{Kind: EventClaimAccepted, ClaimantID: "c"})
			d.Wait()

			if len(tt.sender.sent) != tt.sends {
				t.Errorf("送信回数 = %d, want %d", len(tt.sender.sent), tt.sends)
			}
			if len(rec.outcomes) != 1 || rec.outcomes[0] != tt.outcome {
				t.Errorf("outcomes = %v, want [%s]", rec.outcomes, tt.outcome)
			}
		})
	}
}

func TestDispatcher_SurvivesCanceledRequestContext(t *testing.T) {
	users := &mockUsers{users: map[string]*model.User{"c": {DeviceToken: "t"}}}
	sender := &mockSender{}
	d := NewDispatcher(users, sender, nil, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, Event{Kind: EventClaimRejected, ClaimantID: "c"})
	cancel()
	d.Wait()

	if len(sender.sent) != 1 {
		t.Errorf("リクエスト終了後も配信されるべき: %+v", sender.sent)
	}
}

// --- FCMSender テスト ---

func TestFCMSender_Send(t *testing.T) {
	var got fcmRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("リクエストのデコードに失敗: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewFCMSenderWithClient(srv.URL, srv.Client())
	err := s.Send(context.Background(), "tok", Message{Title: "Claim Accepted!", Body: "b", Link: "/item/1"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if got.Message.Token != "tok" || got.Message.Notification.Title != "Claim Accepted!" {
		t.Errorf("message = %+v", got.Message)
	}
	if got.Message.Data["click_action"] != "/item/1" {
		t.Errorf("click_action = %q", got.Message.Data["click_action"])
	}
}

func TestFCMSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "UNREGISTERED", http.StatusNotFound)
	}))
	defer srv.Close()

	if err := NewFCMSenderWithClient(srv.URL, srv.Client()).Send(context.Background(), "tok", Message{}); err == nil {
		t.Fatal("404でエラーが返されるべき")
	}
}

func TestFCMSender_MissingCredentials(t *testing.T) {
	s := NewFCMSender("proj", filepath.Join(t.TempDir(), "missing.json"))

	for i := 0; i < 2; i++ {
		err := s.Send(context.Background(), "tok", Message{})
		if err == nil || !strings.Contains(err.Error(), "FCM認証情報の読み込みに失敗しました") {
			t.Errorf("%d回目: err = %v", i+1, err)
		}
	}
	if s.endpoint != "https://fcm.googleapis.com/v1/projects/proj/messages:send" {
		t.Errorf("endpoint = %q", s.endpoint)
	}
}

// --- Inbox テスト ---

type mockClaimRepo struct {
	repository.ClaimRepository
	incoming []*model.ClaimWithItem
	outgoing []*model.ClaimWithItem
}

func (m *mockClaimRepo) ListIncomingPending(context.Context, string) ([]*model.ClaimWithItem, error) {
	return m.incoming, nil
}

func (m *mockClaimRepo) ListOutgoingResolved(context.Context, string) ([]*model.ClaimWithItem, error) {
	return m.outgoing, nil
}

type mockReadRepo struct {
	read   map[string]bool
	marked []string
}

func (m *mockReadRepo) ListRead(context.Context, string) (map[string]bool, error) {
	return m.read, nil
}

func (m *mockReadRepo) MarkRead(_ context.Context, _ string, ids []string) error {
	m.marked = append(m.marked, ids...)
	return nil
}

type mockUserRepo struct {
	repository.UserRepository
	token string
}

func (m *mockUserRepo) UpdateDeviceToken(_ context.Context, _, token string) error {
	m.token = token
	return nil
}

func claimWithItem(id string, status model.ClaimStatus, at time.Time) *model.ClaimWithItem {
	return &model.ClaimWithItem{
		Claim:           model.Claim{ID: id, ItemID: "item-" + id, ClaimantID: "u2", Status: status, CreatedAt: at},
		ItemDescription: "desc " + id,
		ItemReporterID:  "u1",
	}
}

func TestInbox_List(t *testing.T) {
	now := time.Now().UTC()
	claims := &mockClaimRepo{
		incoming: []*model.ClaimWithItem{claimWithItem("1", model.ClaimStatusPending, now.Add(-2*time.Hour))},
		outgoing: []*model.ClaimWithItem{
			claimWithItem("2", model.ClaimStatusAccepted, now.Add(-time.Hour)),
			claimWithItem("3", model.ClaimStatusCompleted, now.Add(-3*time.Hour)),
		},
	}
	reads := &mockReadRepo{read: map[string]bool{"claim_2_accepted": true}}
	inbox := NewInbox(claims, reads, &mockUserRepo{})

	got, err := inbox.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	wantIDs := []string{"claim_2_accepted", "claim_1_pending", "claim_3_completed"}
	if len(got) != len(wantIDs) {
		t.Fatalf("len = %d, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if !got[0].Read || got[1].Read {
		t.Errorf("既読フラグが正しくない: %+v", got)
	}
	if got[1].Kind != KindIncoming || got[0].Kind != KindOutgoing {
		t.Errorf("通知の方向が正しくない: %+v", got)
	}
	if got[2].Body != "Your claim for 'desc 3' was verified & recovered." {
		t.Errorf("Body = %q", got[2].Body)
	}
}

func TestInbox_MarkRead(t *testing.T) {
	reads := &mockReadRepo{}
	inbox := NewInbox(&mockClaimRepo{}, reads, &mockUserRepo{})

	if err := inbox.MarkRead(context.Background(), "u1", []string{" claim_1_pending ", ""}); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(reads.marked) != 1 || reads.marked[0] != "claim_1_pending" {
		t.Errorf("marked = %v", reads.marked)
	}

	err := inbox.MarkRead(context.Background(), "u1", []string{" "})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
		t.Errorf("INVALID_REQUESTを期待したが %v", err)
	}
}

func TestInbox_SaveDeviceToken(t *testing.T) {
	users := &mockUserRepo{}
	inbox := NewInbox(&mockClaimRepo{}, &mockReadRepo{}, users)

	if err := inbox.SaveDeviceToken(context.Background(), "u1", ""); err == nil {
		t.Error("空のトークンはエラーになるべき")
	}
	if err := inbox.SaveDeviceToken(context.Background(), "u1", "tok"); err != nil {
		t.Fatal(err)
	}
	if users.token != "tok" {
		t.Errorf("token = %q", users.token)
	}
}
