package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/campusfind/internal/metrics"
	"github.com/hitoshi/campusfind/internal/model"
)

// DefaultTimeout は1件の通知配信にかける時間の既定値。
const DefaultTimeout = 10 * time.Second

// UserLookup は受信者のデバイストークン取得に使うインターフェース。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Dispatcher は状態遷移のイベントをバックグラウンドで配信する。
// 配信は最大1回で、再試行もキューイングも行わない。
type Dispatcher struct {
	users   UserLookup
	sender  Sender
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(users UserLookup, sender Sender, m metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if sender == nil {
		sender = NopSender{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{users: users, sender: sender, metrics: m, logger: logger, timeout: timeout}
}

// Dispatch はイベントの配信を開始してすぐに戻る。
// 呼び出し元のコンテキストがキャンセルされても配信は継続する。
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(ctx, ev)
	}()
}

// Wait は配信中の通知がすべて終わるまで待機する。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordNotification(string(ev.Kind), metrics.OutcomeError)
			d.logger.Error("通知配信中にpanicが発生しました", slog.Any("panic", r), slog.String("claim_id", ev.ClaimID))
		}
	}()

	recipientID, msg, ok := Translate(ev)
	if !ok {
		d.logger.Warn("未知の通知イベントです", slog.String("kind", string(ev.Kind)))
		return
	}

	user, err := d.users.FindByID(ctx, recipientID)
	if err != nil {
		d.metrics.RecordNotification(string(ev.Kind), metrics.OutcomeError)
		d.logger.Warn("通知先ユーザーの取得に失敗しました",
			slog.String("kind", string(ev.Kind)),
			slog.String("user_id", recipientID),
			slog.String("error", err.Error()),
		)
		return
	}
	if user == nil || user.DeviceToken == "" {
		d.metrics.RecordNotification(string(ev.Kind), metrics.OutcomeSkipped)
		return
	}

	if err := d.sender.Send(ctx, user.DeviceToken, msg); err != nil {
		d.metrics.RecordNotification(string(ev.Kind), metrics.OutcomeError)
		d.logger.Warn("通知の送信に失敗しました",
			slog.String("kind", string(ev.Kind)),
			slog.String("claim_id", ev.ClaimID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.RecordNotification(string(ev.Kind), metrics.OutcomeOK)
}
