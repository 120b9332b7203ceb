package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Sender はデバイストークン宛てにプッシュ通知を送信するインターフェース。
type Sender interface {
	Send(ctx context.Context, deviceToken string, msg Message) error
}

// NopSender は通知が設定されていない場合に使用する何もしないSender。
type NopSender struct{}

// Send は何もせずnilを返す。
func (NopSender) Send(context.Context, string, Message) error { return nil }

const (
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	fcmEndpointFmt = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
)

// FCMSender はFirebase Cloud Messaging HTTP v1 APIで通知を送信する。
// 認証済みHTTPクライアントは最初の送信時に一度だけ生成する。
type FCMSender struct {
	endpoint  string
	newClient func() (*http.Client, error)

	once    sync.Once
	client  *http.Client
	initErr error
}

// NewFCMSender はサービスアカウントの認証情報ファイルを使うFCMSenderを生成する。
// 認証情報の読み込みは最初のSendまで遅延する。
func NewFCMSender(projectID, credentialsFile string) *FCMSender {
	return &FCMSender{
		endpoint: fmt.Sprintf(fcmEndpointFmt, projectID),
		newClient: func() (*http.Client, error) {
			data, err := os.ReadFile(credentialsFile)
			if err != nil {
				return nil, fmt.Errorf("FCM認証情報の読み込みに失敗しました: %w", err)
			}
			// トークンの更新は送信ごとのコンテキストではなくプロセス全体で行う
			ctx := context.Background()
			creds, err := google.CredentialsFromJSON(ctx, data, fcmScope)
			if err != nil {
				return nil, fmt.Errorf("FCM認証情報の解析に失敗しました: %w", err)
			}
			return oauth2.NewClient(ctx, creds.TokenSource), nil
		},
	}
}

// NewFCMSenderWithClient は送信先URLとHTTPクライアントを指定してFCMSenderを生成する。
func NewFCMSenderWithClient(endpoint string, client *http.Client) *FCMSender {
	return &FCMSender{
		endpoint:  endpoint,
		newClient: func() (*http.Client, error) { return client, nil },
	}
}

// httpClient は認証済みクライアントを返す。初期化の失敗は以降の呼び出しでも同じエラーを返す。
func (s *FCMSender) httpClient() (*http.Client, error) {
	s.once.Do(func() {
		s.client, s.initErr = s.newClient()
	})
	return s.client, s.initErr
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Webpush      *fcmWebpush       `json:"webpush,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmWebpush struct {
	FCMOptions struct {
		Link string `json:"link,omitempty"`
	} `json:"fcm_options"`
}

// Send は通知を1件送信する。
func (s *FCMSender) Send(ctx context.Context, deviceToken string, msg Message) error {
	body := fcmRequest{Message: fcmMessage{
		Token:        deviceToken,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
	}}
	if msg.Link != "" {
		body.Message.Data = map[string]string{"click_action": msg.Link}
		body.Message.Webpush = &fcmWebpush{}
		body.Message.Webpush.FCMOptions.Link = msg.Link
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("通知のエンコードに失敗しました: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("通知リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client, err := s.httpClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("通知の送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("通知の送信に失敗しました: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
