// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// ClaimStatus はクレームの状態を表す。
// 遷移はNextでのみ計算し、文字列比較で状態を進めてはならない。
type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusAccepted  ClaimStatus = "accepted"
	ClaimStatusRejected  ClaimStatus = "rejected"
	ClaimStatusCompleted ClaimStatus = "completed"
)

// ClaimAction はクレームに対する操作を表す。
type ClaimAction string

const (
	ClaimActionAccept ClaimAction = "accept"
	ClaimActionReject ClaimAction = "reject"
	ClaimActionVerify ClaimAction = "verify"
)

// ErrInvalidTransition は許可されていない(状態, 操作)の組み合わせを表す。
var ErrInvalidTransition = errors.New("invalid claim transition")

// claimTransitions はクレームの遷移表。
// pending→accepted→completed と pending→rejected のみが存在する。
var claimTransitions = map[ClaimStatus]map[ClaimAction]ClaimStatus{
	ClaimStatusPending: {
		ClaimActionAccept: ClaimStatusAccepted,
		ClaimActionReject: ClaimStatusRejected,
	},
	ClaimStatusAccepted: {
		ClaimActionVerify: ClaimStatusCompleted,
	},
}

// Next は操作適用後の状態を返す。遷移表にない組み合わせはErrInvalidTransitionを返す。
func (s ClaimStatus) Next(action ClaimAction) (ClaimStatus, error) {
	if to, ok := claimTransitions[s][action]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, s)
}

// IsTerminal はこれ以上遷移しない状態かどうかを返す。
func (s ClaimStatus) IsTerminal() bool {
	return len(claimTransitions[s]) == 0
}

// ParseClaimStatus は文字列をClaimStatusに変換する。
func ParseClaimStatus(s string) (ClaimStatus, error) {
	switch ClaimStatus(s) {
	case ClaimStatusPending, ClaimStatusAccepted, ClaimStatusRejected, ClaimStatusCompleted:
		return ClaimStatus(s), nil
	}
	return "", fmt.Errorf("unknown claim status: %q", s)
}

// ParseRespondAction は応答操作（accept/reject）を解析する。
func ParseRespondAction(s string) (ClaimAction, error) {
	switch ClaimAction(s) {
	case ClaimActionAccept, ClaimActionReject:
		return ClaimAction(s), nil
	}
	return "", fmt.Errorf("unknown respond action: %q", s)
}

// Claim はアイテムに対する所有権の申請を表す。
// (ItemID, ClaimantID)の組は一意。VerificationCodeはacceptedの間のみ有効。
type Claim struct {
	ID               string
	ItemID           string
	ClaimantID       string
	Message          string
	Status           ClaimStatus
	ResponseMessage  string
	MeetingLocation  string
	MeetingTime      *time.Time
	VerificationCode string
	CreatedAt        time.Time
}

// ClaimWithClaimant はクレームと申請者の連絡先を結合したモデル。
type ClaimWithClaimant struct {
	Claim
	ClaimantName  string
	ClaimantEmail string
}

// Meeting は受け渡しの待ち合わせ情報を表す。
type Meeting struct {
	Location string
	Time     time.Time
}

// VerifyResult は検証操作の結果を表す。
type VerifyResult struct {
	Claim           Claim
	Item            Item
	AlreadyVerified bool
	RewardedUserID  string
	Reward          int
}

// ClaimWithItem はクレームと対象アイテムの概要を結合したモデル。
// 通知の生成に使用する。
type ClaimWithItem struct {
	Claim
	ItemDescription string
	ItemType        ItemType
	ItemReporterID  string
}

// ClaimResponse は応答操作で書き込むフィールドを表す。
type ClaimResponse struct {
	ResponseMessage  string
	Meeting          *Meeting
	VerificationCode string
}
