package tagging

import (
	"context"
	"strings"
	"testing"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

func TestDraft_UsesPolarityInstruction(t *testing.T) {
	o := respond("Hi, that's my bottle!", nil)
	d := NewDrafter(o, nil)

	msg, err := d.Draft(context.Background(), model.ItemTypeFound, "blue bottle")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if msg != "Hi, that's my bottle!" {
		t.Errorf("msg = %q", msg)
	}
	if !strings.Contains(o.calls[0].Instruction, "I am the owner") {
		t.Error("拾得物には持ち主としての指示文を使うべき")
	}
	if !o.calls[0].Text {
		t.Error("メッセージ案はテキスト要求であるべき")
	}

	o2 := respond("I found it", nil)
	if _, err := NewDrafter(o2, nil).Draft(context.Background(), model.ItemTypeLost, "keys"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(o2.calls[0].Instruction, "I have found it") {
		t.Error("紛失物には拾得者としての指示文を使うべき")
	}
}

func TestDraft_RateLimitPropagates(t *testing.T) {
	d := NewDrafter(respond("", &oracle.StatusError{StatusCode: 429}), nil)
	if _, err := d.Draft(context.Background(), model.ItemTypeFound, "x"); !oracle.IsRateLimited(err) {
		t.Fatalf("ErrRateLimitedを期待したが %v", err)
	}
}

func TestDraft_OtherFailureUsesTemplate(t *testing.T) {
	d := NewDrafter(respond("", oracle.ErrUnavailable), nil)
	msg, err := d.Draft(context.Background(), model.ItemTypeLost, "umbrella")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if msg != TemplateDraft(model.ItemTypeLost, "umbrella") {
		t.Errorf("msg = %q", msg)
	}
}
