package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

const draftFoundInstruction = `Write a polite, short message to someone who found a %q.
I am the owner claiming it.
Keep it friendly, mention I can verify details, and ask to meet up.
Max 2 sentences. No emojis within the text, maybe one at end.`

const draftLostInstruction = `Write a polite, short message to someone who lost a %q.
I have found it.
Keep it reassuring, confirm I have it safe, and ask to meet up.
Max 2 sentences. No emojis within the text, maybe one at end.`

// Drafter はクレーム申請時のメッセージ案を生成する。
type Drafter struct {
	oracle Oracle
	logger *slog.Logger
}

// NewDrafter はDrafterの新しいインスタンスを生成する。
func NewDrafter(o Oracle, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{oracle: o, logger: logger}
}

// Draft はアイテムの種別に応じたメッセージ案を返す。
// レート制限はエラーとして返し、それ以外の失敗は定型文を返す。
func (d *Drafter) Draft(ctx context.Context, itemType model.ItemType, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		description = "item"
	}
	instruction := draftFoundInstruction
	if itemType == model.ItemTypeLost {
		instruction = draftLostInstruction
	}

	content, err := d.oracle.Complete(ctx, oracle.Request{
		Op:          "draft",
		Instruction: fmt.Sprintf(instruction, description),
		Text:        true,
	})
	if err == nil {
		if msg := strings.TrimSpace(content); msg != "" {
			return msg, nil
		}
		err = fmt.Errorf("%w: empty draft", oracle.ErrMalformed)
	}
	if oracle.IsRateLimited(err) {
		return "", err
	}

	d.logger.Warn("メッセージ案の生成に失敗したため定型文を使用します", slog.String("error", err.Error()))
	return TemplateDraft(itemType, description), nil
}

// TemplateDraft は推論を使わない定型のメッセージ案を返す。
func TemplateDraft(itemType model.ItemType, description string) string {
	if itemType == model.ItemTypeLost {
		return fmt.Sprintf("Hi! I think I found your %s and I'm keeping it safe. Could we meet up so I can return it?", description)
	}
	return fmt.Sprintf("Hi! I believe the %s you found is mine and I can verify the details. Could we meet up?", description)
}
