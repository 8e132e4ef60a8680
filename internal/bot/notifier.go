package bot

import (
	"context"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/kababayanbot/kababayan/internal/event"
)

// Notifier renders structured notifications into outbound messages.
// It is the only place message text lives.
type Notifier struct {
	bot *api.BotAPI
}

func NewNotifier(bot *api.BotAPI) *Notifier {
	return &Notifier{bot: bot}
}

func (n *Notifier) Send(ctx context.Context, notification *event.Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := api.NewMessage(notification.Recipient, renderText(notification))

	switch notification.Kind {
	case event.KindVerifyPrompt:
		keyboard := api.NewReplyKeyboard(
			api.NewKeyboardButtonRow(api.NewKeyboardButtonContact("Share my phone number")),
		)
		keyboard.OneTimeKeyboard = true
		keyboard.ResizeKeyboard = true
		msg.ReplyMarkup = keyboard
	case event.KindVerified, event.KindVerifyFailed, event.KindAlreadyDone:
		msg.ReplyMarkup = api.NewRemoveKeyboard(false)
	}

	if _, err := n.bot.Send(msg); err != nil {
		return errors.WithMessage(err, "cant send notification")
	}
	return nil
}

func renderText(n *event.Notification) string {
	data := n.Data
	get := func(key string) string {
		if data == nil {
			return ""
		}
		return data[key]
	}

	switch n.Kind {
	case event.KindVerifyPrompt:
		if title := get("chat_title"); title != "" {
			return fmt.Sprintf("To join %s, please verify by sharing your phone number. Only %s numbers are accepted.", title, get("region"))
		}
		return fmt.Sprintf("Please verify by sharing your phone number. Only %s numbers are accepted.", get("region"))
	case event.KindAlreadyDone:
		return "You are already verified. Join requests are approved automatically."
	case event.KindApproved:
		return fmt.Sprintf("Welcome! You have been approved to join %s.", get("chat_title"))
	case event.KindVerified:
		text := fmt.Sprintf("Verified! Your number %s is confirmed.", get("phone"))
		if links := get("links"); links != "" {
			text += "\n\nYour invites:\n" + links
		}
		return text
	case event.KindVerifyFailed:
		return fmt.Sprintf("That number does not match the expected region (detected: %s). Please try again with a valid number.", get("region"))
	case event.KindOwnPhoneOnly:
		return "Only your own phone number can be verified. Please use the button to share your contact."
	case event.KindStatusReport:
		if get("verified") == "true" {
			return fmt.Sprintf("Status: verified (%s).", get("phone"))
		}
		return "Status: not verified. Use /start to begin verification."
	case event.KindHelp:
		return "Commands:\n/start - begin phone verification\n/status - check your verification status\n/help - this message"
	case event.KindAdminApproved:
		return fmt.Sprintf("Auto-approved join request: user %s (%s) in chat %s.", get("user"), get("user_id"), get("chat_title"))
	case event.KindAdminVerified:
		return fmt.Sprintf("New verified user: %s @%s (%s), phone %s.", get("name"), get("user"), get("user_id"), get("phone"))
	case event.KindAdminAlert:
		text := "Alert: " + get("detail")
		if errText := get("error"); errText != "" {
			text += " (" + errText + ")"
		}
		return text
	case event.KindAdminStats:
		return fmt.Sprintf("Verified users: %s\nPending requests: %s\nActive chats: %s",
			get("verified"), get("pending"), get("chats"))
	default:
		return get("detail")
	}
}
