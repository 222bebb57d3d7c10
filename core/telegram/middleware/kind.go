package middleware

import (
	"strings"

	coreconfig "github.com/m3rciful/checklistbot/core/config"

	tele "gopkg.in/telebot.v4"
)

// Update kinds used for rate limit exclusions and metrics labels.
const (
	KindCommand  = coreconfig.UpdateCommand
	KindText     = coreconfig.UpdateText
	KindPhoto    = coreconfig.UpdatePhoto
	KindCallback = coreconfig.UpdateCallback
	KindOther    = "other"
)

// UpdateKind classifies an update.
func UpdateKind(upd tele.Update) string {
	switch m := upd.Message; {
	case m != nil && m.Photo != nil:
		return KindPhoto
	case m != nil && strings.HasPrefix(m.Text, "/"):
		return KindCommand
	case m != nil && m.Text != "":
		return KindText
	case upd.Callback != nil:
		return KindCallback
	}
	return KindOther
}
