package tgbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/m3rciful/checklistbot/checklist/flow"
	tghelpers "github.com/m3rciful/checklistbot/core/telegram/helpers"
	"github.com/m3rciful/checklistbot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// buttonsPerRow is the reply keyboard width for quick replies.
const buttonsPerRow = 2

// fileGetter is the part of the bot API used to resolve photos.
type fileGetter interface {
	FileByID(fileID string) (tele.File, error)
}

// transport implements flow.Transport for the chat of one update.
type transport struct {
	c       tele.Context
	files   fileGetter
	fileURL string // base for downloads, ends with "/file/bot<token>"
}

func newTransport(c tele.Context, files fileGetter, apiURL, token string) *transport {
	return &transport{
		c:       c,
		files:   files,
		fileURL: strings.TrimRight(apiURL, "/") + "/file/bot" + token,
	}
}

func (t *transport) Prompt(_ context.Context, text string, options []string, clear bool) error {
	switch {
	case len(options) > 0:
		return tghelpers.DeliverText(t.c, text, tghelpers.WithMarkup(keyboard.ReplyGrid(options, buttonsPerRow)))
	case clear:
		return tghelpers.DeliverText(t.c, text, tghelpers.WithMarkup(keyboard.RemoveKeyboard()))
	default:
		return tghelpers.DeliverText(t.c, text)
	}
}

func (t *transport) Send(ctx context.Context, text string) error {
	return t.Prompt(ctx, text, nil, false)
}

// PhotoURL resolves a file id through getFile into a download URL. The URL
// embeds the bot token and must not be logged.
func (t *transport) PhotoURL(_ context.Context, fileID string) (string, error) {
	if strings.TrimSpace(fileID) == "" {
		return "", flow.ErrPhotoNotFound
	}
	f, err := t.files.FileByID(fileID)
	if err != nil {
		if isMissingFile(err) {
			return "", fmt.Errorf("%w: %v", flow.ErrPhotoNotFound, err)
		}
		return "", err
	}
	if f.FilePath == "" {
		return "", flow.ErrPhotoNotFound
	}
	return t.fileURL + "/" + strings.TrimLeft(f.FilePath, "/"), nil
}

// isMissingFile reports whether the Bot API rejected the file id itself.
func isMissingFile(err error) bool {
	var apiErr *tele.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusNotFound {
		return true
	}
	desc := strings.ToLower(apiErr.Description)
	return apiErr.Code == http.StatusBadRequest &&
		(strings.Contains(desc, "file") || strings.Contains(desc, "not found"))
}
