package flow

import (
	"fmt"
	"strings"
)

// Quick-reply labels shown while an item is being answered.
const (
	LabelAllClear     = "All clear"
	LabelLeaveComment = "Leave comment"
)

const (
	msgGreeting         = "Hi! Let's get to work."
	msgChooseLocation   = "Choose a location:"
	msgLocationChosen   = "Location selected: %s"
	msgItemPrompt       = "Checklist item %d: all clear or leave a comment?"
	msgEnterComment     = "Please enter your comment:"
	msgAttachPhoto      = "Please upload a photo for this comment, or send any text message to skip."
	msgReportPrefix     = "Report: "
	msgAnalysisFailed   = "Could not analyze the report."
	msgTransportFailure = "There was a problem talking to Telegram. Please try again."
	msgPhotoNotFound    = "The photo could not be found. Please try uploading it again."
	msgUnexpected       = "An unexpected error occurred. Please try again."
)

// LocationLabels returns the quick-reply labels for n locations.
func LocationLabels(n int) []string {
	labels := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		labels = append(labels, fmt.Sprintf("Location %d", i))
	}
	return labels
}

func itemPrompt(item int) string {
	return fmt.Sprintf(msgItemPrompt, item)
}

// matchLabel returns the canonical label equal to text, ignoring case and surrounding space.
func matchLabel(text string, labels ...string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, l := range labels {
		if strings.EqualFold(text, l) {
			return l, true
		}
	}
	return "", false
}
