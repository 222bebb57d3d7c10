package report

import (
	"fmt"
	"strings"
)

const (
	notSpecified = "not specified"
	// Instruction is the trailer line telling the analysis service what to do.
	Instruction = "Analyze the photos and the report. Describe what is wrong with cleanliness at the location."
)

// Payload is the rendered report ready for the analysis service.
type Payload struct {
	Text string
	// Photos are ordered by ascending item index.
	Photos []string
}

// Render builds the textual report. Output depends only on the report data,
// never on the order in which items were answered. Missing verdicts render as
// "not specified".
func (r *Report) Render() Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n", r.Location)
	for i := 1; i <= r.Size; i++ {
		verdict := notSpecified
		if v, ok := r.Items[i]; ok {
			verdict = string(v)
		}
		fmt.Fprintf(&b, "Checklist item %d: %s\n", i, verdict)
		if c, ok := r.Comments[i]; ok {
			fmt.Fprintf(&b, "Comment: %s\n", c)
		}
	}
	b.WriteString(Instruction)

	photos := make([]string, 0, len(r.Photos))
	for _, item := range sortedKeys(r.Photos) {
		if item < 1 || item > r.Size {
			continue
		}
		photos = append(photos, r.Photos[item])
	}
	return Payload{Text: b.String(), Photos: photos}
}
