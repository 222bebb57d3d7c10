package keyboard

import (
	"reflect"
	"testing"
)

func TestChunkLabels(t *testing.T) {
	labels := []string{"a", "b", "c", "d", "e"}
	tests := []struct {
		n    int
		want [][]string
	}{
		{2, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}},
		{5, [][]string{{"a", "b", "c", "d", "e"}}},
		{0, [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}},
	}
	for _, tt := range tests {
		if got := ChunkLabels(labels, tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ChunkLabels(n=%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
	if got := ChunkLabels(nil, 3); len(got) != 0 {
		t.Fatalf("expected no rows, got %v", got)
	}
}

func TestReplyGrid(t *testing.T) {
	m := ReplyGrid([]string{"Location 1", "Location 2", "Location 3"}, 2)
	if !m.ResizeKeyboard || !m.OneTimeKeyboard {
		t.Fatalf("unexpected flags: %+v", m)
	}
	if len(m.ReplyKeyboard) != 2 || len(m.ReplyKeyboard[0]) != 2 || len(m.ReplyKeyboard[1]) != 1 {
		t.Fatalf("unexpected layout: %+v", m.ReplyKeyboard)
	}
	if m.ReplyKeyboard[1][0].Text != "Location 3" {
		t.Fatalf("label = %q", m.ReplyKeyboard[1][0].Text)
	}
}

func TestRemoveKeyboard(t *testing.T) {
	if !RemoveKeyboard().RemoveKeyboard {
		t.Fatal("expected RemoveKeyboard flag")
	}
}
