package archive

import (
	"strings"
	"testing"

	"github.com/m3rciful/checklistbot/checklist/report"
)

func TestFromReportSnapshots(t *testing.T) {
	r := report.New(2)
	r.SetLocation("Location 4")
	_ = r.RecordVerdict(1, report.VerdictCommented)
	_ = r.RecordComment("sticky floor")
	_ = r.RecordPhoto("https://api.telegram.org/file/botSECRET/photo.jpg")
	_ = r.RecordVerdict(2, report.VerdictClear)

	e := FromReport(77, r, "Floor needs mopping.", true)
	r.Comments[1] = "changed later"

	if e.UserID != 77 || e.Location != "Location 4" || e.Size != 2 {
		t.Fatalf("unexpected header: %+v", e)
	}
	if e.Comments[1] != "sticky floor" {
		t.Fatalf("entry must not alias report maps: %q", e.Comments[1])
	}
	if e.Photos != 1 {
		t.Fatalf("photos = %d", e.Photos)
	}
	row, err := toRow(e)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(row.Verdicts+row.Comments, "SECRET") {
		t.Fatal("photo URLs must never be archived")
	}
	if row.Verdicts != `{"1":"commented","2":"clear"}` {
		t.Fatalf("verdicts json = %s", row.Verdicts)
	}
}

func TestFromRowRejectsBadKeys(t *testing.T) {
	_, err := fromRow(row{ID: 3, Verdicts: `{"x":"clear"}`, Comments: `{}`})
	if err == nil || !strings.Contains(err.Error(), "bad item key") {
		t.Fatalf("expected bad key error, got %v", err)
	}
	e, err := fromRow(row{ID: 4, Verdicts: `{"2":"commented"}`, Comments: `{"2":"dusty"}`})
	if err != nil {
		t.Fatal(err)
	}
	if e.Verdicts[2] != report.VerdictCommented || e.Comments[2] != "dusty" {
		t.Fatalf("decoded = %+v", e)
	}
}
