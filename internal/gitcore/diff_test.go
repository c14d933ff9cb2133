package gitcore

import (
	"strings"
	"testing"
)

func TestDiffText_SimpleReplace(t *testing.T) {
	d := DiffText("hi\n", "hello\n", DiffOptions{})

	if d.IsBinary {
		t.Fatal("text diff flagged binary")
	}
	if d.Additions != 1 || d.Deletions != 1 {
		t.Errorf("counts: +%d -%d, want +1 -1", d.Additions, d.Deletions)
	}
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: got %d, want 1", len(d.Hunks))
	}

	hunk := d.Hunks[0]
	if len(hunk.Changes) != 2 {
		t.Fatalf("changes: got %d, want 2", len(hunk.Changes))
	}
	if hunk.Changes[0].Kind != ChangeDelete || hunk.Changes[0].Content != "hi" {
		t.Errorf("change 0: %+v", hunk.Changes[0])
	}
	if hunk.Changes[1].Kind != ChangeAdd || hunk.Changes[1].Content != "hello" {
		t.Errorf("change 1: %+v", hunk.Changes[1])
	}
}

func TestDiffText_NoChanges(t *testing.T) {
	d := DiffText("a\nb\nc\n", "a\nb\nc\n", DiffOptions{})
	if len(d.Hunks) != 0 || d.Additions != 0 || d.Deletions != 0 {
		t.Errorf("identical texts produced changes: %+v", d)
	}
}

func TestDiffText_ContextAndLineNumbers(t *testing.T) {
	oldText := "one\ntwo\nthree\nfour\nfive\nsix\nseven\n"
	newText := "one\ntwo\nthree\nFOUR\nfive\nsix\nseven\n"

	d := DiffText(oldText, newText, DiffOptions{ContextLines: 2})
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: got %d, want 1", len(d.Hunks))
	}

	hunk := d.Hunks[0]
	if hunk.OldStart != 2 || hunk.NewStart != 2 {
		t.Errorf("starts: -%d +%d, want -2 +2", hunk.OldStart, hunk.NewStart)
	}
	if hunk.OldLines != 5 || hunk.NewLines != 5 {
		t.Errorf("lengths: old %d new %d, want 5 5", hunk.OldLines, hunk.NewLines)
	}

	// 2 context + delete + add + 2 context.
	kinds := make([]ChangeKind, 0, len(hunk.Changes))
	for _, c := range hunk.Changes {
		kinds = append(kinds, c.Kind)
	}
	want := []ChangeKind{ChangeContext, ChangeContext, ChangeDelete, ChangeAdd, ChangeContext, ChangeContext}
	if len(kinds) != len(want) {
		t.Fatalf("change kinds: got %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kind %d: got %v, want %v", i, kinds[i], want[i])
		}
	}

	del := hunk.Changes[2]
	if del.OldLine != 4 || del.NewLine != 0 {
		t.Errorf("delete line numbers: %+v", del)
	}
	add := hunk.Changes[3]
	if add.NewLine != 4 || add.OldLine != 0 {
		t.Errorf("add line numbers: %+v", add)
	}
}

func TestDiffText_DistantChangesSplitIntoHunks(t *testing.T) {
	var oldSb, newSb strings.Builder
	for i := 1; i <= 30; i++ {
		oldSb.WriteString(line(i) + "\n")
		if i == 2 {
			newSb.WriteString("CHANGED-2\n")
		} else if i == 28 {
			newSb.WriteString("CHANGED-28\n")
		} else {
			newSb.WriteString(line(i) + "\n")
		}
	}

	d := DiffText(oldSb.String(), newSb.String(), DiffOptions{ContextLines: 3})
	if len(d.Hunks) != 2 {
		t.Fatalf("hunks: got %d, want 2", len(d.Hunks))
	}
}

func TestDiffText_AdjacentChangesMergeIntoOneHunk(t *testing.T) {
	oldText := "a\nb\nc\nd\ne\nf\ng\nh\n"
	newText := "a\nB\nc\nd\ne\nF\ng\nh\n"

	// Changes at lines 2 and 6 are within 2*context of each other.
	d := DiffText(oldText, newText, DiffOptions{ContextLines: 3})
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: got %d, want 1", len(d.Hunks))
	}
}

func line(i int) string {
	return "line-" + strings.Repeat("x", i%3) + string(rune('0'+i%10))
}

func TestDiffText_IgnoreWhitespaceAndCase(t *testing.T) {
	d := DiffText("Hello   World\n", "hello world\n", DiffOptions{IgnoreWhitespace: true, IgnoreCase: true})
	if len(d.Hunks) != 0 {
		t.Errorf("normalized-equal texts produced %d hunks", len(d.Hunks))
	}

	// Without normalization the same pair differs.
	d = DiffText("Hello   World\n", "hello world\n", DiffOptions{})
	if len(d.Hunks) == 0 {
		t.Error("differing texts produced no hunks")
	}
}

func TestDiffText_ReportsOriginalLinesUnderNormalization(t *testing.T) {
	d := DiffText("KEEP\ndrop\n", "keep\nnew\n", DiffOptions{IgnoreCase: true, ContextLines: 1})
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: got %d, want 1", len(d.Hunks))
	}
	// The context line must be the ORIGINAL old spelling, not normalized.
	first := d.Hunks[0].Changes[0]
	if first.Kind != ChangeContext || first.Content != "KEEP" {
		t.Errorf("context change: %+v", first)
	}
}

func TestDiffFiles_BinaryShortCircuit(t *testing.T) {
	d := DiffFiles([]byte{0, 1, 2, 3}, []byte{0, 1, 2, 4}, DiffOptions{})
	if !d.IsBinary {
		t.Fatal("binary input not flagged")
	}
	if d.Binary == nil {
		t.Fatal("missing BinaryDiff")
	}
	if d.Binary.OldSize != 4 || d.Binary.NewSize != 4 || d.Binary.SizeChanged {
		t.Errorf("BinaryDiff: %+v", d.Binary)
	}
	if len(d.Hunks) != 0 {
		t.Errorf("binary diff has hunks: %d", len(d.Hunks))
	}
}

func TestIsBinaryContent(t *testing.T) {
	if IsBinaryContent([]byte("plain text\n")) {
		t.Error("text flagged binary")
	}
	if !IsBinaryContent([]byte{'a', 0, 'b'}) {
		t.Error("NUL not flagged binary")
	}
	// NUL beyond the first 8000 bytes does not count.
	big := append(make([]byte, 0, 9000), strings.Repeat("x", 8500)...)
	big = append(big, 0)
	if IsBinaryContent(big) {
		t.Error("NUL past sniff window flagged binary")
	}
}

func TestDiffText_CRLFInput(t *testing.T) {
	d := DiffText("a\r\nb\r\n", "a\nc\n", DiffOptions{})
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: got %d, want 1", len(d.Hunks))
	}
	for _, c := range d.Hunks[0].Changes {
		if strings.Contains(c.Content, "\r") {
			t.Errorf("carriage return leaked into %+v", c)
		}
	}
}

func TestApply_RoundTripProperty(t *testing.T) {
	cases := []struct{ old, new string }{
		{"hi\n", "hello\n"},
		{"", "added\n"},
		{"gone\n", ""},
		{"a\nb\nc\n", "a\nX\nc\n"},
		{"a\nb\nc\nd\ne\n", "a\nc\nd\nnew\ne\n"},
		{"one\n", "one\ntwo\nthree\n"},
		{"same\n", "same\n"},
		{"no newline", "still no newline"},
		{"trailing\n", "trailing"},
		{"x\ny\nz\n", "z\ny\nx\n"},
	}
	for _, opts := range []DiffOptions{{}, {ContextLines: 1}, {ContextLines: -1}} {
		for _, tc := range cases {
			d := DiffText(tc.old, tc.new, opts)
			got, ok := Apply(tc.old, d)
			if !ok {
				t.Errorf("Apply(%q -> %q) did not apply (ctx=%d)", tc.old, tc.new, opts.ContextLines)
				continue
			}
			if got != tc.new {
				t.Errorf("Apply(%q): got %q, want %q (ctx=%d)", tc.old, got, tc.new, opts.ContextLines)
			}
		}
	}
}

func TestApply_RejectsMismatchedInput(t *testing.T) {
	d := DiffText("a\nb\nc\n", "a\nX\nc\n", DiffOptions{})
	if _, ok := Apply("completely\ndifferent\n", d); ok {
		t.Error("diff applied to mismatched input")
	}
}

func TestApply_RejectsBinary(t *testing.T) {
	d := DiffFiles([]byte{0}, []byte{1, 0}, DiffOptions{})
	if _, ok := Apply("anything", d); ok {
		t.Error("binary diff applied")
	}
}
