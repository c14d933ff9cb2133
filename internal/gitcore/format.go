package gitcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DiffStyle selects an output rendering for FormatDiff.
type DiffStyle int

const (
	// StyleUnified renders classic unified-diff text.
	StyleUnified DiffStyle = iota
	// StyleSideBySide renders a two-column comparison.
	StyleSideBySide
	// StyleJSON renders the Diff structure as indented JSON.
	StyleJSON
)

// FormatOptions controls diff rendering.
type FormatOptions struct {
	Style   DiffStyle
	OldPath string
	NewPath string
}

// FormatDiff renders a computed diff. Binary diffs render as the standard
// one-line notice in text styles.
func FormatDiff(d *Diff, opts FormatOptions) (string, error) {
	switch opts.Style {
	case StyleUnified:
		return formatUnified(d, opts), nil
	case StyleSideBySide:
		return formatSideBySide(d, opts), nil
	case StyleJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return "", fmt.Errorf("formatting diff as JSON: %w", err)
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("%w: diff style %d", ErrInvalidName, opts.Style)
	}
}

// headerPath renders a diff header path with its side prefix, or /dev/null
// for an absent side.
func headerPath(side, path string) string {
	if path == "" {
		return "/dev/null"
	}
	return side + "/" + path
}

// formatUnified renders "--- a/x", "+++ b/x", @@ headers, and one
// prefixed line per change.
func formatUnified(d *Diff, opts FormatOptions) string {
	var sb strings.Builder

	if d.IsBinary {
		fmt.Fprintf(&sb, "Binary files %s and %s differ\n",
			headerPath("a", opts.OldPath), headerPath("b", opts.NewPath))
		return sb.String()
	}
	if len(d.Hunks) == 0 {
		return ""
	}

	fmt.Fprintf(&sb, "--- %s\n", headerPath("a", opts.OldPath))
	fmt.Fprintf(&sb, "+++ %s\n", headerPath("b", opts.NewPath))

	for _, hunk := range d.Hunks {
		sb.WriteString("@@ -")
		sb.WriteString(formatRange(hunk.OldStart, hunk.OldLines))
		sb.WriteString(" +")
		sb.WriteString(formatRange(hunk.NewStart, hunk.NewLines))
		sb.WriteString(" @@\n")

		for _, change := range hunk.Changes {
			switch change.Kind {
			case ChangeAdd:
				sb.WriteByte('+')
			case ChangeDelete:
				sb.WriteByte('-')
			default:
				sb.WriteByte(' ')
			}
			sb.WriteString(change.Content)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

// formatRange renders a unified hunk range, omitting the count when it is 1.
func formatRange(start, lines int) string {
	if lines == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, lines)
}

// sideBySideWidth is the column width of the old side in side-by-side output.
const sideBySideWidth = 40

// formatSideBySide renders two columns: old on the left, new on the right,
// with a gutter marking the change type.
func formatSideBySide(d *Diff, opts FormatOptions) string {
	var sb strings.Builder

	if d.IsBinary {
		fmt.Fprintf(&sb, "Binary files %s and %s differ\n",
			headerPath("a", opts.OldPath), headerPath("b", opts.NewPath))
		return sb.String()
	}

	pad := func(s string) string {
		if len(s) > sideBySideWidth {
			return s[:sideBySideWidth]
		}
		return s + strings.Repeat(" ", sideBySideWidth-len(s))
	}

	for _, hunk := range d.Hunks {
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n",
			formatRange(hunk.OldStart, hunk.OldLines),
			formatRange(hunk.NewStart, hunk.NewLines))
		for _, change := range hunk.Changes {
			switch change.Kind {
			case ChangeContext:
				fmt.Fprintf(&sb, "%s   %s\n", pad(change.Content), change.Content)
			case ChangeDelete:
				fmt.Fprintf(&sb, "%s < \n", pad(change.Content))
			case ChangeAdd:
				fmt.Fprintf(&sb, "%s > %s\n", pad(""), change.Content)
			}
		}
	}

	return sb.String()
}

// Apply replays a diff onto oldText and returns the reconstructed new text.
// Context and deleted lines must match the input exactly; a diff that does
// not apply returns ok == false. The new text's trailing-newline presence
// is preserved from when the diff was computed.
func Apply(oldText string, d *Diff) (newText string, ok bool) {
	if d.IsBinary {
		return "", false
	}

	oldLines := splitLines([]byte(oldText))
	out := make([]string, 0, len(oldLines))
	pos := 0 // next unconsumed 0-based index into oldLines

	for _, hunk := range d.Hunks {
		start := hunk.OldStart - 1
		if hunk.OldLines == 0 {
			// Pure insertion: OldStart is the line count preceding it.
			start = hunk.OldStart
		}
		if start < pos || start > len(oldLines) {
			return "", false
		}

		out = append(out, oldLines[pos:start]...)
		pos = start

		for _, change := range hunk.Changes {
			switch change.Kind {
			case ChangeContext, ChangeDelete:
				if pos >= len(oldLines) || oldLines[pos] != change.Content {
					return "", false
				}
				if change.Kind == ChangeContext {
					out = append(out, change.Content)
				}
				pos++
			case ChangeAdd:
				out = append(out, change.Content)
			}
		}
	}

	out = append(out, oldLines[pos:]...)

	if len(out) == 0 {
		return "", true
	}
	text := strings.Join(out, "\n")
	if !d.NewMissingNewline {
		text += "\n"
	}
	return text, true
}
