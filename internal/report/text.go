package report

import (
	"fmt"
	"io"
	"strings"
)

// WriteText renders run for a terminal, one line per check.
func WriteText(w io.Writer, run *Run) error {
	var b strings.Builder
	passed, failed, skipped := 0, 0, 0
	for _, s := range run.Scenarios {
		fmt.Fprintf(&b, "scenario %s (%s)\n", s.Name, s.Resource)
		for _, c := range s.Checks {
			fmt.Fprintf(&b, "  %-5s %s", strings.ToUpper(string(c.Outcome)), c.Name)
			if c.Outcome != Pass {
				writeDetail(&b, c)
			}
			b.WriteByte('\n')
			if c.Screenshot != "" {
				fmt.Fprintf(&b, "        screenshot: %s\n", c.Screenshot)
			}
		}
		for _, n := range s.Notes {
			fmt.Fprintf(&b, "  note: %s\n", n)
		}
		if s.Aborted {
			b.WriteString("  aborted\n")
		}
		passed += s.Count(Pass)
		failed += s.Count(Fail) + s.Count(Fatal)
		skipped += s.Count(Skip)
	}
	fmt.Fprintf(&b, "%d passed, %d failed, %d skipped (run %s)\n", passed, failed, skipped, run.RunID)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeDetail(b *strings.Builder, c Check) {
	b.WriteString(": ")
	if c.Class != "" {
		b.WriteString(c.Class)
		b.WriteByte(' ')
	}
	if c.ID != "" {
		fmt.Fprintf(b, "id=%s ", c.ID)
	}
	b.WriteString(c.Message)
	if c.Expected != nil || c.Actual != nil {
		exp, _ := MarshalCanonical(c.Expected)
		act, _ := MarshalCanonical(c.Actual)
		fmt.Fprintf(b, " (expected %s, actual %s)", exp, act)
	}
}

// WriteJSON renders run as canonical JSON followed by a newline.
func WriteJSON(w io.Writer, run *Run) error {
	data, err := MarshalCanonical(run)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
