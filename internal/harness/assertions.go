package harness

import (
	"errors"
	"fmt"

	"github.com/roach88/listproof/internal/report"
	"github.com/roach88/listproof/internal/verify"
)

// ClassExpectation marks a check whose outcome differs from its expect key.
const ClassExpectation = "EXPECTATION"

// outcome maps a check error to its report outcome. Unsupported checks
// and vacuous cases are skips; schema drift fails like a defect.
func outcome(err error) report.Outcome {
	switch verify.Classify(err) {
	case "":
		return report.Pass
	case verify.ClassSkip, verify.ClassUnsupported:
		return report.Skip
	case verify.ClassFatal:
		return report.Fatal
	default:
		return report.Fail
	}
}

// evaluate turns the error a check returned into its report entry,
// applying the check's expect key. A fatal outcome is never overridden.
func evaluate(c Check, err error) report.Check {
	out := describe(c, err)
	want := c.Expect
	if want == "" {
		want = report.Pass
	}
	switch {
	case out.Outcome == report.Fatal:
		return out
	case out.Outcome == want:
		if want != report.Pass {
			// The expected failure is recorded, but the check passes.
			out.Outcome = report.Pass
		}
		return out
	case c.Expect == "":
		return out
	}
	got := out.Outcome
	out.Outcome = report.Fail
	out.Class = ClassExpectation
	if out.Message != "" {
		out.Message = fmt.Sprintf("expected outcome %s, got %s: %s", want, got, out.Message)
	} else {
		out.Message = fmt.Sprintf("expected outcome %s, got %s", want, got)
	}
	return out
}

// describe copies the failure details of err into a report entry.
func describe(c Check, err error) report.Check {
	out := report.Check{Name: c.Name(), Type: c.Type, Outcome: outcome(err)}
	if err == nil {
		return out
	}
	out.Class = string(verify.Classify(err))
	var f *verify.Failure
	if !errors.As(err, &f) {
		out.Message = err.Error()
		return out
	}
	out.ID = f.ID
	out.Message = f.Message
	if f.Err != nil {
		if out.Message != "" {
			out.Message += ": "
		}
		out.Message += f.Err.Error()
	}
	out.Expected = f.Expected
	out.Actual = f.Actual
	out.Screenshot = f.Screenshot
	return out
}
