package harness

import (
	"log/slog"

	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/mutation"
	"github.com/roach88/listproof/internal/report"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/ui"
	"github.com/roach88/listproof/internal/verify"
)

// Result is the outcome of one scenario.
type Result = report.Scenario

// Env holds the collaborators a run uses. They are built once per
// invocation and shared by every scenario.
type Env struct {
	Catalog   *resource.Catalog
	Checks    *verify.Verifier
	Mutations *mutation.Verifier

	// Alternate is the second actor of flip_status; the default principal
	// flips both ways when nil.
	Alternate *auth.Provider

	// Driver runs mirrored_flip checks; they skip when nil.
	Driver ui.Driver
	Mirror mutation.MirrorOptions

	// RunID labels the results. When empty each Run draws one from RunIDs.
	RunID  string
	RunIDs RunIDGenerator

	Logger *slog.Logger
}
