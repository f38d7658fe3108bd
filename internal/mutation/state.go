package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/resource"
)

// Status is the enable/disable state of a record.
type Status int

const (
	Unknown Status = iota
	Enabled
	Disabled
)

func (s Status) String() string {
	switch s {
	case Enabled:
		return "ENABLED"
	case Disabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the flip target of s. Unknown has none.
func (s Status) Opposite() Status {
	switch s {
	case Enabled:
		return Disabled
	case Disabled:
		return Enabled
	default:
		return Unknown
	}
}

// Codes are the wire values of the two states.
type Codes struct {
	Enabled  string
	Disabled string
}

// DefaultCodes are "1" for enabled and "0" for disabled.
var DefaultCodes = Codes{Enabled: "1", Disabled: "0"}

// Parse maps a surface or store value to a Status. Numbers and strings
// compare by their decimal text.
func (c Codes) Parse(v any) Status {
	if v == nil {
		return Unknown
	}
	switch fmt.Sprint(v) {
	case c.Enabled:
		return Enabled
	case c.Disabled:
		return Disabled
	}
	return Unknown
}

// Code returns the wire value of s.
func (c Codes) Code(s Status) string {
	switch s {
	case Enabled:
		return c.Enabled
	case Disabled:
		return c.Disabled
	}
	return ""
}

// State is the stored mutation state of one record.
type State struct {
	ID         string
	Status     Status
	RefCount   int64
	ModifyUser string
	ModifyTime time.Time
}

// Guarded reports whether disabling the record must be rejected.
func (s State) Guarded() bool {
	return s.Status == Enabled && s.RefCount > 0
}

// State reads the stored state of record id.
func (v *Verifier) State(ctx context.Context, spec resource.Spec, id string) (State, error) {
	st := spec.Status
	row, err := v.checks.Oracle().Record(ctx, spec, id)
	if err != nil {
		return State{}, err
	}
	refs, ok := oracle.Int(row[st.RefCount])
	if !ok && row[st.RefCount] != nil {
		return State{}, fmt.Errorf("%s.%s=%v is not an integer", spec.Table, st.RefCount, row[st.RefCount])
	}
	out := State{ID: id, Status: v.codes.Parse(row[st.Field]), RefCount: refs}
	if u := row[st.ModifyUser]; u != nil {
		out.ModifyUser = fmt.Sprint(u)
	}
	switch t := row[st.ModifyTime].(type) {
	case time.Time:
		out.ModifyTime = t
	case string:
		out.ModifyTime, _ = dateparse.ParseIn(t, time.UTC)
	}
	return out, nil
}

// attr returns the surface attribute that column is shown as.
func attr(spec resource.Spec, column string) string {
	if a, ok := spec.Renames[column]; ok {
		return a
	}
	return column
}
