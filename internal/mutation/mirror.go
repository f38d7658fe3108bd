package mutation

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/ui"
	"github.com/roach88/listproof/internal/verify"
)

// MirrorOptions configure a UI-mirrored flip.
type MirrorOptions struct {
	// ListURL is the list page showing the resource under
	// most-recently-modified ordering.
	ListURL  string
	Locators ui.Locators
	// Labels are the status texts the page shows; the wire codes when
	// empty.
	Labels Codes
	// Actor is the user the browser session is logged in as; the default
	// principal when empty.
	Actor string
	// Guarded expects the in-use message box instead of a flip.
	Guarded bool
	// Names are columns showing a display name where the API shows a
	// foreign key, keyed by column.
	Names map[string]NameLookup
}

// NameLookup resolves the display name a list page shows for the foreign
// key stored in Field.
type NameLookup struct {
	Field  string `yaml:"field"`
	Table  string `yaml:"table"`
	Column string `yaml:"column"` // "name" when empty
}

// MirroredFlip flips record id through the list page. A confirmation
// dialog must appear; canceling it must leave the row's cells and position
// unchanged; confirming must move the row to the top after a refresh with
// the status toggled, modify_user set to the actor and modify_time later.
// A guarded record must instead raise the in-use message. Defects carry a
// screenshot of the page.
func (v *Verifier) MirroredFlip(ctx context.Context, d ui.Driver, spec resource.Spec, id string, opts MirrorOptions) error {
	if opts.Locators == (ui.Locators{}) {
		opts.Locators = ui.DefaultLocators
	}
	if opts.Labels == (Codes{}) {
		opts.Labels = v.codes
	}
	if opts.Actor == "" {
		opts.Actor = v.principal
	}
	return ui.CaptureOnFailure(ctx, d, v.logger, func() error {
		return v.mirror(ctx, d, spec, id, opts)
	})
}

func (v *Verifier) mirror(ctx context.Context, d ui.Driver, spec resource.Spec, id string, opts MirrorOptions) error {
	const op = "mirrored-flip"
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, op, "resource has no status")
	}
	v.logger.Info("check", "check", op, "resource", spec.Name, "id", id, "guarded", opts.Guarded)
	loc := opts.Locators

	if err := d.Open(ctx, opts.ListURL); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	rows, err := d.Rows(ctx)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	pos := ui.Find(rows, spec.ListKey, id)
	if pos < 0 {
		v.logger.Warn("row not shown", "resource", spec.Name, "id", id)
		return verify.Skip(spec.Name, op, "id %s is not on the list page", id)
	}
	before := rows[pos]

	if err := v.openDialog(ctx, d, spec, op, id, loc); err != nil {
		return err
	}
	if err := d.Click(ctx, loc.Cancel); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if rows, err = d.Rows(ctx); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if p := ui.Find(rows, spec.ListKey, id); p != pos || !maps.Equal(rows[p].Cells, before.Cells) {
		return verify.Defect(spec.Name, op, id, "canceled flip changed the row", before.Cells, rowAt(rows, p))
	}

	if err := v.openDialog(ctx, d, spec, op, id, loc); err != nil {
		return err
	}
	if err := d.Click(ctx, loc.Confirm); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	v.checks.Invalidate(spec.Name)

	if opts.Guarded {
		if err := d.WaitVisible(ctx, loc.Message); err != nil {
			return verify.Defect(spec.Name, op, id, "no in-use message", v.guard, err.Error())
		}
		msg, err := d.Text(ctx, loc.Message)
		if err != nil {
			return verify.Fatal(spec.Name, op, err)
		}
		if !strings.Contains(msg, v.guard) {
			return verify.Defect(spec.Name, op, id, "in-use message", v.guard, msg)
		}
		return nil
	}

	if loc.Refresh != "" {
		err = d.Click(ctx, loc.Refresh)
	} else {
		err = d.Open(ctx, opts.ListURL)
	}
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if rows, err = d.Rows(ctx); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if p := ui.Find(rows, spec.ListKey, id); p != 0 {
		return verify.Defect(spec.Name, op, id, "flipped row position after refresh", 0, p)
	}
	if err := v.checkRow(spec, op, id, before, rows[0], opts); err != nil {
		return err
	}
	return v.checkNames(ctx, spec, op, id, rows[0], opts.Names)
}

// checkNames compares display-name columns with the names the store holds
// for the row's foreign keys.
func (v *Verifier) checkNames(ctx context.Context, spec resource.Spec, op, id string, row ui.Row, names map[string]NameLookup) error {
	if len(names) == 0 {
		return nil
	}
	o := v.checks.Oracle()
	stored, err := o.Record(ctx, spec, id)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	expected := map[string]any{}
	actual := map[string]any{}
	for _, col := range slices.Sorted(maps.Keys(names)) {
		lk := names[col]
		want := ""
		if fk := stored[lk.Field]; fk != nil {
			column := lk.Column
			if column == "" {
				column = "name"
			}
			if want, err = o.LookupName(ctx, lk.Table, column, fmt.Sprint(fk)); err != nil {
				return verify.Fatal(spec.Name, op, err)
			}
		}
		if got := row.Cell(col); got != want {
			expected[col], actual[col] = want, got
		}
	}
	if len(expected) == 0 {
		return nil
	}
	fields := slices.Sorted(maps.Keys(expected))
	return verify.Defect(spec.Name, op, id, "row names: "+strings.Join(fields, ", "), expected, actual)
}

func (v *Verifier) openDialog(ctx context.Context, d ui.Driver, spec resource.Spec, op, id string, loc ui.Locators) error {
	if err := d.Click(ctx, loc.ToggleFor(id)); err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if err := d.WaitVisible(ctx, loc.Dialog); err != nil {
		return verify.Defect(spec.Name, op, id, "no confirmation dialog before the update", string(loc.Dialog), err.Error())
	}
	return nil
}

func (v *Verifier) checkRow(spec resource.Spec, op, id string, before, after ui.Row, opts MirrorOptions) error {
	st := spec.Status
	statusCol := attr(spec, st.Field)
	userCol := attr(spec, st.ModifyUser)
	timeCol := attr(spec, st.ModifyTime)

	expected := map[string]any{}
	actual := map[string]any{}
	want := opts.Labels.Parse(before.Cell(statusCol)).Opposite()
	if got := opts.Labels.Parse(after.Cell(statusCol)); want == Unknown || got != want {
		expected[statusCol], actual[statusCol] = opts.Labels.Code(want), after.Cell(statusCol)
	}
	if after.Cell(userCol) != opts.Actor {
		expected[userCol], actual[userCol] = opts.Actor, after.Cell(userCol)
	}
	layout := spec.Field(timeCol).Layout
	prev, perr := parseTime(before.Cell(timeCol), layout)
	next, nerr := parseTime(after.Cell(timeCol), layout)
	if perr != nil || nerr != nil || !next.After(prev) {
		expected[timeCol], actual[timeCol] = "> "+before.Cell(timeCol), after.Cell(timeCol)
	}
	if len(expected) == 0 {
		return nil
	}
	fields := slices.Sorted(maps.Keys(expected))
	return verify.Defect(spec.Name, op, id, "row after flip: "+strings.Join(fields, ", "), expected, actual)
}

func rowAt(rows []ui.Row, i int) map[string]string {
	if i < 0 || i >= len(rows) {
		return nil
	}
	return rows[i].Cells
}
