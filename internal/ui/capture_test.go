package ui

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/verify"
)

type shotDriver struct {
	Driver
	names []string
	err   error
}

func (d *shotDriver) Screenshot(_ context.Context, name string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.names = append(d.names, name)
	return "shots/" + name + ".png", nil
}

func TestCaptureOnFailure_Defect(t *testing.T) {
	d := &shotDriver{}
	err := CaptureOnFailure(context.Background(), d, nil, func() error {
		return verify.Defect("factor", "mirrored-flip", "4", "row moved", 0, 3)
	})

	var f *verify.Failure
	require.ErrorAs(t, err, &f)
	require.Len(t, d.names, 1)
	assert.Equal(t, "shots/"+d.names[0]+".png", f.Screenshot)
	assert.Contains(t, d.names[0], "factor-mirrored-flip-")
	assert.Contains(t, err.Error(), "[screenshot shots/")
}

func TestCaptureOnFailure_SchemaDrift(t *testing.T) {
	d := &shotDriver{}
	drift := &verify.Failure{Class: verify.ClassSchemaDrift, Resource: "factor", Operation: "detail", ID: "4",
		Message: "attribute has no backing column"}

	err := CaptureOnFailure(context.Background(), d, nil, func() error { return drift })
	assert.Same(t, drift, err)
	require.Len(t, d.names, 1)
	assert.Equal(t, "shots/"+d.names[0]+".png", drift.Screenshot)
	assert.Contains(t, d.names[0], "factor-detail-")
}

func TestCaptureOnFailure_OtherOutcomesUntouched(t *testing.T) {
	d := &shotDriver{}
	ctx := context.Background()

	assert.NoError(t, CaptureOnFailure(ctx, d, nil, func() error { return nil }))

	skip := verify.Skip("factor", "flip", "nothing to flip")
	assert.Same(t, skip, CaptureOnFailure(ctx, d, nil, func() error { return skip }))

	boom := errors.New("browser gone")
	assert.Same(t, boom, CaptureOnFailure(ctx, d, nil, func() error { return boom }))

	assert.Empty(t, d.names)
}

func TestCaptureOnFailure_ScreenshotError(t *testing.T) {
	d := &shotDriver{err: errors.New("no page")}
	defect := verify.Defect("factor", "flip", "4", "moved", nil, nil)

	err := CaptureOnFailure(context.Background(), d, nil, func() error { return defect })
	assert.Same(t, defect, err)
	assert.Empty(t, defect.Screenshot)
}

func TestLocators(t *testing.T) {
	assert.Equal(t, Locator(`[data-test="status-toggle-4"]`), DefaultLocators.ToggleFor("4"))

	rows := []Row{{Cells: map[string]string{"id": "7"}}, {Cells: map[string]string{"id": "4"}}}
	assert.Equal(t, 1, Find(rows, "id", "4"))
	assert.Equal(t, -1, Find(rows, "id", "5"))
	assert.Empty(t, rows[0].Cell("name"))
}
