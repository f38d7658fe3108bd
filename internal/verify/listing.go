package verify

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/resource"
)

// oversizeSpread bounds how far past count the oversize page size reaches.
const oversizeSpread = 1_000_000

// VerifyDefaultListing checks the unparameterized listing: previous is
// null, a page with a next link holds the default page size, count equals
// the snapshot count and the listed ids equal the snapshot ids. One listed
// record is reconciled field by field.
func (v *Verifier) VerifyDefaultListing(ctx context.Context, spec resource.Spec) error {
	const op = "default_listing"
	v.logger.Info("check", "check", op, "resource", spec.Name)

	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	page, err := v.list(ctx, spec, op, nil)
	if err != nil {
		return err
	}
	if err := v.observe(spec, op, page); err != nil {
		return err
	}
	if err := v.checkDefaultPage(spec, op, snap, page); err != nil {
		return err
	}

	full := page
	if page.Pageable {
		full, err = v.fetchAll(ctx, spec, snap, op)
		if err != nil {
			return err
		}
	}
	if err := checkIDSet(spec, op, snap, full.Results); err != nil {
		return err
	}
	if len(full.Results) == 0 {
		return nil
	}
	return v.VerifyRecord(ctx, spec, v.sample(full.Results))
}

func (v *Verifier) checkDefaultPage(spec resource.Spec, op string, snap oracle.Snapshot, page *api.Page) error {
	if !page.Pageable {
		if len(page.Results) != snap.Count {
			return Defect(spec.Name, op, "", "unpaginated listing size differs from store count", snap.Count, len(page.Results))
		}
		return nil
	}
	if page.Previous != nil {
		return Defect(spec.Name, op, "", "first page has a previous link", nil, *page.Previous)
	}
	if page.Next != nil && len(page.Results) != v.pageSize {
		return Defect(spec.Name, op, "", "default page size", v.pageSize, len(page.Results))
	}
	if page.Count != snap.Count {
		return Defect(spec.Name, op, "", "listing count differs from store count", snap.Count, page.Count)
	}
	return nil
}

// checkIDSet compares listed ids with the snapshot in both directions.
func checkIDSet(spec resource.Spec, op string, snap oracle.Snapshot, records []api.Record) error {
	seen := make(map[string]struct{}, len(records))
	var extra []string
	for _, rec := range records {
		id, ok := recordID(spec, rec)
		if !ok {
			return Defect(spec.Name, op, "", fmt.Sprintf("listed record has no usable %q", spec.ListKey), spec.ListKey, rec.Keys())
		}
		seen[id] = struct{}{}
		if !snap.Has(id) {
			extra = append(extra, id)
		}
	}
	var missing []string
	for _, id := range snap.Sorted() {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(extra) > 0 || len(missing) > 0 {
		slices.Sort(extra)
		return Defect(spec.Name, op, "", "listed ids differ from store ids",
			map[string][]string{"missing": missing}, map[string][]string{"unexpected": extra})
	}
	return nil
}

// VerifyPagination checks the default page, a random non-last page, the
// last page and an oversize page. Sizes are drawn from the current
// snapshot on every call.
func (v *Verifier) VerifyPagination(ctx context.Context, spec resource.Spec) error {
	const op = "pagination"
	v.logger.Info("check", "check", op, "resource", spec.Name)

	if err := v.requirePages(ctx, spec, op); err != nil {
		return err
	}
	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	if snap.Count <= 1 {
		return v.skip(spec, op, "count %d is too small to paginate", snap.Count)
	}

	page, err := v.list(ctx, spec, op, nil)
	if err != nil {
		return err
	}
	if err := v.observe(spec, op, page); err != nil {
		return err
	}
	if err := v.checkDefaultPage(spec, op, snap, page); err != nil {
		return err
	}

	size := 1 + v.rng.IntN(snap.Count-1)
	pages := pageCount(snap.Count, size)
	n := 1 + v.rng.IntN(pages-1)
	v.logger.Debug("pagination sample", "resource", spec.Name, "count", snap.Count, "page_size", size, "page", n, "pages", pages)

	page, err = v.list(ctx, spec, op, pageParams(n, size))
	if err != nil {
		return err
	}
	if err := checkPage(spec, op, snap.Count, n, pages, size, page); err != nil {
		return err
	}

	page, err = v.list(ctx, spec, op, pageParams(pages, size))
	if err != nil {
		return err
	}
	if err := checkPage(spec, op, snap.Count, pages, pages, size, page); err != nil {
		return err
	}

	over := snap.Count + 1 + v.rng.IntN(oversizeSpread)
	page, err = v.list(ctx, spec, op, url.Values{"page_size": {strconv.Itoa(over)}})
	if err != nil {
		return err
	}
	if err := checkPage(spec, op, snap.Count, 1, 1, over, page); err != nil {
		return fmt.Errorf("oversize page_size=%d: %w", over, err)
	}
	return nil
}

// VerifyPageWalk follows every page for one page size and checks the size
// law on each, then the union of listed ids against the snapshot.
func (v *Verifier) VerifyPageWalk(ctx context.Context, spec resource.Spec, size int) error {
	const op = "page_walk"
	v.logger.Info("check", "check", op, "resource", spec.Name, "page_size", size)

	if size < 1 {
		return Unsupported(spec.Name, op, "page size %d is not positive", size)
	}
	if err := v.requirePages(ctx, spec, op); err != nil {
		return err
	}
	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	if snap.Count == 0 {
		return v.skip(spec, op, "no rows")
	}

	pages := pageCount(snap.Count, size)
	var all []api.Record
	page, err := v.list(ctx, spec, op, url.Values{"page_size": {strconv.Itoa(size)}})
	for n := 1; ; n++ {
		if err != nil {
			return err
		}
		if err := v.observe(spec, op, page); err != nil {
			return err
		}
		if err := checkPage(spec, op, snap.Count, n, pages, size, page); err != nil {
			return fmt.Errorf("page %d: %w", n, err)
		}
		all = append(all, page.Results...)
		if page.Next == nil {
			break
		}
		page, err = v.follow(ctx, spec, op, *page.Next)
	}
	return checkIDSet(spec, op, snap, all)
}

// requirePages reports Unsupported when the listing answers with a bare
// array. The declared Paginate flag is not consulted.
func (v *Verifier) requirePages(ctx context.Context, spec resource.Spec, op string) error {
	pageable, err := v.Pageable(ctx, spec)
	if err != nil {
		return err
	}
	if !pageable {
		return Unsupported(spec.Name, op, "resource is not paginated")
	}
	return nil
}

// checkPage asserts the size law for page n of pages.
func checkPage(spec resource.Spec, op string, count, n, pages, size int, page *api.Page) error {
	if !page.Pageable {
		return Defect(spec.Name, op, "", "listing answered with a bare array", "envelope", "array")
	}
	if page.Count != count {
		return Defect(spec.Name, op, "", "listing count differs from store count", count, page.Count)
	}
	want := min(size, count)
	if n == pages {
		want = lastPageSize(count, size)
	}
	if len(page.Results) != want {
		return Defect(spec.Name, op, "", fmt.Sprintf("page %d size", n), want, len(page.Results))
	}
	switch {
	case n < pages && page.Next == nil:
		return Defect(spec.Name, op, "", fmt.Sprintf("page %d of %d has no next link", n, pages), "link", nil)
	case n == pages && page.Next != nil:
		return Defect(spec.Name, op, "", "last page has a next link", nil, *page.Next)
	case n > 1 && page.Previous == nil:
		return Defect(spec.Name, op, "", fmt.Sprintf("page %d has no previous link", n), "link", nil)
	case n == 1 && page.Previous != nil:
		return Defect(spec.Name, op, "", "first page has a previous link", nil, *page.Previous)
	}
	return nil
}

// pageCount is ceil(count/size).
func pageCount(count, size int) int {
	if count == 0 {
		return 1
	}
	return (count + size - 1) / size
}

// lastPageSize is count mod size, or size when that is zero.
func lastPageSize(count, size int) int {
	if count == 0 {
		return 0
	}
	if r := count % size; r != 0 {
		return r
	}
	return size
}

func pageParams(page, size int) url.Values {
	return url.Values{
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(size)},
	}
}
