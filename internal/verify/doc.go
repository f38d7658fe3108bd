// Package verify checks that a listing surface is a faithful projection of
// its backing store.
//
// A Verifier pairs a ground-truth oracle with the surface client and runs
// one check per call:
//
//	VerifyDefaultListing  envelope shape, count and id set against a snapshot
//	VerifyPagination      random page, last page and oversize page laws
//	VerifyPageWalk        every page for one page size
//	VerifyFilter          filtered id set equals the store predicate's
//	VerifyOrdering        sparse monotonicity sample across a page boundary
//	VerifyRecord          field-level reconciliation through the coercion table
//	VerifyDetail          detail endpoint reconciliation
//	VerifyNotFound        404 contract just outside the key range
//	VerifyCreation        created record and referenced counter
//
// Every check returns nil or an error classified by the Failure taxonomy:
// Fatal aborts the scenario, Defect is a reported mismatch, Skip is a
// vacuous case logged at WARN, Unsupported and SchemaDrift are
// configuration problems surfaced as failures.
//
// Snapshots are cached per resource for the life of a run and must be
// invalidated after any write; see SnapshotCache.
package verify
