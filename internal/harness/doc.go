// Package harness runs verification scenarios against a surface.
//
// # Scenario Format
//
// Scenarios are YAML files naming one resource and the checks to run on it:
//
//	name: factor-api
//	description: "factor listing, filters and status flips"
//	resource: factor
//	checks:
//	  - default
//	  - pagination
//	  - {type: page_walk, size: 12}
//	  - {type: filter, param: status, value: "1"}
//	  - {type: filter, param: name__contains, value: "zzz", expect: skip}
//	  - {type: order, fields: [id, name]}
//	  - detail
//	  - not_found
//	  - flip_status
//	  - guard
//	  - {type: mirrored_flip, id: "1"}
//
// A check written as a bare string takes no arguments. Unknown keys are
// rejected.
//
// # Outcomes
//
// Each check ends pass, fail, skip or fatal. Defects and schema drift
// fail. Vacuous cases and checks the resource does not declare skip and
// are noted. A fatal error aborts the scenario. A check with an expect key passes only when its
// outcome matches, which pins vacuous cases as deliberate.
//
// # Deterministic Runs
//
// With a seeded random source, a fixed run id and the deterministic twin
// clock, a scenario renders byte-identical canonical JSON; RunWithGolden
// compares it against testdata/golden.
package harness
