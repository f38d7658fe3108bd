package resource

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadCUE loads resource specs declared under the top-level "resource"
// struct of the CUE package in dir:
//
//	resource: factor: {
//		table: "factor"
//		filters: name__contains: field: "name"
//	}
//
// The field label is the default resource name.
func LoadCUE(dir string) ([]Spec, []error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	return decodeCUE(value)
}

func decodeCUE(value cue.Value) ([]Spec, []error) {
	resources := value.LookupPath(cue.ParsePath("resource"))
	if !resources.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: "no resource struct in CUE package"}}
	}

	iter, err := resources.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating resources: %v", err)}}
	}

	var specs []Spec
	var errs []error
	for iter.Next() {
		label := iter.Label()
		var doc document
		if err := iter.Value().Decode(&doc); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Resource: label, Message: err.Error()})
			continue
		}
		if doc.Name == "" {
			doc.Name = label
		}
		s, verrs := normalize(doc)
		if len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, errs
}
