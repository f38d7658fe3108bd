package resource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/listproof/internal/querysql"
)

// Error codes reported by the loaders.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No spec files found
	ErrCodeLoadFailed  = "E004" // File read or parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeMissingName  = "E101" // Resource has no name
	ErrCodeIdentifier   = "E102" // Table/column name not a safe identifier
	ErrCodeFilter       = "E103" // Invalid filter rule
	ErrCodeFieldRule    = "E104" // Invalid field rule
	ErrCodeDuplicate    = "E105" // Two resources share a name
	ErrCodeStatusFields = "E106" // Invalid status columns
)

// LoadError is a spec loading or validation failure.
type LoadError struct {
	Code     string
	Resource string
	Message  string
	File     string
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Code)
	b.WriteString(": ")
	if e.Resource != "" {
		b.WriteString(e.Resource)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// document is the on-disk shape of a resource spec. The json tags are used
// when decoding CUE values.
type document struct {
	Name          string               `yaml:"name" json:"name"`
	Endpoint      string               `yaml:"endpoint" json:"endpoint"`
	Table         string               `yaml:"table" json:"table"`
	DisplayName   string               `yaml:"display_name" json:"display_name"`
	PrimaryKey    string               `yaml:"primary_key" json:"primary_key"`
	ListKey       string               `yaml:"list_key" json:"list_key"`
	Existence     bool                 `yaml:"existence" json:"existence"`
	Paginate      *bool                `yaml:"paginate" json:"paginate"`
	Ordering      string               `yaml:"ordering" json:"ordering"`
	Filters       map[string]filterDoc `yaml:"filters" json:"filters"`
	Attributes    []string             `yaml:"attributes" json:"attributes"`
	Renames       map[string]string    `yaml:"renames" json:"renames"`
	Extra         []string             `yaml:"extra_attributes" json:"extra_attributes"`
	Fields        map[string]FieldRule `yaml:"fields" json:"fields"`
	OrderExcludes []string             `yaml:"order_excludes" json:"order_excludes"`
	Status        *StatusSpec          `yaml:"status" json:"status"`
}

type filterDoc struct {
	Field string `yaml:"field" json:"field"`
	Exact *bool  `yaml:"exact" json:"exact"`
}

// normalize applies defaults to doc and validates the result. All problems
// are reported, not just the first.
func normalize(doc document) (Spec, []error) {
	var errs []error
	fail := func(code, format string, args ...any) {
		errs = append(errs, &LoadError{Code: code, Resource: doc.Name, Message: fmt.Sprintf(format, args...)})
	}

	if doc.Name == "" {
		fail(ErrCodeMissingName, "resource has no name")
	}

	s := Spec{
		Name:          doc.Name,
		Endpoint:      strings.Trim(cmpOr(doc.Endpoint, doc.Name), "/"),
		Table:         cmpOr(doc.Table, doc.Name),
		PrimaryKey:    cmpOr(doc.PrimaryKey, DefaultPrimaryKey),
		Existence:     doc.Existence,
		Paginate:      doc.Paginate == nil || *doc.Paginate,
		Ordering:      doc.Ordering,
		Attributes:    slices.Clone(doc.Attributes),
		Renames:       make(map[string]string, len(doc.Renames)),
		Extra:         slices.Clone(doc.Extra),
		Filters:       make(map[string]FilterRule, len(doc.Filters)),
		Fields:        make(map[string]FieldRule, len(doc.Fields)),
		OrderExcludes: slices.Clone(doc.OrderExcludes),
	}
	s.ListKey = cmpOr(doc.ListKey, s.PrimaryKey)
	base, _, _ := BaseTable(s.Table)
	s.DisplayName = cmpOr(doc.DisplayName, base)

	for _, id := range []string{s.Table, s.PrimaryKey} {
		if !querysql.ValidIdentifier(id) {
			fail(ErrCodeIdentifier, "%q is not a valid identifier", id)
		}
	}

	for param, f := range doc.Filters {
		field := cmpOr(f.Field, strings.TrimSuffix(param, ContainsSuffix))
		exact := !strings.HasSuffix(param, ContainsSuffix)
		if f.Exact != nil {
			exact = *f.Exact
		}
		if !querysql.ValidIdentifier(field) {
			fail(ErrCodeFilter, "filter %s: %q is not a valid identifier", param, field)
		}
		s.Filters[param] = FilterRule{Field: field, Exact: exact}
	}

	for attr, r := range doc.Fields {
		r, err := normalizeField(attr, r)
		if err != "" {
			fail(ErrCodeFieldRule, "field %s: %s", attr, err)
			continue
		}
		s.Fields[attr] = r
	}

	for col, attr := range doc.Renames {
		if !querysql.ValidIdentifier(col) {
			fail(ErrCodeIdentifier, "rename %s: %q is not a valid identifier", attr, col)
			continue
		}
		s.Renames[col] = attr
		if _, ok := s.Fields[attr]; !ok {
			s.Fields[attr] = FieldRule{Kind: KindColumn, Column: col}
		}
	}

	if doc.Status != nil {
		st := StatusSpec{
			Field:      cmpOr(doc.Status.Field, "status"),
			RefCount:   cmpOr(doc.Status.RefCount, "ref_count"),
			ModifyUser: cmpOr(doc.Status.ModifyUser, "modify_user"),
			ModifyTime: cmpOr(doc.Status.ModifyTime, "modify_time"),
		}
		for _, c := range []string{st.Field, st.RefCount, st.ModifyUser, st.ModifyTime} {
			if !querysql.ValidIdentifier(c) {
				fail(ErrCodeStatusFields, "%q is not a valid identifier", c)
			}
		}
		if doc.Existence {
			fail(ErrCodeStatusFields, "join-table resources cannot carry status")
		}
		s.Status = &st
	}

	return s, errs
}

func normalizeField(attr string, r FieldRule) (FieldRule, string) {
	if r.Kind == "" {
		r.Kind = KindEqual
	}
	switch r.Kind {
	case KindEqual, KindIgnore:
	case KindColumn:
		if r.Column == "" {
			return r, "column rule needs a column"
		}
	case KindRelated:
		rel := r.Relation
		if rel == nil || rel.Table == "" || rel.Owner == "" || rel.Value == "" {
			return r, "related rule needs relation table, owner and value"
		}
		for _, id := range []string{rel.Table, rel.Owner, rel.Value} {
			if !querysql.ValidIdentifier(id) {
				return r, fmt.Sprintf("%q is not a valid identifier", id)
			}
		}
		if rel.Order == "" {
			cp := *rel
			cp.Order = "id"
			r.Relation = &cp
		}
	case KindTimestamp:
		if r.Layout == "" {
			r.Layout = DefaultTimestampLayout
		}
		if r.Offset != "" {
			if _, err := time.ParseDuration(r.Offset); err != nil {
				return r, fmt.Sprintf("bad offset %q: %v", r.Offset, err)
			}
		}
	default:
		return r, fmt.Sprintf("unknown kind %q", r.Kind)
	}
	if r.Column != "" && !querysql.ValidIdentifier(r.Column) {
		return r, fmt.Sprintf("%q is not a valid identifier", r.Column)
	}
	return r, ""
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Decode reads one or more YAML documents from r. Unknown keys are
// rejected.
func Decode(r io.Reader) ([]Spec, []error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var specs []Spec
	var errs []error
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()})
			break
		}
		s, verrs := normalize(doc)
		if len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		specs = append(specs, s)
	}
	return specs, errs
}

// LoadFile reads resource specs from a YAML file.
func LoadFile(path string) ([]Spec, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := ErrCodeLoadFailed
		if os.IsNotExist(err) {
			code = ErrCodeNotFound
		}
		return nil, []error{&LoadError{Code: code, File: path, Message: err.Error()}}
	}
	specs, errs := Decode(bytes.NewReader(data))
	for _, e := range errs {
		var le *LoadError
		if errors.As(e, &le) {
			le.File = path
		}
	}
	return specs, errs
}

// LoadDir loads every .yaml, .yml and .cue resource spec under dir into a
// Catalog. Errors from all files are collected.
func LoadDir(dir string) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("resources directory not found: %s", dir)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	yamlFiles, cueFiles, err := findSpecFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(yamlFiles) == 0 && len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no resource specs found in %s", dir)}}
	}

	var specs []Spec
	var errs []error
	for _, f := range yamlFiles {
		s, e := LoadFile(f)
		specs = append(specs, s...)
		errs = append(errs, e...)
	}
	if len(cueFiles) > 0 {
		s, e := LoadCUE(dir)
		specs = append(specs, s...)
		errs = append(errs, e...)
	}

	cat, err := NewCatalog(specs...)
	if err != nil {
		errs = append(errs, err)
	}
	return cat, errs
}

func findSpecFiles(dir string) (yamlFiles, cueFiles []string, err error) {
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		case ".cue":
			cueFiles = append(cueFiles, path)
		}
		return nil
	})
	sort.Strings(yamlFiles)
	sort.Strings(cueFiles)
	return yamlFiles, cueFiles, err
}
