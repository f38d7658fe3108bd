package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Record is one decoded listing or detail item. Numbers decode as
// json.Number so identities and counters keep their exact text.
type Record map[string]any

// Keys returns the record's attribute names, sorted.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// Page is one decoded listing response. Pageable is false for a bare-array
// response, in which case Count is len(Results) and the links are nil.
type Page struct {
	Count    int
	Next     *string
	Previous *string
	Results  []Record
	Pageable bool
}

// StatusError is a listing answered with a status other than 200.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Response.Method, e.Response.URL, e.Response.Status, Snippet(e.Response.Body))
}

// DecodeError is a body that is not the JSON shape expected.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodePage decodes a listing body. An object must carry the envelope
// keys; an array is an unpaginated listing.
func DecodePage(body []byte) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("body is not valid JSON")
	}
	root := gjson.ParseBytes(body)

	switch {
	case root.IsArray():
		var results []Record
		if err := decode(body, &results); err != nil {
			return nil, err
		}
		if results == nil {
			results = []Record{}
		}
		return &Page{Count: len(results), Results: results}, nil

	case root.IsObject():
		for _, k := range []string{"count", "results"} {
			if !root.Get(k).Exists() {
				return nil, fmt.Errorf("envelope has no %q", k)
			}
		}
		if !root.Get("results").IsArray() {
			return nil, errors.New("envelope results is not an array")
		}
		var env struct {
			Count    int      `json:"count"`
			Next     *string  `json:"next"`
			Previous *string  `json:"previous"`
			Results  []Record `json:"results"`
		}
		if err := decode(body, &env); err != nil {
			return nil, err
		}
		if env.Results == nil {
			env.Results = []Record{}
		}
		return &Page{
			Count:    env.Count,
			Next:     env.Next,
			Previous: env.Previous,
			Results:  env.Results,
			Pageable: true,
		}, nil
	}
	return nil, fmt.Errorf("unexpected listing body type %s", root.Type)
}

// DecodeRecord decodes a detail or mutation body.
func DecodeRecord(body []byte) (Record, error) {
	if !gjson.ParseBytes(body).IsObject() {
		return nil, errors.New("body is not a JSON object")
	}
	var r Record
	if err := decode(body, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// Detail extracts the "detail" message DRF puts in error bodies.
func Detail(body []byte) (string, bool) {
	d := gjson.GetBytes(body, "detail")
	if !d.Exists() || d.Type != gjson.String {
		return "", false
	}
	return d.String(), true
}

// Snippet shortens a body for error messages. The cut never splits a
// UTF-8 sequence.
func Snippet(body []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
