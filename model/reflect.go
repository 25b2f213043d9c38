// Package model - Reflection-basierte Tensor-Population
//
// Dieses Modul enthaelt die Reflection-Logik zum automatischen Befuellen
// von Modell-Strukturen mit Tensoren aus einer WeightSource.
//
// Hauptkomponenten:
// - LoadModule: Befuellt eine Struktur und sammelt alle Fehler
// - Tag: weight-Tag mit Name, optional und Alternativen
// - parseTag: Parst weight-Tags aus Struct-Tags
//
// Tag-Syntax: `weight:"name[,optional][,alt:other]"`. Slices ersetzen %d
// im Namen durch den Index, ohne %d wird der Index als eigene Ebene angehaengt.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/logutil"
	"github.com/deepfusion/dfnet/ml"
)

// Tag repraesentiert einen geparsten weight-Tag
type Tag struct {
	name         string
	optional     bool
	alternatives []string
}

// parseTag parst einen weight-Tag-String in eine Tag-Struktur
func parseTag(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	if len(parts) > 0 {
		tag.name = parts[0]

		for _, part := range parts[1:] {
			if value, ok := strings.CutPrefix(part, "alt:"); ok && tag.name == "" {
				// Alternative zum Primaernamen erheben wenn kein Primaername
				tag.name = value
				slog.Warn("weight tag has alt: but no primary name", "tag", s)
			} else if ok {
				tag.alternatives = append(tag.alternatives, value)
			}
			if part == "optional" {
				tag.optional = true
			}
		}
	}

	return
}

var (
	tensorType = reflect.TypeOf((*ml.Tensor)(nil))
	baseType   = reflect.TypeOf(Base{})
)

// LoadModule befuellt m (Zeiger auf Struct) mit Tensoren aus src.
// Alle fehlenden Pflicht-Tensoren und Validierungsfehler werden gemeinsam zurueckgegeben.
func LoadModule(m any, src WeightSource, prefix string) error {
	l := loader{src: src}
	l.load(m, prefix)
	return errors.Join(l.errs...)
}

// loader haelt den Zustand eines Ladevorgangs
type loader struct {
	src    WeightSource
	errs   []error
	found  int
	params uint64
}

func (l *loader) load(m any, prefix string) {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		l.errs = append(l.errs, fmt.Errorf("model: cannot load into %T", m))
		return
	}

	var prefixes []string
	if prefix != "" {
		prefixes = []string{prefix}
	}
	l.populateStruct(v.Elem(), prefixes)
}

// join verbindet Praefixe und Tag-Namen zu allen moeglichen Tensor-Namen
func join(prefixes []string, names ...string) []string {
	if len(prefixes) == 0 {
		return names
	}

	var out []string
	for _, p := range prefixes {
		for _, n := range names {
			out = append(out, p+"."+n)
		}
	}
	return out
}

func (tag Tag) names() []string {
	return append([]string{tag.name}, tag.alternatives...)
}

// indexed setzt den Slice-Index in alle Namen ein
func (tag Tag) indexed(prefixes []string, i int) []string {
	var names []string
	for _, n := range tag.names() {
		if strings.Contains(n, "%d") {
			names = append(names, fmt.Sprintf(n, i))
		} else {
			names = append(names, n+"."+strconv.Itoa(i))
		}
	}
	return join(prefixes, names...)
}

// populateStruct befuellt Strukturfelder rekursiv
func (l *loader) populateStruct(v reflect.Value, prefixes []string) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		vv := v.Field(i)
		if !vv.CanSet() || field.Type == baseType {
			continue
		}

		raw, tagged := field.Tag.Lookup("weight")
		if !tagged && !field.Anonymous {
			continue
		}

		tag := parseTag(raw)
		names := prefixes
		if tag.name != "" {
			names = join(prefixes, tag.names()...)
		}

		switch {
		case field.Type == tensorType:
			l.setTensor(vv, names, tag.optional)
		case field.Type.Kind() == reflect.Pointer && field.Type.Elem().Kind() == reflect.Struct:
			l.setPointer(vv, names, tag.optional)
		case field.Type.Kind() == reflect.Interface:
			l.setInterface(vv, names, tag.optional)
		case field.Type.Kind() == reflect.Struct:
			l.populateStruct(vv, names)
		case field.Type.Kind() == reflect.Slice || field.Type.Kind() == reflect.Array:
			for j := range vv.Len() {
				l.populateElem(vv.Index(j), tag.indexed(prefixes, j), tag.optional)
			}
		}
	}

	if v.CanAddr() {
		if validator, ok := v.Addr().Interface().(Validator); ok {
			if err := validator.Validate(); err != nil && len(prefixes) > 0 {
				l.errs = append(l.errs, fmt.Errorf("%s: %w", prefixes[0], err))
			} else if err != nil {
				l.errs = append(l.errs, err)
			}
		}
	}
}

func (l *loader) populateElem(v reflect.Value, names []string, optional bool) {
	switch {
	case v.Type() == tensorType:
		l.setTensor(v, names, optional)
	case v.Kind() == reflect.Pointer && v.Type().Elem().Kind() == reflect.Struct:
		l.setPointer(v, names, optional)
	case v.Kind() == reflect.Interface:
		l.setInterface(v, names, optional)
	case v.Kind() == reflect.Struct:
		l.populateStruct(v, names)
	}
}

// setTensor sucht den ersten vorhandenen Namen
func (l *loader) setTensor(v reflect.Value, names []string, optional bool) {
	for _, name := range names {
		t, err := l.src.Get(name)
		if errors.Is(err, fs.ErrTensorNotFound) {
			continue
		} else if err != nil {
			l.errs = append(l.errs, err)
			return
		}

		logutil.Trace("found tensor", "name", name, "shape", t.Shape())
		v.Set(reflect.ValueOf(t))
		l.found++
		l.params += uint64(t.Len())
		return
	}

	if !optional && len(names) > 0 {
		l.errs = append(l.errs, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, names[0]))
	}
}

// setPointer legt fehlende Structs an; optionale Structs ohne Tensoren werden wieder nil
func (l *loader) setPointer(v reflect.Value, names []string, optional bool) {
	if v.IsNil() {
		v.Set(reflect.New(v.Type().Elem()))
	}

	found, nerrs := l.found, len(l.errs)
	l.populateStruct(v.Elem(), names)
	if optional && l.found == found {
		l.errs = l.errs[:nerrs]
		v.Set(reflect.Zero(v.Type()))
	}
}

// setInterface befuellt den konkreten Wert hinter einem Interface, nil bleibt nil
func (l *loader) setInterface(v reflect.Value, names []string, optional bool) {
	if v.IsNil() {
		return
	}

	e := v.Elem()
	if e.Kind() != reflect.Pointer || e.IsNil() || e.Elem().Kind() != reflect.Struct {
		return
	}

	found, nerrs := l.found, len(l.errs)
	l.populateStruct(e.Elem(), names)
	if optional && l.found == found {
		l.errs = l.errs[:nerrs]
	}
}

// setBase setzt eingebettete Base-Felder der obersten Ebene
func setBase(m any, base Base) {
	v := reflect.Indirect(reflect.ValueOf(m))
	if v.Kind() != reflect.Struct {
		return
	}

	for i := range v.NumField() {
		if f := v.Field(i); f.Type() == baseType && f.CanSet() {
			f.Set(reflect.ValueOf(base))
		}
	}
}
