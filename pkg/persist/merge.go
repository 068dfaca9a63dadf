package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// MergeShallow overlays the top-level fields of persisted onto current.
// Only persisted is encoded: each key of its JSON object replaces the struct
// field (matched by JSON name) or map entry of the same name in a copy of
// current. Fields persisted does not carry keep their live value, including
// unexported and `json:"-"` fields. A nil or JSON null persisted returns
// current unchanged. When persisted is not an object, or S is neither a
// struct, a pointer to a struct nor a string-keyed map, persisted replaces
// current entirely.
func MergeShallow[S, P any](persisted *P, current S) (S, error) {
	if persisted == nil {
		return current, nil
	}
	raw, err := json.Marshal(*persisted)
	if err != nil {
		return current, fmt.Errorf("encode persisted state: %w", err)
	}
	if isNull(raw) {
		return current, nil
	}

	merged, ok, err := overlayFields(raw, current, replaceField)
	if err != nil || ok {
		return merged, err
	}
	return decodeAs[S](raw)
}

// MergeDeep merges persisted into current recursively. Nested objects are
// merged key by key; any other persisted value, arrays included, replaces the
// current one. A persisted null leaves the current value in place. Like
// MergeShallow, fields persisted does not mention are left untouched.
func MergeDeep[S, P any](persisted *P, current S) (S, error) {
	if persisted == nil {
		return current, nil
	}
	raw, err := json.Marshal(*persisted)
	if err != nil {
		return current, fmt.Errorf("encode persisted state: %w", err)
	}
	if isNull(raw) {
		return current, nil
	}

	merged, ok, err := overlayFields(raw, current, mergeField)
	if err != nil || ok {
		return merged, err
	}

	base, _, err := toTree(current)
	if err != nil {
		return current, fmt.Errorf("encode current state: %w", err)
	}
	overlay, err := decodeTree(raw)
	if err != nil {
		return current, fmt.Errorf("decode persisted state: %w", err)
	}
	out := mergeValue(reflect.ValueOf(overlay), reflect.ValueOf(base))
	if !out.IsValid() {
		return current, nil
	}
	return fromTree[S](out.Interface())
}

// combineFunc computes the new value of one field or map entry of type typ.
// cur is the live value, invalid when a map has no entry yet.
type combineFunc func(typ reflect.Type, cur reflect.Value, raw json.RawMessage) (reflect.Value, error)

func replaceField(typ reflect.Type, _ reflect.Value, raw json.RawMessage) (reflect.Value, error) {
	v := reflect.New(typ)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return v.Elem(), nil
}

func mergeField(typ reflect.Type, cur reflect.Value, raw json.RawMessage) (reflect.Value, error) {
	if isNull(raw) {
		if cur.IsValid() {
			return cur, nil
		}
		return reflect.Zero(typ), nil
	}
	strong, err := decodeTree(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	var weak any
	if cur.IsValid() {
		if weak, _, err = toTree(cur.Interface()); err != nil {
			return reflect.Value{}, err
		}
	}
	merged := mergeValue(reflect.ValueOf(strong), reflect.ValueOf(weak))
	if !merged.IsValid() {
		return reflect.Zero(typ), nil
	}
	encoded, err := json.Marshal(merged.Interface())
	if err != nil {
		return reflect.Value{}, err
	}
	return replaceField(typ, cur, encoded)
}

// overlayFields applies every top-level key of raw onto a copy of current.
// ok is false when raw is not an object or S has no addressable fields.
func overlayFields[S any](raw json.RawMessage, current S, combine combineFunc) (out S, ok bool, err error) {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil || fields == nil {
		return current, false, nil
	}

	cv := reflect.ValueOf(&current).Elem()
	switch {
	case cv.Kind() == reflect.Struct:
		dst := reflect.New(cv.Type()).Elem()
		dst.Set(cv)
		if err := overlayStruct(dst, fields, combine); err != nil {
			return current, true, err
		}
		return dst.Interface().(S), true, nil

	case cv.Kind() == reflect.Pointer && cv.Type().Elem().Kind() == reflect.Struct && !cv.IsNil():
		dst := reflect.New(cv.Type().Elem())
		dst.Elem().Set(cv.Elem())
		if err := overlayStruct(dst.Elem(), fields, combine); err != nil {
			return current, true, err
		}
		return dst.Interface().(S), true, nil

	case cv.Kind() == reflect.Map && cv.Type().Key().Kind() == reflect.String:
		dst := reflect.MakeMapWithSize(cv.Type(), cv.Len()+len(fields))
		if !cv.IsNil() {
			iter := cv.MapRange()
			for iter.Next() {
				dst.SetMapIndex(iter.Key(), iter.Value())
			}
		}
		keyType, elemType := cv.Type().Key(), cv.Type().Elem()
		for name, value := range fields {
			key := reflect.ValueOf(name).Convert(keyType)
			next, err := combine(elemType, cv.MapIndex(key), value)
			if err != nil {
				return current, true, fmt.Errorf("merge key %q: %w", name, err)
			}
			dst.SetMapIndex(key, next)
		}
		return dst.Interface().(S), true, nil
	}
	return current, false, nil
}

func overlayStruct(dst reflect.Value, fields map[string]json.RawMessage, combine combineFunc) error {
	index := jsonFields(dst.Type())
	for name, value := range fields {
		path, ok := index.lookup(name)
		if !ok {
			continue
		}
		target, err := dst.FieldByIndexErr(path)
		if err != nil || !target.CanSet() {
			continue
		}
		next, err := combine(target.Type(), target, value)
		if err != nil {
			return fmt.Errorf("merge field %q: %w", name, err)
		}
		target.Set(next)
	}
	return nil
}

type fieldIndex struct {
	names []string
	paths [][]int
}

// jsonFields lists the fields encoding/json would decode into, by JSON name.
// Fields reached through an embedded pointer are left out: the copy shares
// the pointee with current.
func jsonFields(t reflect.Type) fieldIndex {
	var idx fieldIndex
	for _, f := range reflect.VisibleFields(t) {
		name, skip := jsonName(f)
		if skip || throughEmbedded(t, f.Index) {
			continue
		}
		idx.names = append(idx.names, name)
		idx.paths = append(idx.paths, f.Index)
	}
	return idx
}

// lookup matches name exactly first, then case-insensitively, as encoding/json does.
func (idx fieldIndex) lookup(name string) ([]int, bool) {
	for i, n := range idx.names {
		if n == name {
			return idx.paths[i], true
		}
	}
	for i, n := range idx.names {
		if strings.EqualFold(n, name) {
			return idx.paths[i], true
		}
	}
	return nil, false
}

func jsonName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	if f.Anonymous && name == "" {
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			// Its fields are promoted.
			return "", true
		}
	}
	if !f.IsExported() {
		return "", true
	}
	if name == "" {
		name = f.Name
	}
	return name, false
}

// throughEmbedded reports whether the field at index is reached through an
// embedded pointer or through an embedded struct that JSON names itself.
func throughEmbedded(t reflect.Type, index []int) bool {
	for i := 1; i < len(index); i++ {
		outer := t.FieldByIndex(index[:i])
		if outer.Type.Kind() == reflect.Pointer {
			return true
		}
		if name, _, _ := strings.Cut(outer.Tag.Get("json"), ","); name != "" {
			return true
		}
	}
	return false
}

// mergeValue combines two decoded JSON trees. strong wins wherever it holds a
// value; weak fills in the rest.
func mergeValue(strong, weak reflect.Value) reflect.Value {
	if !strong.IsValid() {
		return cloneValue(weak)
	}

	switch strong.Kind() {
	case reflect.Interface:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		var weakElem reflect.Value
		if weak.IsValid() && weak.Kind() == reflect.Interface && !weak.IsNil() {
			weakElem = weak.Elem()
		} else if weak.IsValid() && weak.Kind() != reflect.Interface {
			weakElem = weak
		}
		return mergeValue(strong.Elem(), weakElem)
	case reflect.Map:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		if weak.IsValid() && weak.Kind() == reflect.Interface && !weak.IsNil() {
			weak = weak.Elem()
		}
		result := reflect.MakeMapWithSize(strong.Type(), strong.Len())
		if weak.IsValid() && weak.Kind() == reflect.Map && weak.Type() == strong.Type() && !weak.IsNil() {
			iter := weak.MapRange()
			for iter.Next() {
				result.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
			}
		}
		iter := strong.MapRange()
		for iter.Next() {
			key := iter.Key()
			value := iter.Value()
			existing := result.MapIndex(key)
			if existing.IsValid() {
				merged := mergeValue(value, existing)
				if merged.IsValid() {
					result.SetMapIndex(key, merged)
				}
				continue
			}
			if cloned := cloneValue(value); cloned.IsValid() {
				result.SetMapIndex(key, cloned)
			} else {
				result.SetMapIndex(key, reflect.Zero(strong.Type().Elem()))
			}
		}
		return result
	case reflect.Slice:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		return cloneValue(strong)
	default:
		return cloneValue(strong)
	}
}

func cloneValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Value{}
		}
		return cloneValue(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if elem := cloneValue(iter.Value()); elem.IsValid() {
				clone.SetMapIndex(iter.Key(), elem)
			} else {
				clone.SetMapIndex(iter.Key(), reflect.Zero(v.Type().Elem()))
			}
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			if elem := cloneValue(v.Index(i)); elem.IsValid() {
				clone.Index(i).Set(elem)
			}
		}
		return clone
	default:
		return reflect.ValueOf(v.Interface())
	}
}

// toTree encodes v and decodes it into generic JSON values.
func toTree(v any) (tree any, isObject bool, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if tree, err = decodeTree(raw); err != nil {
		return nil, false, err
	}
	_, isObject = tree.(map[string]any)
	return tree, isObject, nil
}

func decodeTree(raw []byte) (tree any, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	err = dec.Decode(&tree)
	return tree, err
}

func decodeAs[S any](raw []byte) (S, error) {
	var out S
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode persisted state: %w", err)
	}
	return out, nil
}

func fromTree[S any](tree any) (S, error) {
	var out S
	raw, err := json.Marshal(tree)
	if err != nil {
		return out, fmt.Errorf("encode merged state: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode merged state: %w", err)
	}
	return out, nil
}
