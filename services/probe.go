package services

import (
	"math"

	"github.com/tidwall/gjson"
)

// The probe helpers read optional fields out of a loosely shaped annotation
// document. A missing field, or one of the wrong JSON kind, yields the zero
// value and ok == false; nothing here returns an error.

// ParseDocument turns raw provider JSON into a probe-able tree. Invalid JSON
// becomes an empty result.
func ParseDocument(raw []byte) gjson.Result {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

func probeObject(r gjson.Result, key string) (gjson.Result, bool) {
	if !r.IsObject() {
		return gjson.Result{}, false
	}
	v := r.Get(key)
	return v, v.IsObject()
}

func probeArray(r gjson.Result, key string) []gjson.Result {
	if !r.IsObject() {
		return nil
	}
	v := r.Get(key)
	if !v.IsArray() {
		return nil
	}
	return v.Array()
}

func probeString(r gjson.Result, key string) (string, bool) {
	if !r.IsObject() {
		return "", false
	}
	v := r.Get(key)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// probeScore reads a numeric score clamped to [0,1]. Anything that is not a
// JSON number scores 0.
func probeScore(r gjson.Result, key string) float64 {
	if !r.IsObject() {
		return 0
	}
	v := r.Get(key)
	if v.Type != gjson.Number {
		return 0
	}
	return clamp01(v.Num)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
