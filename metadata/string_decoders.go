/*
Copyright 2023 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metadata

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spiffe/go-workloadapi/ptr"
	kitstrings "github.com/spiffe/go-workloadapi/strings"
)

func toTruthyBoolHookFunc() mapstructure.DecodeHookFunc {
	stringType := reflect.TypeOf("")
	boolType := reflect.TypeOf(true)
	boolPtrType := reflect.TypeOf(ptr.Of(true))

	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f == stringType && t == boolType {
			return kitstrings.IsTruthy(data.(string)), nil
		}
		if f == stringType && t == boolPtrType {
			return ptr.Of(kitstrings.IsTruthy(data.(string))), nil
		}
		return data, nil
	}
}

func toStringArrayHookFunc() mapstructure.DecodeHookFunc {
	stringType := reflect.TypeOf("")
	stringSliceType := reflect.TypeOf([]string{})
	stringSlicePtrType := reflect.TypeOf(ptr.Of([]string{}))

	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f == stringType && t == stringSliceType {
			return strings.Split(data.(string), ","), nil
		}
		if f == stringType && t == stringSlicePtrType {
			return ptr.Of(strings.Split(data.(string), ",")), nil
		}
		return data, nil
	}
}

func toTimeDurationHookFunc() mapstructure.DecodeHookFunc {
	stringType := reflect.TypeOf("")
	durationType := reflect.TypeOf(time.Duration(0))
	durationPtrType := reflect.TypeOf(ptr.Of(time.Duration(0)))

	convert := func(input string) (time.Duration, error) {
		if input == "" {
			return 0, nil
		}
		val, err := time.ParseDuration(input)
		if err != nil {
			// If we can't parse the duration, try parsing it as int64 seconds
			seconds, errParse := strconv.ParseInt(input, 10, 0)
			if errParse != nil {
				return 0, errors.Join(err, errParse)
			}
			val = time.Duration(seconds * int64(time.Second))
		}
		return val, nil
	}

	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f == stringType && t == durationType {
			return convert(data.(string))
		}
		if f == stringType && t == durationPtrType {
			val, err := convert(data.(string))
			if err != nil {
				return nil, err
			}
			return ptr.Of(val), nil
		}
		return data, nil
	}
}

// byteSizeUnits maps the suffix of a human-readable size (e.g. "10Mb") to its
// multiplier in bytes. Matched longest-suffix-first so "Kb" doesn't shadow "b".
var byteSizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"gb", 1 << 30},
	{"mb", 1 << 20},
	{"kb", 1 << 10},
	{"g", 1 << 30},
	{"m", 1 << 20},
	{"k", 1 << 10},
	{"b", 1},
}

func parseByteSize(input string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	for _, u := range byteSizeUnits {
		if strings.HasSuffix(trimmed, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix))
			if numPart == "" {
				continue
			}
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return 0, err
			}
			return n * u.multiplier, nil
		}
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func toByteSizeHookFunc() mapstructure.DecodeHookFunc {
	stringType := reflect.TypeOf("")
	int64Type := reflect.TypeOf(int64(0))
	int64PtrType := reflect.TypeOf(ptr.Of(int64(0)))

	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f == stringType && t == int64Type {
			return parseByteSize(data.(string))
		}
		if f == stringType && t == int64PtrType {
			n, err := parseByteSize(data.(string))
			if err != nil {
				return nil, err
			}
			return ptr.Of(n), nil
		}
		return data, nil
	}
}

func toTimeDurationArrayHookFunc() mapstructure.DecodeHookFunc {
	convert := func(input string) ([]time.Duration, error) {
		parts := strings.Split(input, ",")
		res := make([]time.Duration, 0, len(parts))
		for _, v := range parts {
			input := strings.TrimSpace(v)
			if input == "" {
				continue
			}
			val, err := time.ParseDuration(input)
			if err != nil {
				// If we can't parse the duration, try parsing it as int64 seconds
				seconds, errParse := strconv.ParseInt(input, 10, 0)
				if errParse != nil {
					return nil, errors.Join(err, errParse)
				}
				val = time.Duration(seconds * int64(time.Second))
			}
			res = append(res, val)
		}
		return res, nil
	}

	stringType := reflect.TypeOf("")
	durationSliceType := reflect.TypeOf([]time.Duration{})
	durationSlicePtrType := reflect.TypeOf(ptr.Of([]time.Duration{}))

	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f == stringType && t == durationSliceType {
			inputArrayString := data.(string)
			return convert(inputArrayString)
		}
		if f == stringType && t == durationSlicePtrType {
			inputArrayString := data.(string)
			res, err := convert(inputArrayString)
			if err != nil {
				return nil, err
			}
			return ptr.Of(res), nil
		}
		return data, nil
	}
}
