/*
Copyright 2024 The Dapr Authors
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

package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapStoreLoadDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)

	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Load("a")
	assert.False(t, ok)
}

func TestMapLoadAndDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)

	v, ok := m.LoadAndDelete("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, m.Len())
}

func TestMapRangeEarlyExit(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	var seen int
	m.Range(func(_ string, _ int) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
}

func TestMapClear(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	m.Clear()
	assert.Equal(t, 0, m.Len())
}
