/*
Copyright (c) The AWDL-Go Authors.

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

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	require.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = New(-1)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestEmptyAndFullNeverBothTrue(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)
	require.True(t, b.Empty())
	require.False(t, b.Full())

	require.True(t, b.PutStrict([]byte("a")))
	require.False(t, b.Empty())
	require.False(t, b.Full())

	require.True(t, b.PutStrict([]byte("b")))
	require.False(t, b.Empty())
	require.True(t, b.Full())

	require.False(t, b.PutStrict([]byte("c")))
}

func TestPutOverwriteEvictsOldest(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)
	b.PutOverwrite([]byte("a"))
	b.PutOverwrite([]byte("b"))
	b.PutOverwrite([]byte("c"))

	require.Equal(t, 2, b.Size())
	p, ok := b.Get(false)
	require.True(t, ok)
	require.Equal(t, []byte("b"), p)
	p, ok = b.Get(false)
	require.True(t, ok)
	require.Equal(t, []byte("c"), p)
}

func TestPeekLeavesBufferUnmodified(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)
	b.PutStrict([]byte("x"))
	p, ok := b.Get(true)
	require.True(t, ok)
	require.Equal(t, []byte("x"), p)
	require.Equal(t, 1, b.Size())
}

func TestSizePlusFreeEqualsCapacity(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		b.PutOverwrite([]byte{byte(i)})
		require.Equal(t, b.Capacity(), b.Size()+(b.Capacity()-b.Size()))
	}
	require.Equal(t, b.Capacity(), b.Size())
}

func TestGetOnEmptyReturnsFalse(t *testing.T) {
	b, err := New(1)
	require.NoError(t, err)
	_, ok := b.Get(false)
	require.False(t, ok)
}
