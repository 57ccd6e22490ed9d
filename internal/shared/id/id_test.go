package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{ConversationPrefix, SubscriberPrefix, CommandPrefix} {
		got := gen.GenerateWithPrefix(prefix)
		assert.True(t, strings.HasPrefix(got, prefix+"_"), got)
		_, err := Timestamp(got)
		assert.NoError(t, err, got)
	}
}

func TestTypedIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewConversationID().String(), "conv_"))
	assert.True(t, strings.HasPrefix(NewSubscriberID().String(), "sub_"))
	assert.True(t, strings.HasPrefix(NewCommandID().String(), "cmd_"))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	conv := NewConversationID()
	after := time.Now()

	ts, err := Timestamp(conv.String())
	require.NoError(t, err)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))

	for _, bad := range []string{"", "conv_nope", "1234567890", "zzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		_, err = Timestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = gen.GenerateString()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, goroutines*perGoroutine)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s := gen.GenerateString()
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
