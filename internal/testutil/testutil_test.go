package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbwork/internal/session"
)

func TestRecordingSleeper_RecordsInOrder(t *testing.T) {
	s := NewRecordingSleeper()
	s.Sleep(time.Millisecond)
	s.Sleep(2 * time.Millisecond)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, s.Delays())

	s.Reset()
	assert.Empty(t, s.Delays())
}

func TestRecordingSleeper_Concurrent(t *testing.T) {
	s := NewRecordingSleeper()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sleep(time.Microsecond)
		}()
	}
	wg.Wait()
	assert.Len(t, s.Delays(), 100)
}

func TestFakeSession_Script(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSession()
	boom := errors.New("boom")
	f.OnBegin = func(n int, _ session.TxOptions) error {
		if n == 1 {
			return boom
		}
		return nil
	}

	assert.ErrorIs(t, f.Begin(ctx, session.TxOptions{}), boom)
	require.NoError(t, f.Begin(ctx, session.TxOptions{Isolation: session.Serializable}))
	assert.True(t, f.InTx())
	assert.Error(t, f.Begin(ctx, session.TxOptions{}))

	tag, err := f.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "COMMIT", tag)
	assert.False(t, f.InTx())

	vals, err := f.NextVals(ctx, "t.id", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, vals)

	require.NoError(t, f.Close(ctx))
	assert.True(t, f.Closed())
	assert.Equal(t, []string{"begin", "begin", "begin", "commit", "nextval", "close"}, f.Ops())
	assert.Equal(t, 3, f.Count("begin"))
	assert.Equal(t, session.Serializable, f.Calls()[1].Opts.Isolation)
}
