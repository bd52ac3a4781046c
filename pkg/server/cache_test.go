package server

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/analysis"
)

func TestResultCacheEvictsOldest(t *testing.T) {
	c := newResultCache(2)
	a := &analysis.Result{ID: uuid.New()}
	b := &analysis.Result{ID: uuid.New()}
	d := &analysis.Result{ID: uuid.New()}

	c.put(a)
	c.put(b)
	_, ok := c.get(a.ID) // a becomes most recent
	require.True(t, ok)
	c.put(d)

	require.Equal(t, 2, c.len())
	_, ok = c.get(b.ID)
	require.False(t, ok)
	_, ok = c.get(a.ID)
	require.True(t, ok)
	_, ok = c.get(d.ID)
	require.True(t, ok)
}

func TestKeyLocksSerialise(t *testing.T) {
	var locks keyLocks
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lockAll([]string{"phy/baseline", "phy/wf_max", "phy/baseline"})
			counter++
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}
