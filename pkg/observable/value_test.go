package observable

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesCurrentThenUpdates(t *testing.T) {
	v := New([]string{"a"})

	var got [][]string
	unsubscribe := v.Subscribe(func(val []string) { got = append(got, val) })

	v.Set([]string{"a", "b"})
	unsubscribe()
	v.Set([]string{"c"})

	require.Equal(t, [][]string{{"a"}, {"a", "b"}}, got)
	require.Equal(t, 0, v.Len())
}

func TestEmptyDeliversNothingUntilSet(t *testing.T) {
	v := Empty[int]()

	var got []int
	v.Subscribe(func(val int) { got = append(got, val) })
	require.Empty(t, got)

	_, ok := v.Get()
	require.False(t, ok)

	v.Set(0)
	require.Equal(t, []int{0}, got)
}

func TestNestedSetIsDeliveredInOrder(t *testing.T) {
	v := New(0)

	var first, second []int
	v.Subscribe(func(val int) {
		first = append(first, val)
		if val == 1 {
			v.Set(2)
		}
	})
	v.Subscribe(func(val int) { second = append(second, val) })

	v.Set(1)

	require.Equal(t, []int{0, 1, 2}, first)
	require.Equal(t, []int{0, 1, 2}, second)
	cur, _ := v.Get()
	require.Equal(t, 2, cur)
}

func TestSubscribeFromCallbackGetsOnlyCurrent(t *testing.T) {
	v := New("x")

	var late []string
	v.Subscribe(func(val string) {
		if val == "y" {
			v.Subscribe(func(val string) { late = append(late, val) })
		}
	})

	v.Set("y")
	v.Set("z")

	require.Equal(t, []string{"y", "z"}, late)
}

func TestUpdateFailureLeavesValueUntouched(t *testing.T) {
	v := New(1)

	calls := 0
	v.Subscribe(func(int) { calls++ })

	cur, err := v.Update(func(cur int) (int, error) { return cur + 1, errors.New("disk full") })
	require.Error(t, err)
	require.Equal(t, 1, cur)
	require.Equal(t, 1, calls)

	next, err := v.Update(func(cur int) (int, error) { return cur + 1, nil })
	require.NoError(t, err)
	require.Equal(t, 2, next)
	require.Equal(t, 2, calls)
}

func TestConcurrentSetKeepsLastValue(t *testing.T) {
	v := New(0)

	var mu sync.Mutex
	seen := 0
	v.Subscribe(func(int) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.Update(func(cur int) (int, error) { return cur + 1, nil })
		}()
	}
	wg.Wait()

	cur, _ := v.Get()
	require.Equal(t, 50, cur)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 51, seen)
}
