package streams

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceStream(t *testing.T) {
	items, err := All(SliceStream([]int{1, 2, 3}))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, items)
}

func TestErrorStream(t *testing.T) {
	testErr := errors.New("test error")

	items, err := All(ErrorStream([]string{"a"}, testErr))
	require.Equal(t, []string{"a"}, items)
	require.ErrorIs(t, err, testErr)
}

func TestFold(t *testing.T) {
	sum, err := Fold(SliceStream([]int{1, 2, 3}), 0, func(acc, v int) (int, error) {
		return acc + v, nil
	})
	require.NoError(t, err)
	require.Equal(t, 6, sum)
}

func TestFold_StopsOnVisitError(t *testing.T) {
	stop := errors.New("stop")
	seen := 0

	_, err := Fold(SliceStream([]int{1, 2, 3}), 0, func(acc, v int) (int, error) {
		seen++
		if v == 2 {
			return acc, stop
		}

		return acc + v, nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, seen)
}

func TestOnClose(t *testing.T) {
	calls := 0
	stream := OnClose(SliceStream([]int{1}), func() { calls++ })

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.Equal(t, 1, calls)
}

func TestFilterMap(t *testing.T) {
	stream := FilterMap(SliceStream([]int{1, 2, 3, 4}), func(v int) (string, bool, error) {
		if v%2 == 1 {
			return "", false, nil
		}

		return strconv.Itoa(v * 10), true, nil
	})

	items, err := All(stream)
	require.NoError(t, err)
	require.Equal(t, []string{"20", "40"}, items)

	failing := FilterMap(SliceStream([]int{1, 2}), func(v int) (int, bool, error) {
		return 0, false, errors.New("bad chunk")
	})

	items2, err := All(failing)
	require.Empty(t, items2)
	require.EqualError(t, err, "bad chunk")
}
