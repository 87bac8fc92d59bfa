package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertPrices(t *RBTree, prices ...string) {
	for _, p := range prices {
		t.Insert(NewPriceLevel(d(p)))
	}
}

func TestRBTree_AscendingMinIsLowest(t *testing.T) {
	tree := NewRBTree(false)
	insertPrices(tree, "30", "10", "20", "5", "25")

	min := tree.Min()
	require.NotNil(t, min)
	assert.True(t, min.Price.Equal(d("5")))
}

func TestRBTree_DescendingMinIsHighest(t *testing.T) {
	tree := NewRBTree(true)
	insertPrices(tree, "30", "10", "20", "5", "25")

	best := tree.Min()
	require.NotNil(t, best)
	assert.True(t, best.Price.Equal(d("30")))
}

func TestRBTree_GetAndDelete(t *testing.T) {
	tree := NewRBTree(false)
	insertPrices(tree, "10", "20", "30")

	assert.NotNil(t, tree.Get(d("20")))
	tree.Delete(d("20"))
	assert.Nil(t, tree.Get(d("20")))
	assert.Equal(t, 2, tree.Size())
}

func TestRBTree_ForEachOrder(t *testing.T) {
	tree := NewRBTree(false)
	insertPrices(tree, "30", "10", "20")

	var seen []string
	tree.ForEach(func(level *PriceLevel) bool {
		seen = append(seen, level.Price.String())
		return true
	})
	assert.Equal(t, []string{"10", "20", "30"}, seen)
}

func TestRBTree_ForEachStopsEarly(t *testing.T) {
	tree := NewRBTree(false)
	insertPrices(tree, "30", "10", "20", "40")

	count := 0
	tree.ForEach(func(level *PriceLevel) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)
}

func TestRBTree_InsertManyStaysBalancedAndOrdered(t *testing.T) {
	tree := NewRBTree(false)
	prices := []string{"50", "30", "70", "20", "40", "60", "80", "10", "90", "5", "15"}
	insertPrices(tree, prices...)
	assert.Equal(t, len(prices), tree.Size())

	var prev *string
	tree.ForEach(func(level *PriceLevel) bool {
		cur := level.Price.String()
		if prev != nil {
			assert.True(t, level.Price.GreaterThanOrEqual(d(*prev)))
		}
		prev = &cur
		return true
	})
}
