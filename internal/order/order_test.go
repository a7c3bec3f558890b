package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func item(dish, notes string, qty int32, price int64) Item {
	return Item{DishID: dish, Name: "dish " + dish, Notes: notes, Quantity: qty, Price: decimal.NewFromInt(price)}
}

func TestKeyEquality(t *testing.T) {
	assert.Equal(t, KeyOf(item("1", "", 1, 10)), KeyOf(item("1", "", 3, 12)))
	assert.Equal(t, KeyOf(item("1", "sin cebolla", 1, 10)), KeyOf(item("1", " sin cebolla ", 1, 10)))
	assert.NotEqual(t, KeyOf(item("1", "", 1, 10)), KeyOf(item("1", "sin cebolla", 1, 10)))
	assert.NotEqual(t, KeyOf(item("1", "", 1, 10)), KeyOf(item("2", "", 1, 10)))
	assert.Equal(t, "2 (sin cebolla)", NewKey("2", "sin cebolla").String())
	assert.Equal(t, "2", NewKey("2", "").String())
}

func TestTotal(t *testing.T) {
	o := &Order{Items: []Item{item("1", "", 2, 10), item("2", "sin cebolla", 1, 8)}}
	assert.True(t, o.Total().Equal(decimal.NewFromInt(28)))
	assert.True(t, Total(nil).IsZero())
}

func TestNextNumber(t *testing.T) {
	assert.Equal(t, int32(1), NextNumber(nil))
	assert.Equal(t, int32(4), NextNumber([]Order{{Number: 1}, {Number: 3}, {Number: 2}}))
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]Item{
		item("1", "", 2, 10),
		item("2", "x", 1, 8),
		item("1", "", 1, 10),
		item("2", "", 1, 8),
		item("2", " x", 4, 8),
	})
	assert.Equal(t, []Item{
		item("1", "", 3, 10),
		item("2", "x", 5, 8),
		item("2", "", 1, 8),
	}, got)
}

func TestItemSetRemove(t *testing.T) {
	s := NewItemSet([]Item{item("1", "", 1, 10), item("2", "", 1, 8), item("3", "", 1, 5)})
	assert.True(t, s.Remove(NewKey("2", "")))
	assert.False(t, s.Remove(NewKey("2", "")))
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Contains(NewKey("2", "")))
	assert.Equal(t, []Item{item("1", "", 1, 10), item("3", "", 1, 5)}, s.Items())
}

func TestCloneIsIndependent(t *testing.T) {
	o := &Order{Items: []Item{item("1", "", 1, 10)}}
	c := o.Clone()
	c.Items[0].Quantity = 9
	c.Items = append(c.Items, item("2", "", 1, 1))
	assert.Equal(t, int32(1), o.Items[0].Quantity)
	assert.Len(t, o.Items, 1)
	assert.True(t, o.Has(NewKey("1", "")))
	assert.False(t, o.Has(NewKey("2", "")))
}
