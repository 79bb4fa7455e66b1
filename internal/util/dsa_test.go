package util_test

import (
	"blkio/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Queue(t *testing.T) {
	q := util.CreateQueue[int](8)
	assert.Equal(t, q.Cnt(), 0)

	for range 3 {
		for i := range 5 {
			q.Push(i)
		}
		assert.Equal(t, q.Cnt(), 5)
		for i := range 5 {
			res := q.Pop()
			assert.Equal(t, res, i)
		}
		assert.Equal(t, q.Cnt(), 0)
	}

	for range 8 {
		q.Push(0)
	}
	assert.Panics(t, func() { q.Push(0) })
	for range 8 {
		q.Pop()
	}
	assert.Panics(t, func() { q.Pop() })
}

func Test_Queue_Grow(t *testing.T) {
	q := util.CreateGrowQueue[int](2)

	// wrap the head first so resize has to unwrap
	q.Push(-1)
	q.Pop()

	for i := range 100 {
		q.Push(i)
	}
	assert.Equal(t, 100, q.Cnt())

	for i := range 100 {
		assert.Equal(t, i, q.Pop())
	}
	assert.True(t, q.Empty())
}

func Test_TicketQueue(t *testing.T) {
	tq := util.CreateTicketQueue[string](4)
	assert.Equal(t, 4, tq.Free())

	tickets := make([]int, 0, 4)
	for _, v := range []string{"a", "b", "c", "d"} {
		tickets = append(tickets, tq.Acq(v))
	}
	assert.Equal(t, 0, tq.Free())
	assert.Panics(t, func() { tq.Acq("e") })

	assert.ElementsMatch(t, []int{0, 1, 2, 3}, tickets)
	assert.Equal(t, "b", tq.Rel(tickets[1]))
	assert.Equal(t, 1, tq.Free())

	// the freed slot is handed out again
	again := tq.Acq("f")
	assert.Equal(t, tickets[1], again)
	assert.Equal(t, "f", tq.Rel(again))
	assert.Equal(t, 1, tq.Free())
}
