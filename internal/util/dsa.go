package util

func mod(a int, b int) int {
	return ((a % b) + b) % b
}

// ring-buffer queue. Fixed size unless created with CreateGrowQueue, in which case a full
// queue doubles its backing array instead of panicking.
type Queue[T any] struct {
	data	[]T
	head	int // next slot to write to
	cnt 	int
	grow	bool
}

func CreateQueue[T any](size int) Queue[T] {
	return Queue[T] {
		head: 	0,
		cnt: 	0,
		data: 	make([]T, size),
	}
}

func CreateGrowQueue[T any](size int) Queue[T] {
	q := CreateQueue[T](max(size, 1))
	q.grow = true
	return q
}

func (q *Queue[T]) Cnt() int {
	return q.cnt
}

func (q *Queue[T]) Empty() bool {
	return q.cnt == 0
}

// will panic if out of space (fixed size queues only).
func (q *Queue[T]) Push(val T) {
	if q.cnt == len(q.data) {
		if !q.grow { panic("queue overflow") }
		q.resize(len(q.data) * 2)
	}
	q.data[q.head] = val
	q.head = mod((q.head + 1), len(q.data))
	q.cnt++
}

func (q *Queue[T]) Pop() T {
	if q.cnt == 0 { panic("queue underflow") }
	i := mod((q.head - q.cnt), len(q.data))
	val := q.data[i]
	var zero T
	q.data[i] = zero // dont keep popped pointers alive
	q.cnt--
	return val
}

// unwraps into a fresh array, oldest element first
func (q *Queue[T]) resize(size int) {
	data := make([]T, size)
	for i := range q.cnt {
		data[i] = q.data[mod(q.head - q.cnt + i, len(q.data))]
	}
	q.data = data
	q.head = q.cnt
}


// TicketQueue combines a fixed contiguous array and a queue of numbered "tickets" which
// correspond to slots in the contiguous array. In other words, a shared pool of items
// addressed by small integers - handy when only an integer can travel (io_uring user_data).
// Not safe for concurrent use.
type TicketQueue[T any] struct {
	queue		Queue[int]
	data		[]T
}

func CreateTicketQueue[T any](size int) TicketQueue[T] {
	queue := CreateQueue[int](size)
	for i := range size {
		queue.Push(i)
	}
	data := make([]T, size)

	return TicketQueue[T]{
		queue: queue,
		data: data,
	}
}

// tickets still available
func (tq *TicketQueue[T]) Free() int {
	return tq.queue.Cnt()
}

// This acquires a ticket and sets the slot to the passed value. Panics if none are free.
func (tq *TicketQueue[T]) Acq(val T) int {
	ticket := tq.queue.Pop()
	tq.data[ticket] = val
	return ticket
}

// Releases the ticket and returns what was stored in its slot
func (tq *TicketQueue[T]) Rel(ticket int) T {
	val := tq.data[ticket]
	var zero T
	tq.data[ticket] = zero
	tq.queue.Push(ticket)
	return val
}

