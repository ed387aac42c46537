package domain

import (
	"sort"
	"strconv"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderCompleted OrderStatus = "completed"
)

// Order is the slice of an order-store record the engine needs. The store
// owns everything else.
type Order struct {
	ID           string      `json:"id"`
	Status       OrderStatus `json:"status"`
	CustomerName string      `json:"customerName,omitempty"`
}

// OrderNumberMap is a bijection between opaque order IDs and the small
// sequential numbers staff say out loud.
type OrderNumberMap struct {
	byNumber map[int]string
	byID     map[string]int
}

// BuildOrderNumberMap numbers preparing orders first, then pending orders,
// keeping input order within each group. Other statuses are not numbered.
func BuildOrderNumberMap(orders []Order) OrderNumberMap {
	var active []Order
	for _, o := range orders {
		if o.Status == OrderPreparing || o.Status == OrderPending {
			active = append(active, o)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return rank(active[i].Status) < rank(active[j].Status)
	})

	m := OrderNumberMap{
		byNumber: make(map[int]string, len(active)),
		byID:     make(map[string]int, len(active)),
	}
	n := 0
	for _, o := range active {
		if _, dup := m.byID[o.ID]; dup {
			continue
		}
		n++
		m.byNumber[n] = o.ID
		m.byID[o.ID] = n
	}
	return m
}

func rank(s OrderStatus) int {
	if s == OrderPreparing {
		return 0
	}
	return 1
}

func (m OrderNumberMap) OrderID(number int) (string, bool) {
	id, ok := m.byNumber[number]
	return id, ok
}

func (m OrderNumberMap) Number(orderID string) (int, bool) {
	n, ok := m.byID[orderID]
	return n, ok
}

func (m OrderNumberMap) Len() int {
	return len(m.byNumber)
}

// Numbers returns the map keyed by spoken number as strings, the shape sent
// to cloud NLP providers.
func (m OrderNumberMap) Numbers() map[string]string {
	out := make(map[string]string, len(m.byNumber))
	for n, id := range m.byNumber {
		out[strconv.Itoa(n)] = id
	}
	return out
}
