package events

import "testing"

func TestBusEmitOrder(t *testing.T) {
	b := New()
	var order []int
	b.On(FetchStart, func(args ...interface{}) { order = append(order, 1) })
	b.On(FetchStart, func(args ...interface{}) { order = append(order, 2) })
	b.Emit(FetchStart)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Bus#Emit failed: expected [1 2] got %v", order)
	}
}

func TestBusEmitNoSubscribers(t *testing.T) {
	b := New()
	b.Emit(Complete)
}

func TestBusEmitArgs(t *testing.T) {
	b := New()
	var got string
	b.On(InvalidDomain, func(args ...interface{}) {
		got = args[0].(string)
	})
	b.Emit(InvalidDomain, "example.com")
	if got != "example.com" {
		t.Errorf("Bus#Emit failed: expected example.com got %s", got)
	}
}

func TestBusLen(t *testing.T) {
	b := New()
	b.On(Complete, func(args ...interface{}) {})
	b.On(Complete, func(args ...interface{}) {})
	if b.Len(Complete) != 2 {
		t.Errorf("Bus#Len failed: expected 2 got %d", b.Len(Complete))
	}
}
