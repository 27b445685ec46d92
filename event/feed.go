// Package event implements a Feed/Subscription pattern: a single-type,
// one-to-many pub-sub primitive with no buffering beyond the
// subscriber's own channel. It backs the outbound DecodedTransaction
// stream fanned out to application consumers; shutdown is broadcast
// separately, through the lifecycle package's context.
package event

import (
	"errors"
	"reflect"
	"sync"
)

var errBadChannel = errors.New("event: Subscribe argument does not have sendable channel type")

// Feed implements one-to-many subscriptions where the carried value
// must be of a consistent concrete type. The zero value is ready to use.
type Feed struct {
	once      sync.Once
	sendLock  chan struct{}
	removeSub chan any
	sendCases caseList

	mu     sync.Mutex
	etype  reflect.Type
	closed bool
}

func (f *Feed) init() {
	f.removeSub = make(chan any)
	f.sendLock = make(chan struct{}, 1)
	f.sendLock <- struct{}{}
	f.sendCases = caseList{{Chan: reflect.ValueOf(f.removeSub), Dir: reflect.SelectRecv}}
}

// Subscribe adds a channel to the feed. Future sends on the feed will be
// delivered on the channel until the subscription is unsubscribed.
func (f *Feed) Subscribe(channel any) *Subscription {
	f.once.Do(f.init)

	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic(errBadChannel)
	}
	sub := &Subscription{feed: f, channel: chanval, err: make(chan error, 1)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.typecheck(chantyp.Elem()) {
		panic(feedTypeError{op: "Subscribe", got: chantyp, want: reflect.ChanOf(reflect.SendDir, f.etype)})
	}
	<-f.sendLock
	cas := reflect.SelectCase{Dir: reflect.SelectSend, Chan: chanval}
	f.sendCases = append(f.sendCases, cas)
	f.sendLock <- struct{}{}
	return sub
}

func (f *Feed) typecheck(typ reflect.Type) bool {
	if f.etype == nil {
		f.etype = typ
		return true
	}
	return f.etype == typ
}

func (f *Feed) remove(sub *Subscription) {
	ch := sub.channel.Interface()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.removeSub <- ch:
		return
	default:
	}

	<-f.sendLock
	f.sendCases = f.sendCases.delete(f.sendCases.find(ch))
	f.sendLock <- struct{}{}
}

// Send delivers to all subscribed channels simultaneously, blocking
// until every subscriber has taken the value, and returns the number of
// subscribers that the value was sent to. Feed has no non-blocking
// variant: a subscriber that stops reading stalls the sender.
func (f *Feed) Send(value any) (nsent int) {
	rvalue := reflect.ValueOf(value)

	f.once.Do(f.init)
	<-f.sendLock

	f.mu.Lock()
	if !f.typecheck(rvalue.Type()) {
		f.mu.Unlock()
		f.sendLock <- struct{}{}
		panic(feedTypeError{op: "Send", got: rvalue.Type(), want: f.etype})
	}
	f.mu.Unlock()

	cases := f.sendCases
	for i := 1; i < len(cases); i++ {
		cases[i].Send = rvalue
	}

	for {
		for i := 1; i < len(cases); i++ {
			if cases[i].Chan.TrySend(rvalue) {
				nsent++
				cases = cases.deactivate(i)
				i--
			}
		}
		if len(cases) == 1 {
			break
		}
		chosen, recv, _ := reflect.Select(cases)
		if chosen == 0 {
			index := f.sendCases.find(recv.Interface())
			f.sendCases = f.sendCases.delete(index)
			if index >= 0 && index < len(cases) {
				// the removed subscriber was still pending; shrink cases too
				cases = f.sendCases[:len(cases)-1]
			}
			continue
		}
		cases = cases.deactivate(chosen)
		nsent++
	}

	for i := 1; i < len(f.sendCases); i++ {
		f.sendCases[i].Send = reflect.Value{}
	}
	f.sendLock <- struct{}{}
	return nsent
}

// Subscription represents a stream of events; the carrier for the
// subscribed channel's lifecycle.
type Subscription struct {
	feed    *Feed
	channel reflect.Value
	err     chan error
	once    sync.Once
}

func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *Subscription) Err() <-chan error { return sub.err }

type feedTypeError struct {
	got, want reflect.Type
	op        string
}

func (e feedTypeError) Error() string {
	return "event: wrong type in " + e.op + " got " + e.got.String() + ", want " + e.want.String()
}

type caseList []reflect.SelectCase

func (cs caseList) find(channel any) int {
	for i, cas := range cs {
		if cas.Chan.Interface() == channel {
			return i
		}
	}
	return -1
}

func (cs caseList) delete(index int) caseList {
	return append(cs[:index], cs[index+1:]...)
}

func (cs caseList) deactivate(index int) caseList {
	last := len(cs) - 1
	cs[index], cs[last] = cs[last], cs[index]
	return cs[:last]
}
