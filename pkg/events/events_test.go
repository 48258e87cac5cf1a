package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitOrderAndPanicIsolation(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Connect(SOSCreated, func(sender any, payload any) { got = append(got, "a:"+payload.(string)) })
	bus.Connect(SOSCreated, func(sender any, payload any) { panic("boom") })
	bus.Connect(SOSCreated, func(sender any, payload any) { got = append(got, "c:"+payload.(string)) })

	bus.Emit(SOSCreated, nil, "x")
	bus.Emit(MissingCritical, nil, "ignored")

	assert.Equal(t, []string{"a:x", "c:x"}, got)
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Emit(SOSCreated, nil, nil) })
}
