package agentcore_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-ai/keel/agentcore"
)

func TestMatchEventName(t *testing.T) {
	tests := []struct {
		pattern string
		name    agentcore.EventName
		want    bool
	}{
		{"agent:step:start", "agent:step:start", true},
		{"agent:step:start", "agent:step:complete", false},
		{"agent:*:start", "agent:step:start", true},
		{"agent:*:start", "agent:think:start", true},
		{"agent:*:start", "agent:tool:execute:start", false},
		{"agent:state:*", "agent:state:change", true},
		{"agent:state:*", "agent:state:stuck:detected", true},
		{"agent:*", "agent:lifecycle:start", true},
		{"*", "agent:step:start", true},
		{"agent:step", "agent:step:start", false},
		{"agent:step:start:extra", "agent:step:start", false},
		{"", "agent:step:start", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.pattern, tt.name), func(t *testing.T) {
			assert.Equal(t, tt.want, agentcore.MatchEventName(tt.pattern, tt.name))
		})
	}
}

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var seen []int
	bus.Subscribe("agent:*", func(evt agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Payload["n"].(int))
		return nil
	})

	bus.Start()
	for i := 0; i < 50; i++ {
		bus.Emit(agentcore.EventItem{Name: "agent:step:start", Payload: map[string]any{"n": i}})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, n := range seen {
		assert.Equal(t, i, n)
	}
}

func TestEventBusBuffersBeforeStart(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var count int
	bus.Subscribe("agent:*", func(agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	// No consumer yet: emissions accumulate.
	bus.Emit(agentcore.EventItem{Name: "agent:step:start"})
	bus.Emit(agentcore.EventItem{Name: "agent:step:complete"})

	bus.Start()
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestEventBusContainsHandlerErrors(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var delivered []string
	bus.Subscribe("agent:*", func(evt agentcore.EventItem) error {
		return errors.New("handler exploded")
	})
	bus.Subscribe("agent:*", func(evt agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, string(evt.Name))
		return nil
	})

	bus.Start()
	bus.Emit(agentcore.EventItem{Name: "agent:step:start"})
	bus.Emit(agentcore.EventItem{Name: "agent:step:complete"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"agent:step:start", "agent:step:complete"}, delivered)
}

func TestEventBusContainsHandlerPanics(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var delivered []string
	bus.Subscribe("agent:*", func(evt agentcore.EventItem) error {
		panic("handler exploded")
	})
	bus.Subscribe("agent:*", func(evt agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, string(evt.Name))
		return nil
	})

	bus.Start()
	bus.Emit(agentcore.EventItem{Name: "agent:step:start"})
	bus.Emit(agentcore.EventItem{Name: "agent:step:complete"})
	bus.Close()

	// The panicking subscriber is contained: the second handler still sees
	// both items and the consumption loop keeps draining.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"agent:step:start", "agent:step:complete"}, delivered)
}

func TestEventBusEmitAfterCloseIsDropped(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var count int
	bus.Subscribe("*", func(agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	bus.Start()
	bus.Emit(agentcore.EventItem{Name: "agent:step:start"})
	bus.Close()
	bus.Emit(agentcore.EventItem{Name: "agent:step:complete"})
	bus.Close() // double close is safe

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestEventBusSelectiveDelivery(t *testing.T) {
	bus := agentcore.NewEventBus(quietLogger())

	var mu sync.Mutex
	var toolEvents, stepEvents int
	bus.Subscribe("agent:tool:*", func(agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		toolEvents++
		return nil
	})
	bus.Subscribe("agent:step:start", func(agentcore.EventItem) error {
		mu.Lock()
		defer mu.Unlock()
		stepEvents++
		return nil
	})

	bus.Start()
	bus.Emit(agentcore.EventItem{Name: agentcore.EventToolStart})
	bus.Emit(agentcore.EventItem{Name: agentcore.EventToolExecuteStart})
	bus.Emit(agentcore.EventItem{Name: agentcore.EventStepStart})
	bus.Emit(agentcore.EventItem{Name: agentcore.EventStepComplete}) // matches nobody
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, toolEvents)
	assert.Equal(t, 1, stepEvents)
}
