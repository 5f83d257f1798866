package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the OpenScout system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DiscoveryID is the associated discovery ID, if applicable.
	DiscoveryID string `json:"discovery_id,omitempty"`

	// LayerID is the associated layer ID, if applicable.
	LayerID string `json:"layer_id,omitempty"`

	// ToolID is the associated tool ID, if applicable.
	ToolID string `json:"tool_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeDiscoveryStarted   = "discovery.started"
	EventTypeDiscoveryCompleted = "discovery.completed"
	EventTypeDiscoveryFailed    = "discovery.failed"
	EventTypeLayerStarted       = "layer.started"
	EventTypeLayerCompleted     = "layer.completed"
	EventTypeLayerFailed        = "layer.failed"
	EventTypeLayerSkipped       = "layer.skipped"
	EventTypeToolInvoked        = "tool.invoked"
	EventTypeToolFailed         = "tool.failed"
	EventTypePolicyDenial       = "policy.denial"
	EventTypeThrottlePause      = "throttle.pause"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishDiscoveryStarted publishes a discovery started event.
func (ep *EventPublisher) PublishDiscoveryStarted(discoveryID, connectionID string, layers []string) error {
	return ep.Publish(Event{
		Type:        EventTypeDiscoveryStarted,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		Message:     fmt.Sprintf("Discovery %s started on connection %s", discoveryID, connectionID),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"connection_id": connectionID,
			"layers":        layers,
		},
	})
}

// PublishDiscoveryCompleted publishes a discovery completed event.
func (ep *EventPublisher) PublishDiscoveryCompleted(discoveryID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeDiscoveryCompleted,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		Message:     fmt.Sprintf("Discovery %s completed with status: %s", discoveryID, status),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishDiscoveryFailed publishes a discovery failed event.
func (ep *EventPublisher) PublishDiscoveryFailed(discoveryID, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeDiscoveryFailed,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		Message:     fmt.Sprintf("Discovery %s failed: %s", discoveryID, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishLayerStarted publishes a layer started event.
func (ep *EventPublisher) PublishLayerStarted(discoveryID, layerID string) error {
	return ep.Publish(Event{
		Type:        EventTypeLayerStarted,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		LayerID:     layerID,
		Message:     fmt.Sprintf("Layer %s started", layerID),
		Level:       EventLevelInfo,
	})
}

// PublishLayerCompleted publishes a layer completed event.
func (ep *EventPublisher) PublishLayerCompleted(discoveryID, layerID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeLayerCompleted,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		LayerID:     layerID,
		Message:     fmt.Sprintf("Layer %s completed with status: %s", layerID, status),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishLayerFailed publishes a layer failed event.
func (ep *EventPublisher) PublishLayerFailed(discoveryID, layerID, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeLayerFailed,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		LayerID:     layerID,
		Message:     fmt.Sprintf("Layer %s failed: %s", layerID, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishLayerSkipped publishes a layer skipped event.
func (ep *EventPublisher) PublishLayerSkipped(discoveryID, layerID, failedDependency string) error {
	return ep.Publish(Event{
		Type:        EventTypeLayerSkipped,
		Source:      "orchestrator",
		DiscoveryID: discoveryID,
		LayerID:     layerID,
		Message:     fmt.Sprintf("Layer %s skipped: dependency %s failed", layerID, failedDependency),
		Level:       EventLevelWarning,
		Data: map[string]interface{}{
			"failed_dependency": failedDependency,
		},
	})
}

// PublishToolInvoked publishes a tool invocation event.
func (ep *EventPublisher) PublishToolInvoked(discoveryID, layerID, toolID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeToolInvoked,
		Source:      "router",
		DiscoveryID: discoveryID,
		LayerID:     layerID,
		ToolID:      toolID,
		Message:     fmt.Sprintf("Tool %s invoked with status: %s", toolID, status),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPolicyDenial publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenial(toolID, rule, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenial,
		Source:  "policy_engine",
		ToolID:  toolID,
		Message: fmt.Sprintf("Tool %s denied by rule %s: %s", toolID, rule, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"rule":   rule,
			"reason": reason,
		},
	})
}

// PublishThrottlePause publishes a proactive throttle pause event.
func (ep *EventPublisher) PublishThrottlePause(toolID string, pause time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeThrottlePause,
		Source:  "router",
		ToolID:  toolID,
		Message: fmt.Sprintf("Pausing %s before next page of %s: quota nearly exhausted", pause, toolID),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"pause": pause.Seconds(),
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDiscoveryID creates a filter that only allows events for a specific discovery.
func FilterByDiscoveryID(discoveryID string) EventFilter {
	return func(event Event) bool {
		return event.DiscoveryID == discoveryID
	}
}
