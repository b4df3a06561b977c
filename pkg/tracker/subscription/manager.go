// Package subscription owns the transport connection and the active topic
// filter set. Consumer intent (routes, nearby area, pause), transport events
// and the batch flush timer all enter one owner loop, which is the only place
// the subscription state mutates.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/tracklive/tracklive/pkg/tracker/config"
	"github.com/tracklive/tracklive/pkg/tracker/feed"
	"github.com/tracklive/tracklive/pkg/tracker/ingest"
	"github.com/tracklive/tracklive/pkg/tracker/vehiclestore"
	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

var ErrInvalidRadius = errors.New("nearby radius must be positive and at most 50km")

const maxNearbyRadiusMeters = 50000

// A disconnect notification this soon after a successful connect is a stale
// teardown event from the previous connection attempt and is ignored.
const disconnectGraceWindow = 2 * time.Second

const messageBuffer = 1024

type filterOrigin int

const (
	originPerRoute filterOrigin = iota
	originAreaCell
)

type areaConfig struct {
	CenterLatitude  float64
	CenterLongitude float64
	RadiusMeters    float64

	Cells []geo.Cell
}

type message struct {
	topic   string
	payload []byte
}

// wireOp is one batch of transport calls executed by the wire worker, off the
// owner loop - token acknowledgment waits must never stall command handling.
// done, when set, is posted back into the owner loop after the calls finish.
type wireOp struct {
	unsubscribe []string
	subscribe   []string

	done func()
}

const wireBuffer = 256

// Manager drives the subscription life cycle. Construct with NewManager, set
// RouteModeResolver if route modes are known, then Run it before calling
// anything else.
type Manager struct {
	cfg   *config.TrackerConfig
	store *vehiclestore.Store

	transport Transport

	// RouteModeResolver narrows per-route topic filters to a transport mode
	// when static metadata is available. Nil means wildcard mode filters. It
	// runs on the subscriber's goroutine, never on the owner loop, so a slow
	// metadata fetch cannot stall message handling. Set before Run.
	RouteModeResolver func(routeID string) transit.TransportType

	commands chan func()
	messages chan message
	connLost chan error
	wire     chan wireOp

	// everything below is owned by the Run loop
	status      Status
	connectedAt time.Time
	connecting  bool
	waiters     []chan error

	filters map[string]filterOrigin
	// routes records the exact filter string opened per route, so a later
	// unsubscribe removes what was actually subscribed even if the mode
	// resolver's answer has changed since
	routes map[string]string

	area        *areaConfig
	pendingArea *areaConfig

	paused  bool
	batcher ingest.Batcher

	statusC chan Status
}

// NewManager wires a manager around a transport factory so the transport's
// callbacks can feed the manager's channels.
func NewManager(cfg *config.TrackerConfig, store *vehiclestore.Store, newTransport func(onMessage func(string, []byte), onConnectionLost func(error)) Transport) *Manager {
	manager := &Manager{
		cfg:   cfg,
		store: store,

		commands: make(chan func(), 64),
		messages: make(chan message, messageBuffer),
		connLost: make(chan error, 4),
		wire:     make(chan wireOp, wireBuffer),

		status:  StatusDisconnected,
		filters: map[string]filterOrigin{},
		routes:  map[string]string{},

		statusC: make(chan Status, 16),
	}

	manager.transport = newTransport(manager.onMessage, manager.onConnectionLost)

	return manager
}

func (manager *Manager) onMessage(topic string, payload []byte) {
	select {
	case manager.messages <- message{topic: topic, payload: payload}:
	default:
		// at-most-once transport; shedding under burst is fine
	}
}

func (manager *Manager) onConnectionLost(err error) {
	select {
	case manager.connLost <- err:
	default:
	}
}

// Run is the owner loop. Timers check the context on every tick so
// Disconnect/Pause semantics hold: nothing fires after cancellation.
func (manager *Manager) Run(ctx context.Context) {
	flush := time.NewTicker(manager.cfg.BatchFlushInterval())
	defer flush.Stop()

	go manager.runWire(ctx)

	log.Info().Str("flush", manager.cfg.BatchFlushInterval().String()).Msg("Starting subscription manager")

	for {
		select {
		case <-ctx.Done():
			return
		case command := <-manager.commands:
			command()
		case incoming := <-manager.messages:
			manager.handleMessage(incoming)
		case err := <-manager.connLost:
			manager.handleConnectionLost(err)
		case <-flush.C:
			if ctx.Err() != nil {
				return
			}
			manager.flush()
		}
	}
}

// runWire executes queued transport calls in order. It is the only place
// subscribe/unsubscribe tokens are waited on while the engine runs.
func (manager *Manager) runWire(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-manager.wire:
			manager.runWireOp(op)
		}
	}
}

func (manager *Manager) runWireOp(op wireOp) {
	if len(op.unsubscribe) > 0 {
		if err := manager.transport.Unsubscribe(op.unsubscribe...); err != nil {
			log.Error().Err(err).Strs("filters", op.unsubscribe).Msg("Failed to unsubscribe")
		}
	}

	for _, filter := range op.subscribe {
		if err := manager.transport.Subscribe(filter); err != nil {
			log.Error().Err(err).Str("filter", filter).Msg("Failed to subscribe")
		}
	}

	if op.done != nil {
		manager.commands <- op.done
	}
}

func (manager *Manager) enqueueWire(op wireOp) {
	select {
	case manager.wire <- op:
	default:
		// the worker is severely backed up; run the op on its own rather
		// than stall the owner loop
		go manager.runWireOp(op)
	}
}

func (manager *Manager) call(command func()) {
	done := make(chan struct{})
	manager.commands <- func() {
		command()
		close(done)
	}
	<-done
}

// Connect opens the transport and resolves once it is connected and
// resubscribed, or once the retry cap is exhausted. Idempotent - connecting
// again while connected returns immediately.
func (manager *Manager) Connect() error {
	result := make(chan error, 1)
	manager.commands <- func() {
		manager.startConnect(result)
	}
	return <-result
}

func (manager *Manager) startConnect(result chan error) {
	if manager.status == StatusConnected {
		result <- nil
		return
	}

	manager.waiters = append(manager.waiters, result)

	if manager.connecting {
		return
	}

	manager.connecting = true
	manager.setStatus(StatusConnecting)

	go manager.attemptConnection()
}

// attemptConnection runs off the owner loop; each attempt carries its own
// acknowledgment deadline and the fixed-interval policy caps the attempts.
func (manager *Manager) attemptConnection() {
	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(manager.cfg.ReconnectInterval()),
		uint64(manager.cfg.Broker.MaxReconnectAttempts),
	)

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), manager.cfg.ConnectTimeout())
		defer cancel()

		if connectErr := manager.transport.Connect(ctx); connectErr != nil {
			log.Warn().Err(connectErr).Msg("Broker connect attempt failed")
			return connectErr
		}
		return nil
	}, policy)

	manager.commands <- func() {
		manager.finishConnect(err)
	}
}

func (manager *Manager) finishConnect(err error) {
	if err != nil {
		manager.connecting = false
		manager.setStatus(StatusError)
		manager.notifyWaiters(err)
		log.Error().Err(err).Msg("Gave up connecting to broker")
		return
	}

	// The deferred nearby configuration is consumed exactly once, here. On a
	// fresh connection nothing is subscribed yet, so its cells join the
	// resubscribe batch directly instead of going through the diff.
	if manager.pendingArea != nil {
		pending := manager.pendingArea
		manager.pendingArea = nil
		manager.area = pending

		for _, cell := range pending.Cells {
			manager.filters[feed.CellFilter(cell)] = originAreaCell
		}

		manager.store.MarkForExit(func(vehicle transit.TrackedVehicle) bool {
			return geo.Distance(pending.CenterLatitude, pending.CenterLongitude, vehicle.Latitude, vehicle.Longitude) <= pending.RadiusMeters
		})
	}

	filters := maps.Keys(manager.filters)
	slices.Sort(filters)

	// Connect resolves only after the full filter set is back on the wire
	manager.enqueueWire(wireOp{
		subscribe: filters,
		done:      manager.completeConnect,
	})
}

func (manager *Manager) completeConnect() {
	manager.connecting = false
	manager.connectedAt = time.Now()
	manager.setStatus(StatusConnected)
	manager.notifyWaiters(nil)

	log.Info().Int("filters", len(manager.filters)).Msg("Connected to broker")
}

func (manager *Manager) notifyWaiters(err error) {
	for _, waiter := range manager.waiters {
		waiter <- err
	}
	manager.waiters = nil
}

// Disconnect closes the transport and clears the subscription set. Safe to
// call when already disconnected. A deferred nearby configuration survives so
// a later Connect still applies it.
func (manager *Manager) Disconnect() {
	manager.call(func() {
		manager.transport.Disconnect()

		maps.Clear(manager.filters)
		maps.Clear(manager.routes)
		manager.area = nil

		manager.setStatus(StatusDisconnected)
	})
}

func (manager *Manager) handleConnectionLost(err error) {
	if manager.status != StatusConnected {
		return
	}

	if time.Since(manager.connectedAt) < disconnectGraceWindow {
		log.Debug().Err(err).Msg("Ignoring stale disconnect event inside grace window")
		return
	}

	log.Warn().Err(err).Msg("Broker connection lost, reconnecting")

	manager.connecting = true
	manager.setStatus(StatusConnecting)
	go manager.attemptConnection()
}

// Pause drops incoming messages without touching the connection.
func (manager *Manager) Pause() {
	manager.call(func() {
		manager.paused = true
	})
}

// Resume recomputes the status from the live transport and reconnects if the
// transport silently died while paused.
func (manager *Manager) Resume() {
	manager.call(func() {
		manager.paused = false

		if manager.status == StatusConnected && !manager.transport.IsConnected() {
			log.Warn().Msg("Transport died while paused, reconnecting")
			manager.connecting = true
			manager.setStatus(StatusConnecting)
			go manager.attemptConnection()
		}
	})
}

// SubscribeToRoute adds a per-route filter. Idempotent. The mode resolver
// runs here, on the caller's goroutine - a metadata fetch must never hold up
// the owner loop.
func (manager *Manager) SubscribeToRoute(routeID string) {
	filter := feed.RouteFilter(manager.routeMode(routeID), routeID)

	manager.call(func() {
		if _, subscribed := manager.routes[routeID]; subscribed {
			return
		}

		manager.routes[routeID] = filter
		manager.filters[filter] = originPerRoute

		if manager.status == StatusConnected {
			manager.enqueueWire(wireOp{subscribe: []string{filter}})
		}
	})
}

// UnsubscribeFromRoute removes the filter recorded at subscribe time and
// evicts every vehicle whose presence was driven solely by this route -
// vehicles the active area also covers survive as area discoveries.
func (manager *Manager) UnsubscribeFromRoute(routeID string) {
	var subscribed bool
	var area *areaConfig

	manager.call(func() {
		var filter string
		filter, subscribed = manager.routes[routeID]
		if !subscribed {
			return
		}

		delete(manager.routes, routeID)
		delete(manager.filters, filter)

		if manager.status == StatusConnected {
			manager.enqueueWire(wireOp{unsubscribe: []string{filter}})
		}

		area = manager.area
	})

	if !subscribed {
		return
	}

	manager.store.RemoveWhere(func(vehicle transit.TrackedVehicle) bool {
		if vehicle.RouteID != routeID {
			return false
		}
		if area != nil && geo.Distance(area.CenterLatitude, area.CenterLongitude, vehicle.Latitude, vehicle.Longitude) <= area.RadiusMeters {
			return false
		}
		return true
	})
}

// ConfigureNearbyArea computes the covering cell set for a radius around a
// centre and subscribes to exactly the delta against the current cells. Not
// connected yet: stored as the single pending configuration, overwriting any
// earlier one, applied once on connect success.
func (manager *Manager) ConfigureNearbyArea(centerLatitude, centerLongitude, radiusMeters float64) error {
	if radiusMeters <= 0 || radiusMeters > maxNearbyRadiusMeters {
		return ErrInvalidRadius
	}

	bounds := geo.CircleBounds(centerLatitude, centerLongitude, radiusMeters)

	area := &areaConfig{
		CenterLatitude:  centerLatitude,
		CenterLongitude: centerLongitude,
		RadiusMeters:    radiusMeters,

		Cells: geo.CoveringCells(bounds, geo.CellPrecision),
	}

	manager.call(func() {
		if manager.status != StatusConnected {
			manager.pendingArea = area
			return
		}
		manager.applyArea(area)
	})

	return nil
}

// applyArea diffs the desired cell set against the subscribed one and issues
// only the delta - identical effective coverage produces zero wire calls.
func (manager *Manager) applyArea(area *areaConfig) {
	desired := map[string]bool{}
	for _, cell := range area.Cells {
		desired[feed.CellFilter(cell)] = true
	}

	var obsolete []string
	for filter, origin := range manager.filters {
		if origin != originAreaCell {
			continue
		}
		if desired[filter] {
			delete(desired, filter) // already subscribed, leave untouched
		} else {
			obsolete = append(obsolete, filter)
		}
	}

	slices.Sort(obsolete)
	for _, filter := range obsolete {
		delete(manager.filters, filter)
	}

	missing := maps.Keys(desired)
	slices.Sort(missing)
	for _, filter := range missing {
		manager.filters[filter] = originAreaCell
	}

	if len(obsolete) > 0 || len(missing) > 0 {
		manager.enqueueWire(wireOp{unsubscribe: obsolete, subscribe: missing})
	}

	manager.area = area

	// Vehicles the new coverage no longer reaches get their exit animation
	manager.store.MarkForExit(func(vehicle transit.TrackedVehicle) bool {
		return geo.Distance(area.CenterLatitude, area.CenterLongitude, vehicle.Latitude, vehicle.Longitude) <= area.RadiusMeters
	})
}

// ClearNearbyArea drops any pending configuration and unsubscribes every
// area cell.
func (manager *Manager) ClearNearbyArea() {
	manager.call(func() {
		manager.pendingArea = nil

		var cells []string
		for filter, origin := range manager.filters {
			if origin == originAreaCell {
				cells = append(cells, filter)
			}
		}

		for _, filter := range cells {
			delete(manager.filters, filter)
		}

		if len(cells) > 0 && manager.status == StatusConnected {
			slices.Sort(cells)
			manager.enqueueWire(wireOp{unsubscribe: cells})
		}

		manager.area = nil
	})
}

// Status returns the current connection status.
func (manager *Manager) Status() Status {
	var status Status
	manager.call(func() {
		status = manager.status
	})
	return status
}

// StatusChanges is the connection-status stream. Slow consumers lose the
// oldest update, never the newest.
func (manager *Manager) StatusChanges() <-chan Status {
	return manager.statusC
}

// Filters returns the active topic filter set, sorted. Mostly useful for the
// stats surface and tests.
func (manager *Manager) Filters() []string {
	var filters []string
	manager.call(func() {
		filters = maps.Keys(manager.filters)
	})
	slices.Sort(filters)
	return filters
}

func (manager *Manager) setStatus(status Status) {
	if manager.status == status {
		return
	}

	manager.status = status
	log.Info().Str("status", string(status)).Msg("Connection status changed")

	for {
		select {
		case manager.statusC <- status:
			return
		default:
			// full: drop the oldest pending update
			select {
			case <-manager.statusC:
			default:
			}
		}
	}
}

func (manager *Manager) handleMessage(incoming message) {
	if manager.paused {
		return
	}

	membership := ingest.Membership{
		Routes: manager.routes,
	}
	if manager.area != nil {
		membership.AreaActive = true
		membership.CenterLatitude = manager.area.CenterLatitude
		membership.CenterLongitude = manager.area.CenterLongitude
		membership.RadiusMeters = manager.area.RadiusMeters
	}

	event, ok := ingest.Normalise(incoming.topic, incoming.payload, membership)
	if !ok {
		return
	}

	manager.batcher.Append(event)
}

func (manager *Manager) flush() {
	if manager.batcher.Len() == 0 {
		return
	}

	events := manager.batcher.Drain()
	manager.store.ApplyBatch(events)

	log.Debug().Int("events", len(events)).Msg("Flushed batch")
}

func (manager *Manager) routeMode(routeID string) transit.TransportType {
	if manager.RouteModeResolver == nil {
		return transit.TransportTypeUnknown
	}
	return manager.RouteModeResolver(routeID)
}
