/*
Package flow provides a one-way action bus: a Dispatcher delivers actions
to every registered sink, and Stores keep application state that changes
only in response to those actions.

Views and servers never mutate state directly. They dispatch actions; each
store decides which actions it cares about, updates itself, and notifies
its receivers, which then read the new state.

# Actions

An action is a plain value that reports its kind:

	const KindClicked flow.Kind = "button.clicked"

	type Clicked struct{ Increase bool }

	func (Clicked) Kind() flow.Kind { return KindClicked }

Actions that carry required data may implement Validator; dispatch rejects
them with ErrInvalidAction when Validate fails.

# Dispatching

	d := flow.NewDispatcher("app")

	err := d.DispatchFromView(ctx, Clicked{Increase: true})
	err = d.DispatchFromServer(ctx, Clicked{Increase: false})

Every dispatch wraps the action in one Message, tagged with its origin,
and hands it to every sink in registration order on the calling
goroutine. The first sink error stops the delivery and is returned.
Deliveries never overlap. A sink that dispatches again with the context
it was given gets ErrReentrantDispatch; any other dispatch that arrives
mid-delivery is queued and delivered before the running dispatch returns.

# Stores

	store, err := flow.NewStore(d, "counter", 100,
	    func(_ context.Context, msg *flow.Message, u *flow.Update[int]) error {
	        return msg.
	            First(KindInitialised, flow.Ignore).
	            Next(KindClicked, flow.Handle(func(a Clicked) error {
	                if a.Increase {
	                    u.State++
	                } else {
	                    u.State--
	                }
	                return nil
	            })).
	            OnAnyMatched(u.Changed)
	    },
	)

	store.Subscribe(func(ctx context.Context) error {
	    render(store.State())
	    return nil
	})

The handler works on a copy of the state. When it succeeds the copy is
committed and, if Changed was called, receivers run. When it fails the
copy is dropped and the store reports StatusDegraded until the next
successful delivery.

# Sink options

Sinks, including stores, can be wrapped in pipz pipelines:

	d.Register(sink,
	    flow.WithRetry(3),
	    flow.WithTimeout(time.Second),
	    flow.WithMiddleware(flow.UseEffect(auditID, audit)),
	)

All options run inside the dispatch call.

# Server actions

A Relay reads encoded actions from a Watcher, decodes them through a
Registry and dispatches them with server origin:

	registry := flow.NewRegistry()
	flow.Register[Clicked](registry, KindClicked)

	relay := flow.NewRelay(flow.NewSpoolWatcher("/var/spool/app"), d, registry)
	err := relay.Start(ctx)

Watchers for Redis pub/sub, PostgreSQL LISTEN/NOTIFY and NATS subjects
live under pkg/.

# Observability

Dispatchers, stores and relays emit capitan signals (see signals.go) with
the field keys in fields.go. A MetricsProvider receives synchronous
dispatch counters.
*/
package flow
