package client

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
)

// Category is the closed set of display classes for admin events
type Category int

const (
	CategoryDefault Category = iota
	CategoryOrder
	CategoryUser
	CategoryProduct
	CategoryStockAlert
	CategoryPayment
)

// Style is the icon and color a category is rendered with
type Style struct {
	Icon  string
	Color string
}

var categoryStyles = [...]Style{
	CategoryDefault:    {Icon: "•", Color: "gray"},
	CategoryOrder:      {Icon: "📦", Color: "blue"},
	CategoryUser:       {Icon: "👤", Color: "green"},
	CategoryProduct:    {Icon: "🏷", Color: "purple"},
	CategoryStockAlert: {Icon: "⚠", Color: "orange"},
	CategoryPayment:    {Icon: "💳", Color: "red"},
}

func (c Category) Style() Style {
	if c < 0 || int(c) >= len(categoryStyles) {
		return categoryStyles[CategoryDefault]
	}
	return categoryStyles[c]
}

func (c Category) String() string {
	switch c {
	case CategoryOrder:
		return "order"
	case CategoryUser:
		return "user"
	case CategoryProduct:
		return "product"
	case CategoryStockAlert:
		return "stock_alert"
	case CategoryPayment:
		return "payment"
	default:
		return "default"
	}
}

// Classify maps an envelope type to its category; unknown types get the default
func Classify(t protocol.MessageType) Category {
	switch {
	case protocol.IsOrderEvent(t):
		return CategoryOrder
	case protocol.IsPaymentEvent(t):
		return CategoryPayment
	case t == protocol.TypeStockAlert:
		return CategoryStockAlert
	}
	// admin feeds also carry user_* and product_* events
	name := strings.TrimPrefix(string(t), "admin_")
	switch {
	case strings.HasPrefix(name, "user"):
		return CategoryUser
	case strings.HasPrefix(name, "product"):
		return CategoryProduct
	case strings.HasPrefix(name, "order"):
		return CategoryOrder
	case strings.HasPrefix(name, "payment"):
		return CategoryPayment
	}
	return CategoryDefault
}

// ClassifyNotification maps a stored notification category to a display category
func ClassifyNotification(t protocol.NotificationType) Category {
	switch t {
	case protocol.NotificationOrder:
		return CategoryOrder
	case protocol.NotificationPayment:
		return CategoryPayment
	case protocol.NotificationUser:
		return CategoryUser
	case protocol.NotificationProduct:
		return CategoryProduct
	}
	return CategoryDefault
}

// Latest picks the newest envelope of a burst by timestamp
func Latest(envs []protocol.Envelope) (protocol.Envelope, bool) {
	if len(envs) == 0 {
		return protocol.Envelope{}, false
	}
	sorted := append([]protocol.Envelope(nil), envs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return sorted[0], true
}

const DefaultMarkersKey = "admin_notified"

// AdminOverlay turns domain envelopes into notifications for admins and
// suppresses repeat toasts for the same entity within a session.
type AdminOverlay struct {
	store   *NotificationStore
	toaster Toaster
	kv      Store
	key     string
	log     zerolog.Logger

	mu      sync.Mutex
	markers map[string]struct{}
}

func NewAdminOverlay(store *NotificationStore, toaster Toaster, kv Store, log zerolog.Logger) *AdminOverlay {
	if toaster == nil {
		toaster = NopToaster{}
	}
	if kv == nil {
		kv = NewMemoryStore()
	}
	o := &AdminOverlay{
		store:   store,
		toaster: toaster,
		kv:      kv,
		key:     DefaultMarkersKey,
		log:     log,
		markers: make(map[string]struct{}),
	}
	o.loadMarkers()
	return o
}

func (o *AdminOverlay) loadMarkers() {
	raw, err := o.kv.Get(o.key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			o.log.Warn().Err(err).Msg("overlay_markers_unavailable")
		}
		return
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		o.log.Warn().Err(err).Msg("overlay_markers_corrupt")
		return
	}
	for _, k := range keys {
		o.markers[k] = struct{}{}
	}
}

func (o *AdminOverlay) saveMarkersLocked() {
	keys := make([]string, 0, len(o.markers))
	for k := range o.markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	raw, err := json.Marshal(keys)
	if err == nil {
		err = o.kv.Set(o.key, raw)
	}
	if err != nil {
		o.log.Warn().Err(err).Msg("overlay_markers_write_failed")
	}
}

// markOnce records key and reports whether it was new this session
func (o *AdminOverlay) markOnce(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.markers[key]; seen {
		return false
	}
	o.markers[key] = struct{}{}
	o.saveMarkersLocked()
	return true
}

// Handle records a domain envelope and decides whether it deserves a toast.
// Envelopes that are not domain events are ignored; it reports whether a toast was shown.
func (o *AdminOverlay) Handle(env protocol.Envelope) bool {
	n, ok := protocol.Synthesize(env.Type, env.Data, env.Timestamp)
	if !ok {
		return false
	}
	added := o.store.Record(n)

	show := added
	if protocol.IsOrderEvent(env.Type) || protocol.IsPaymentEvent(env.Type) {
		// the store entry is kept either way, only the toast is suppressed
		show = o.markOnce(protocol.DedupKey(env.Type, n.EntityID))
	}
	if !show {
		o.log.Debug().Str("type", env.Type.String()).Str("entity_id", n.EntityID).Msg("toast_suppressed")
		return false
	}

	o.toaster.Toast(Toast{
		Notification: n,
		Level:        LevelFor(n.Priority),
		Style:        Classify(env.Type).Style(),
	})
	return true
}

// HandleBurst acts on the newest envelope of a burst only
func (o *AdminOverlay) HandleBurst(envs []protocol.Envelope) bool {
	env, ok := Latest(envs)
	if !ok {
		return false
	}
	return o.Handle(env)
}

// EndSession forgets which entities were already toasted
func (o *AdminOverlay) EndSession() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markers = make(map[string]struct{})
	if err := o.kv.Delete(o.key); err != nil {
		o.log.Warn().Err(err).Msg("overlay_markers_clear_failed")
	}
}

// Attach subscribes the overlay to the admin-only envelope types on m.
// The owner variants (order_updated, payment_updated) reach NotificationStore.Attach.
func (o *AdminOverlay) Attach(m *Manager) func() {
	types := []protocol.MessageType{
		protocol.TypeAdminOrderUpdated,
		protocol.TypeAdminPaymentUpdated,
		protocol.TypeStockAlert,
	}
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, m.Subscribe(t, func(env protocol.Envelope) { o.Handle(env) }))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
