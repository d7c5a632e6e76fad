package client

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"loudfits/pkg/protocol"

	"github.com/rs/zerolog"
)

const (
	DefaultNotificationLimit = 100
	DefaultNotificationsKey  = "notifications"
)

// ReceiptSender delivers read receipts; the Manager satisfies it
type ReceiptSender interface {
	Send(msgType protocol.MessageType, payload any) error
}

// StoreOptions configure a NotificationStore
type StoreOptions struct {
	Key     string
	Limit   int
	Toaster Toaster
	Clock   func() time.Time
}

// NotificationStore is the client's list of notifications, newest first,
// deduplicated by id and capped.
type NotificationStore struct {
	mu       sync.Mutex
	items    []protocol.Notification
	index    map[string]struct{}
	kv       Store
	key      string
	limit    int
	toaster  Toaster
	receipts ReceiptSender
	now      func() time.Time
	log      zerolog.Logger

	memoryOnly bool
}

// NewNotificationStore loads the persisted list from kv. Anything unreadable
// starts the store empty.
func NewNotificationStore(kv Store, opts StoreOptions, log zerolog.Logger) *NotificationStore {
	if kv == nil {
		kv = NewMemoryStore()
	}
	if opts.Key == "" {
		opts.Key = DefaultNotificationsKey
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultNotificationLimit
	}
	if opts.Toaster == nil {
		opts.Toaster = NopToaster{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &NotificationStore{
		index:   make(map[string]struct{}),
		kv:      kv,
		key:     opts.Key,
		limit:   opts.Limit,
		toaster: opts.Toaster,
		now:     opts.Clock,
		log:     log,
	}
	s.load()
	return s
}

func (s *NotificationStore) load() {
	raw, err := s.kv.Get(s.key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.log.Warn().Err(err).Msg("notification_cache_unavailable")
		}
		return
	}
	var items []protocol.Notification
	if err := json.Unmarshal(raw, &items); err != nil {
		s.log.Warn().Err(err).Msg("notification_cache_corrupt")
		return
	}
	for _, n := range items {
		if n.ID == "" {
			continue
		}
		if _, dup := s.index[n.ID]; dup {
			continue
		}
		s.index[n.ID] = struct{}{}
		s.items = append(s.items, n)
	}
	s.truncateLocked()
}

// SetReceiptSender wires the live connection used for read receipts
func (s *NotificationStore) SetReceiptSender(r ReceiptSender) {
	s.mu.Lock()
	s.receipts = r
	s.mu.Unlock()
}

// Ingest adds n and toasts it. Known ids are ignored. It reports whether n was new.
func (s *NotificationStore) Ingest(n protocol.Notification) bool {
	if !s.Record(n) {
		return false
	}
	s.toast(n)
	return true
}

// Record adds n without a toast
func (s *NotificationStore) Record(n protocol.Notification) bool {
	s.mu.Lock()
	added := s.addLocked(n)
	if added {
		s.truncateLocked()
		s.persistLocked()
	}
	s.mu.Unlock()
	return added
}

// IngestMany bulk-adds a batch (unread sync) without per-item toasts
func (s *NotificationStore) IngestMany(ns []protocol.Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	// oldest first so the newest ends up on top
	for i := len(ns) - 1; i >= 0; i-- {
		if s.addLocked(ns[i]) {
			added++
		}
	}
	if added > 0 {
		s.sortLocked()
		s.truncateLocked()
		s.persistLocked()
	}
	return added
}

// Merge unions the historical fetch with what arrived live, sorted newest first
func (s *NotificationStore) Merge(history []protocol.Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, n := range history {
		if s.addLocked(n) {
			added++
		}
	}
	s.sortLocked()
	s.truncateLocked()
	s.persistLocked()
	return added
}

func (s *NotificationStore) addLocked(n protocol.Notification) bool {
	if n.ID == "" {
		return false
	}
	if _, dup := s.index[n.ID]; dup {
		return false
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.index[n.ID] = struct{}{}
	s.items = append([]protocol.Notification{n}, s.items...)
	return true
}

func (s *NotificationStore) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedAt.After(s.items[j].CreatedAt)
	})
}

// truncateLocked drops entries past the limit by position
func (s *NotificationStore) truncateLocked() {
	if len(s.items) <= s.limit {
		return
	}
	for _, n := range s.items[s.limit:] {
		delete(s.index, n.ID)
	}
	s.items = s.items[:s.limit:s.limit]
}

func (s *NotificationStore) persistLocked() {
	if s.memoryOnly {
		return
	}
	raw, err := json.Marshal(s.items)
	if err == nil {
		err = s.kv.Set(s.key, raw)
	}
	if err != nil {
		s.memoryOnly = true
		s.log.Warn().Err(err).Msg("notification_cache_write_failed")
	}
}

func (s *NotificationStore) toast(n protocol.Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("toast_panic")
		}
	}()
	s.toaster.Toast(Toast{
		Notification: n,
		Level:        LevelFor(n.Priority),
		Style:        ClassifyNotification(n.Type).Style(),
	})
}

// MarkAsRead flips the flag locally and sends a best-effort receipt.
// It reports whether id is known.
func (s *NotificationStore) MarkAsRead(id string) bool {
	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			found = true
			break
		}
	}
	if found {
		s.persistLocked()
	}
	receipts := s.receipts
	s.mu.Unlock()

	if found {
		s.sendReceipt(receipts, protocol.TypeMarkRead, protocol.MarkReadData{NotificationID: id})
	}
	return found
}

// MarkAllAsRead flips every flag locally and sends one best-effort receipt
func (s *NotificationStore) MarkAllAsRead() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.persistLocked()
	receipts := s.receipts
	s.mu.Unlock()

	s.sendReceipt(receipts, protocol.TypeMarkAllRead, struct{}{})
}

// sendReceipt never retries or queues; a closed socket drops the receipt
func (s *NotificationStore) sendReceipt(r ReceiptSender, msgType protocol.MessageType, payload any) {
	if r == nil {
		return
	}
	if err := r.Send(msgType, payload); err != nil {
		s.log.Debug().Err(err).Str("type", msgType.String()).Msg("read_receipt_dropped")
	}
}

// Clear empties the list and the persisted copy
func (s *NotificationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]struct{})
	// a copy written before degrading to memory-only would come back on the next load
	return s.kv.Delete(s.key)
}

// List returns a copy, newest first
func (s *NotificationStore) List() []protocol.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Notification(nil), s.items...)
}

func (s *NotificationStore) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// MemoryOnly reports whether persistence has been abandoned for this session
func (s *NotificationStore) MemoryOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryOnly
}

// Attach subscribes the store to m and uses m for read receipts.
// Every client, admin or not, needs this for its own order and payment updates.
func (s *NotificationStore) Attach(m *Manager) func() {
	s.SetReceiptSender(m)
	single := func(env protocol.Envelope) {
		var n protocol.Notification
		if err := env.Decode(&n); err != nil {
			s.log.Warn().Err(err).Str("type", env.Type.String()).Msg("notification_decode_failed")
			return
		}
		s.Ingest(n)
	}
	bulk := func(env protocol.Envelope) {
		ns, err := protocol.DecodeNotifications(env.Data)
		if err != nil {
			s.log.Warn().Err(err).Str("type", env.Type.String()).Msg("notification_decode_failed")
			return
		}
		s.IngestMany(ns)
	}
	// owner-facing domain events get the generic toast; admin variants belong to AdminOverlay
	domain := func(env protocol.Envelope) {
		n, ok := protocol.Synthesize(env.Type, env.Data, env.Timestamp)
		if !ok {
			s.log.Warn().Str("type", env.Type.String()).Msg("domain_event_dropped")
			return
		}
		s.Ingest(n)
	}
	unsubs := []func(){
		m.Subscribe(protocol.TypeNotification, single),
		m.Subscribe(protocol.TypeBroadcast, single),
		m.Subscribe(protocol.TypeUnreadNotifications, bulk),
		m.Subscribe(protocol.TypeAdminNotifications, bulk),
		m.Subscribe(protocol.TypeOrderUpdated, domain),
		m.Subscribe(protocol.TypePaymentUpdated, domain),
		m.Subscribe(protocol.TypeOrderUpdate, domain),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
		s.SetReceiptSender(nil)
	}
}
