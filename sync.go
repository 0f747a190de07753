package blu

import (
	"context"
	"encoding/json"
	"sync"
)

// SyncManager orchestrates cache-first reads and write-through saves of the
// session (phone number, registration flag) and profile against the server.
//
// It is an explicit object: construct one at process start and hand it to
// whatever needs it. There is no package-level singleton.
//
// Failure semantics: nothing is retried, no failure is swallowed, and
// absence of data is always a representable state. Writes are never queued
// while offline.
type SyncManager struct {
	client *Client
	store  Store

	mu       sync.Mutex
	online   bool
	watchers map[int]func(key string)
	nextID   int
	keyLocks map[string]*sync.Mutex
}

// NewSyncManager creates a manager over the given client and store. The
// connectivity gate starts "up"; feed it real network state via SetOnline or
// BindRealtime.
func NewSyncManager(client *Client, store Store) *SyncManager {
	return &SyncManager{
		client:   client,
		store:    store,
		online:   true,
		watchers: make(map[int]func(string)),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Store exposes the underlying key-value store.
func (m *SyncManager) Store() Store {
	return m.store
}

// ============================================================================
// Connectivity gate
// ============================================================================

// Online returns the current reachability snapshot. It may lag the real
// network transition; operations must not assume it flips synchronously.
func (m *SyncManager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a network-state change pushed by the platform observer.
func (m *SyncManager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.client.logger.Debug("connectivity changed", "online", online)
	}
}

// ============================================================================
// Change notifications
// ============================================================================

// OnChange registers a callback fired with the cache key after the manager
// commits a write. The manager owns this fan-out itself, independent of
// whatever the storage backend supports. The returned function unregisters.
func (m *SyncManager) OnChange(fn func(key string)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *SyncManager) notify(key string) {
	m.mu.Lock()
	handlers := make([]func(string), 0, len(m.watchers))
	for _, h := range m.watchers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(key)
	}
}

// setKey serializes writes to a cache key: one in-flight mutation per key,
// so racing load/save calls cannot interleave mid-write.
func (m *SyncManager) setKey(key, value string) {
	m.mu.Lock()
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	m.store.Set(key, value)
	lock.Unlock()

	m.notify(key)
}

// ============================================================================
// Session operations
// ============================================================================

// PhoneNumber returns the stored session phone number, if any. Absence means
// the client is in the pre-auth state.
func (m *SyncManager) PhoneNumber() (string, bool) {
	return m.store.Get(KeyPhoneNumber)
}

// Registered reports whether a registration has completed on this device.
func (m *SyncManager) Registered() bool {
	v, ok := m.store.Get(KeyIsRegistered)
	return ok && v == "true"
}

// RequestOTP asks the server to send an OTP to fullPhoneNumber. On success
// the number becomes the session phone number.
func (m *SyncManager) RequestOTP(ctx context.Context, fullPhoneNumber string) error {
	if fullPhoneNumber == "" {
		return &GeneralError{Message: "phone number is required"}
	}
	if !m.Online() {
		return ErrOffline
	}
	res, err := m.client.GenerateOTP(ctx, fullPhoneNumber)
	if err != nil {
		return err
	}
	if res.Status != StatusSuccess {
		return res.Err()
	}
	m.setKey(KeyPhoneNumber, fullPhoneNumber)
	return nil
}

// VerifyOTP verifies the code against the session phone number. On success
// it immediately checks whether the number is registered; a found profile is
// cached and registered=true is returned. registered=false means the caller
// should run Register next.
func (m *SyncManager) VerifyOTP(ctx context.Context, code string) (registered bool, err error) {
	phone, ok := m.store.Get(KeyPhoneNumber)
	if !ok {
		return false, &GeneralError{Message: "no phone number on record"}
	}
	if !m.Online() {
		return false, ErrOffline
	}

	res, err := m.client.VerifyOTP(ctx, phone, code)
	if err != nil {
		return false, err
	}
	if res.Status != StatusSuccess {
		return false, res.Err()
	}

	chk, err := m.client.CheckPhone(ctx, phone)
	if err != nil {
		return false, err
	}
	if chk.Status != StatusSuccess {
		// Verified but unregistered: not an error, just pre-registration.
		return false, nil
	}
	m.setKey(KeyUserProfile, string(chk.Data))
	m.setKey(KeyIsRegistered, "true")
	return true, nil
}

// Register creates the user record. Validation failures come back as
// FieldErrors so the caller can attach messages to individual form fields.
func (m *SyncManager) Register(ctx context.Context, payload *RegisterPayload) (*Profile, error) {
	if payload == nil {
		return nil, &GeneralError{Message: "registration payload is required"}
	}
	if !m.Online() {
		return nil, ErrOffline
	}

	res, err := m.client.Register(ctx, payload)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusSuccess {
		return nil, res.Err()
	}

	m.setKey(KeyIsRegistered, "true")
	m.setKey(KeyUserProfile, string(res.Data))

	var p Profile
	if err := json.Unmarshal(res.Data, &p); err != nil {
		return nil, &GeneralError{Message: "cannot decode registered profile: " + err.Error()}
	}
	return &p, nil
}

// ============================================================================
// Profile operations
// ============================================================================

// LoadProfile is a cache-first read. The cached profile is the immediate
// answer; if the connectivity gate is up it is revalidated against the
// server and replaced wholesale on a "User Found" response.
//
// When revalidation fails but a cached profile exists, both the stale
// profile and the error are returned; the caller decides whether stale data
// is tolerable. Profile nil with a non-nil error is the unrecoverable case.
func (m *SyncManager) LoadProfile(ctx context.Context) (*Profile, error) {
	cached := m.cachedProfile()

	if !m.Online() {
		if cached == nil {
			return nil, ErrOffline
		}
		return cached, nil
	}

	phone, ok := m.store.Get(KeyPhoneNumber)
	if !ok {
		return cached, &GeneralError{Message: "no phone number on record"}
	}

	res, err := m.client.CheckPhone(ctx, phone)
	if err != nil {
		return cached, err
	}
	if res.Status != StatusSuccess {
		return cached, res.Err()
	}

	m.setKey(KeyUserProfile, string(res.Data))

	var p Profile
	if err := json.Unmarshal(res.Data, &p); err != nil {
		return cached, &GeneralError{Message: "cannot decode profile: " + err.Error()}
	}
	return &p, nil
}

// SaveProfile is a write-through save: the full profile is sent to the
// server and mirrored into the cache only after confirmed success. On any
// failure the cache is left untouched. Never queued offline.
//
// The cache takes the server-returned representation when the server echoes
// one, falling back to the outbound payload otherwise.
func (m *SyncManager) SaveProfile(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return &GeneralError{Message: "profile is required"}
	}
	if len(profile.Images) > MaxProfileImages {
		return &GeneralError{Message: "a profile can have at most 5 images"}
	}
	if !m.Online() {
		return ErrOffline
	}

	res, err := m.client.UpdateUser(ctx, profile)
	if err != nil {
		return err
	}
	if res.Status != StatusSuccess {
		return res.Err()
	}

	mirror := res.Data
	if len(mirror) == 0 || string(mirror) == "null" {
		outbound, err := json.Marshal(profile)
		if err != nil {
			return &GeneralError{Message: "cannot encode profile: " + err.Error()}
		}
		mirror = outbound
	}
	m.setKey(KeyUserProfile, string(mirror))
	return nil
}

// SaveLocation submits a resolved location for the session phone number.
func (m *SyncManager) SaveLocation(ctx context.Context, loc *Location) error {
	if loc == nil {
		return &GeneralError{Message: "location is required"}
	}
	phone, ok := m.store.Get(KeyPhoneNumber)
	if !ok {
		return &GeneralError{Message: "no phone number on record"}
	}
	if !m.Online() {
		return ErrOffline
	}

	res, err := m.client.SaveLocation(ctx, phone, loc)
	if err != nil {
		return err
	}
	return res.Err()
}

// ClearSession removes all session and profile state, returning the client
// to pre-auth.
func (m *SyncManager) ClearSession() {
	for _, key := range []string{KeyPhoneNumber, KeyUserProfile, KeyIsRegistered} {
		m.store.Delete(key)
		m.notify(key)
	}
}

func (m *SyncManager) cachedProfile() *Profile {
	raw, ok := m.store.Get(KeyUserProfile)
	if !ok || raw == "" {
		return nil
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		m.client.logger.Warn("cached profile is corrupt, treating as absent", "error", err)
		return nil
	}
	return &p
}

// ============================================================================
// Realtime binding
// ============================================================================

// BindRealtime wires a realtime client into the manager: connection state
// drives the connectivity gate, and profile.updated events trigger a
// background revalidation.
func (m *SyncManager) BindRealtime(rt *RealtimeClient) {
	rt.OnConnected(func() {
		m.SetOnline(true)
		go m.revalidate()
	})
	rt.OnDisconnected(func(code int, reason string) {
		m.SetOnline(false)
	})
	rt.OnProfileUpdated(func(p ProfileUpdatedPayload) {
		go m.revalidate()
	})
}

func (m *SyncManager) revalidate() {
	timeout := m.client.httpClient.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := m.LoadProfile(ctx); err != nil {
		m.client.logger.Warn("background revalidation failed", "error", err)
	}
}
