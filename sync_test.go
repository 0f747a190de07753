package blu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeAPI is an httptest handler for the Blu endpoints with a request
// counter, so tests can assert that gated operations never hit the network.
type fakeAPI struct {
	calls   atomic.Int64
	handler http.HandlerFunc
}

func newFakeAPI(handler http.HandlerFunc) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.handler(w, r)
	}))
	return f, srv
}

func respondEnvelope(w http.ResponseWriter, code int, message string, bluValue bool, data any) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"message": message, "bluValue": bluValue, "data": data})
}

func newTestManager(baseURL string) *SyncManager {
	client := NewClient(WithBaseURL(baseURL))
	return NewSyncManager(client, NewMemoryStore())
}

// ============================================================================
// Connectivity gate
// ============================================================================

func TestOfflineRefusal(t *testing.T) {
	api, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server while offline")
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyPhoneNumber, "+919876543210")
	m.SetOnline(false)

	ctx := context.Background()
	checks := []struct {
		name string
		err  error
	}{
		{"RequestOTP", m.RequestOTP(ctx, "+919876543210")},
		{"SaveProfile", m.SaveProfile(ctx, &Profile{FirstName: "A"})},
		{"SaveLocation", m.SaveLocation(ctx, &Location{Latitude: 1})},
	}
	if _, err := m.VerifyOTP(ctx, "1234"); err != nil {
		checks = append(checks, struct {
			name string
			err  error
		}{"VerifyOTP", err})
	} else {
		t.Error("VerifyOTP should refuse while offline")
	}

	for _, c := range checks {
		var general *GeneralError
		if !errors.As(c.err, &general) {
			t.Errorf("%s: expected *GeneralError, got %T: %v", c.name, c.err, c.err)
		}
	}
	if n := api.calls.Load(); n != 0 {
		t.Fatalf("expected zero HTTP calls while offline, got %d", n)
	}
}

func TestLoadProfileOfflineCacheFirst(t *testing.T) {
	api, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server while offline")
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyUserProfile, `{"firstName":"Cached"}`)
	m.SetOnline(false)

	p, err := m.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("cached read while offline must not error: %v", err)
	}
	if p == nil || p.FirstName != "Cached" {
		t.Fatalf("expected the cached profile, got %+v", p)
	}
	if n := api.calls.Load(); n != 0 {
		t.Fatalf("expected zero HTTP calls, got %d", n)
	}
}

func TestLoadProfileOfflineEmptyCache(t *testing.T) {
	m := newTestManager("http://unused.invalid")
	m.SetOnline(false)

	p, err := m.LoadProfile(context.Background())
	if p != nil {
		t.Fatalf("no cache and no network, expected nil profile, got %+v", p)
	}
	var general *GeneralError
	if !errors.As(err, &general) {
		t.Fatalf("expected *GeneralError, got %T: %v", err, err)
	}
}

// ============================================================================
// Cache-first read / revalidation
// ============================================================================

func TestLoadProfileRevalidatesWholesale(t *testing.T) {
	const serverData = `{"firstName":"Fresh","age":"29","trust":0.8}`
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"User Found","bluValue":true,"data":` + serverData + `}`))
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyPhoneNumber, "+919876543210")
	m.Store().Set(KeyUserProfile, `{"firstName":"Stale","email":"old@x.com"}`)

	p, err := m.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.FirstName != "Fresh" {
		t.Fatalf("expected the revalidated profile, got %+v", p)
	}

	raw, ok := m.Store().Get(KeyUserProfile)
	if !ok {
		t.Fatal("profile missing from cache after revalidation")
	}
	if raw != serverData {
		t.Fatalf("cache must hold the server payload byte-for-byte:\n got %s\nwant %s", raw, serverData)
	}
}

func TestLoadProfileStaleOnFailure(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		respondEnvelope(w, 500, "server error", false, nil)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyPhoneNumber, "+919876543210")
	m.Store().Set(KeyUserProfile, `{"firstName":"Stale"}`)

	p, err := m.LoadProfile(context.Background())
	if err == nil {
		t.Fatal("expected the revalidation error to surface")
	}
	if p == nil || p.FirstName != "Stale" {
		t.Fatalf("expected the stale profile alongside the error, got %+v", p)
	}
	raw, _ := m.Store().Get(KeyUserProfile)
	if raw != `{"firstName":"Stale"}` {
		t.Fatalf("failed revalidation must not touch the cache, got %s", raw)
	}
}

func TestLoadProfileCorruptCache(t *testing.T) {
	m := newTestManager("http://unused.invalid")
	m.Store().Set(KeyUserProfile, `{not json`)
	m.SetOnline(false)

	p, err := m.LoadProfile(context.Background())
	if p != nil {
		t.Fatalf("corrupt cache must read as absent, got %+v", p)
	}
	if err == nil {
		t.Fatal("absent cache while offline should error")
	}
}

// ============================================================================
// Write-through save
// ============================================================================

func TestSaveProfileWriteThrough(t *testing.T) {
	const echoed = `{"firstName":"A","trust":0.5}`
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"User Saved Successfully","bluValue":true,"data":` + echoed + `}`))
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	if err := m.SaveProfile(context.Background(), &Profile{FirstName: "A"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	raw, ok := m.Store().Get(KeyUserProfile)
	if !ok {
		t.Fatal("cache not updated after confirmed save")
	}
	if raw != echoed {
		t.Fatalf("cache must prefer the server echo, got %s", raw)
	}
}

func TestSaveProfileFallsBackToOutbound(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		respondEnvelope(w, 200, msgUserSaved, true, nil)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	if err := m.SaveProfile(context.Background(), &Profile{FirstName: "A"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	raw, _ := m.Store().Get(KeyUserProfile)
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("cached fallback is not valid JSON: %v", err)
	}
	if p.FirstName != "A" {
		t.Fatalf("expected the outbound payload in the cache, got %s", raw)
	}
}

func TestSaveProfileFailureLeavesCache(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		respondEnvelope(w, 500, "server error", false, nil)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyUserProfile, `{"firstName":"Old"}`)

	err := m.SaveProfile(context.Background(), &Profile{FirstName: "New"})
	if err == nil {
		t.Fatal("expected the save to fail")
	}
	raw, _ := m.Store().Get(KeyUserProfile)
	if raw != `{"firstName":"Old"}` {
		t.Fatalf("failed save must leave the cache untouched, got %s", raw)
	}
}

func TestSaveProfileIdempotent(t *testing.T) {
	api, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		respondEnvelope(w, 200, msgUserSaved, true, nil)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	p := &Profile{FirstName: "A", Email: "a@x.com"}
	if err := m.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("first save: %v", err)
	}
	first, _ := m.Store().Get(KeyUserProfile)
	if err := m.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("second save: %v", err)
	}
	second, _ := m.Store().Get(KeyUserProfile)

	if first != second {
		t.Fatalf("re-saving the same profile changed the cache:\n%s\n%s", first, second)
	}
	if n := api.calls.Load(); n != 2 {
		t.Fatalf("full payload must be sent each time, got %d calls", n)
	}
}

func TestSaveProfileImageCap(t *testing.T) {
	api, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	m := newTestManager(srv.URL)
	p := &Profile{Images: []string{"1", "2", "3", "4", "5", "6"}}
	if err := m.SaveProfile(context.Background(), p); err == nil {
		t.Fatal("expected the image cap to reject the save")
	}
	if n := api.calls.Load(); n != 0 {
		t.Fatalf("over-cap save must be rejected locally, got %d calls", n)
	}
}

// ============================================================================
// Error normalization through the manager
// ============================================================================

func TestRegisterFieldErrors(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"message":"Validation failed","data":{"email":"invalid"}}`))
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	_, err := m.Register(context.Background(), &RegisterPayload{FirstName: "A"})
	fields, ok := err.(FieldErrors)
	if !ok {
		t.Fatalf("expected FieldErrors, got %T: %v", err, err)
	}
	if fields["email"] != "invalid" {
		t.Fatalf("wrong field message: %v", fields)
	}
	if m.Registered() {
		t.Fatal("failed registration must not set the registered flag")
	}
}

func TestRegisterSuccessCaches(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"User Saved Successfully","bluValue":true,"data":{"firstName":"A","email":"a@x.com"}}`))
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	p, err := m.Register(context.Background(), &RegisterPayload{FirstName: "A", TermsCondition: true})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.FirstName != "A" {
		t.Fatalf("wrong decoded profile: %+v", p)
	}
	if !m.Registered() {
		t.Fatal("registered flag not set")
	}
	raw, _ := m.Store().Get(KeyUserProfile)
	if raw != `{"firstName":"A","email":"a@x.com"}` {
		t.Fatalf("profile not cached byte-for-byte, got %s", raw)
	}
}

// ============================================================================
// Change notifications
// ============================================================================

func TestOnChange(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		respondEnvelope(w, 200, msgOTPSent, true, nil)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	var changed []string
	unsubscribe := m.OnChange(func(key string) { changed = append(changed, key) })

	if err := m.RequestOTP(context.Background(), "+919876543210"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if len(changed) != 1 || changed[0] != KeyPhoneNumber {
		t.Fatalf("expected one phoneNumber notification, got %v", changed)
	}

	unsubscribe()
	m.ClearSession()
	if len(changed) != 1 {
		t.Fatalf("unsubscribed watcher still fired: %v", changed)
	}
}

func TestClearSession(t *testing.T) {
	m := newTestManager("http://unused.invalid")
	m.Store().Set(KeyPhoneNumber, "+919876543210")
	m.Store().Set(KeyUserProfile, `{"firstName":"A"}`)
	m.Store().Set(KeyIsRegistered, "true")
	m.Store().Set(KeyUserTheme, "dark")

	m.ClearSession()

	for _, key := range []string{KeyPhoneNumber, KeyUserProfile, KeyIsRegistered} {
		if _, ok := m.Store().Get(key); ok {
			t.Errorf("%s survived ClearSession", key)
		}
	}
	if _, ok := m.Store().Get(KeyUserTheme); !ok {
		t.Error("theme preference must survive logout")
	}
}

// ============================================================================
// Full auth flow
// ============================================================================

func TestAuthFlow(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/otp/generateOtp":
			respondEnvelope(w, 200, msgOTPSent, true, nil)
		case "/otp/verifyOTP":
			w.Write([]byte(`"OTP verified successfully"`))
		case "/user/checkPhoneNumber":
			w.Write([]byte(`{"message":"User Found","bluValue":true,"data":{"firstName":"A","phoneNumber":"+919876543210"}}`))
		default:
			http.NotFound(w, r)
		}
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	ctx := context.Background()

	if err := m.RequestOTP(ctx, "+919876543210"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if phone, ok := m.PhoneNumber(); !ok || phone != "+919876543210" {
		t.Fatalf("phone number not stored, got %q", phone)
	}

	registered, err := m.VerifyOTP(ctx, "1234")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !registered {
		t.Fatal("expected a registered user")
	}
	if !m.Registered() {
		t.Fatal("registered flag not persisted")
	}

	p, err := m.LoadProfile(ctx)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.FirstName != "A" {
		t.Fatalf("wrong profile: %+v", p)
	}
}

func TestVerifyOTPUnregistered(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/otp/verifyOTP":
			w.Write([]byte(`"OTP verified successfully"`))
		case "/user/checkPhoneNumber":
			respondEnvelope(w, 200, "User Not Found", false, nil)
		default:
			http.NotFound(w, r)
		}
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyPhoneNumber, "+919876543210")

	registered, err := m.VerifyOTP(context.Background(), "1234")
	if err != nil {
		t.Fatalf("verified-but-unregistered is not an error: %v", err)
	}
	if registered {
		t.Fatal("expected registered=false for an unknown number")
	}
	if m.Registered() {
		t.Fatal("registered flag must not be set")
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	_, srv := newFakeAPI(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"OTP verification failed"`))
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	m.Store().Set(KeyPhoneNumber, "+919876543210")

	_, err := m.VerifyOTP(context.Background(), "0000")
	var general *GeneralError
	if !errors.As(err, &general) {
		t.Fatalf("expected *GeneralError, got %T: %v", err, err)
	}
}
