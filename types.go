package blu

import "encoding/json"

// ============================================================================
// Wire envelope & typed result
// ============================================================================

// envelope is the standard response body: a human-readable message, the
// bluValue success flag, and an endpoint-specific data payload.
type envelope struct {
	Message  string          `json:"message"`
	BluValue bool            `json:"bluValue"`
	Data     json.RawMessage `json:"data"`
}

// Status is the typed outcome tag decoded at the transport boundary.
type Status string

const (
	// StatusPending marks a 2xx result whose endpoint predicate has not
	// been applied yet. Callers of the public API never see it.
	StatusPending Status = "pending"

	StatusSuccess     Status = "success"
	StatusNotFound    Status = "not_found"
	StatusValidation  Status = "validation_error"
	StatusServerError Status = "server_error"
)

// Result is a classified server response.
type Result struct {
	Code     int
	Status   Status
	Message  string
	BluValue bool
	Data     json.RawMessage
	Fields   FieldErrors // set when Status == StatusValidation
}

// finalize applies the common success predicate: HTTP 2xx, the expected
// message, and bluValue set. A 2xx that misses the predicate is a logical
// failure and is tagged StatusNotFound.
func (r *Result) finalize(expect string) *Result {
	if r.Status != StatusPending {
		return r
	}
	if r.Message == expect && r.BluValue {
		r.Status = StatusSuccess
	} else {
		r.Status = StatusNotFound
	}
	return r
}

// finalizeText is for endpoints that answer with a bare string body and no
// bluValue flag.
func (r *Result) finalizeText(expect string) *Result {
	if r.Status != StatusPending {
		return r
	}
	if r.Message == expect {
		r.Status = StatusSuccess
	} else {
		r.Status = StatusNotFound
	}
	return r
}

// finalizeAny accepts any 2xx as success.
func (r *Result) finalizeAny() *Result {
	if r.Status == StatusPending {
		r.Status = StatusSuccess
	}
	return r
}

// Err returns nil for a successful result, otherwise the normalized error:
// FieldErrors for validation failures, *GeneralError for everything else.
func (r *Result) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusValidation:
		return r.Fields
	default:
		msg := r.Message
		if msg == "" {
			msg = "request failed"
		}
		return &GeneralError{Message: msg}
	}
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain types
// ============================================================================

// MaxProfileImages is the server-side cap on profile photos.
const MaxProfileImages = 5

// Profile is the user record. The server owns it; the local cache mirrors it
// wholesale and never merges partial edits.
type Profile struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
	Age         string `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`

	Education  string `json:"education,omitempty"`
	Profession string `json:"profession,omitempty"`
	Height     string `json:"height,omitempty"`

	Images      []string          `json:"images,omitempty"`
	SocialMedia map[string]string `json:"socialMedia,omitempty"`
	Languages   []string          `json:"languages,omitempty"`
	Interests   []string          `json:"interests,omitempty"`

	ActiveSubscription *Subscription `json:"activeSubscription,omitempty"`
	Trust              float64       `json:"trust,omitempty"`

	FCMToken string `json:"fcmtoken,omitempty"`
}

// Subscription describes the user's active plan, if any.
type Subscription struct {
	SubscriptionName      string `json:"subscriptionName"`
	ExpiryDate            string `json:"expiryDate,omitempty"`
	InitialRequestLimit   int    `json:"initialRequestLimit,omitempty"`
	RemainingRequestLimit int    `json:"remainingRequestLimit,omitempty"`
}

// HasRequestsLeft reports whether the subscription still has dating-request
// quota.
func (s *Subscription) HasRequestsLeft() bool {
	return s != nil && s.RemainingRequestLimit > 0
}

// RegisterPayload mirrors the registration form fields.
type RegisterPayload struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Age            string `json:"age"`
	Gender         string `json:"gender"`
	TermsCondition bool   `json:"termsCondition"`
	FCMToken       string `json:"fcmtoken"`
}

// Location carries an already-resolved position. Reverse geocoding is the
// caller's problem.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Country    string  `json:"country,omitempty"`
	State      string  `json:"state,omitempty"`
	City       string  `json:"city,omitempty"`
	PostalCode string  `json:"postalCode,omitempty"`
	Place      string  `json:"place,omitempty"`
}
