package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OpenColumn/OC-Backend/internal/entitlement"
	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// SignatureHeader carries the provider's timestamped HMAC:
// "t=<unix>,v1=<hex hmac-sha256 of '<t>.<body>'>".
const SignatureHeader = "X-Payment-Signature"

// Processor terminates the payment provider's webhook. It verifies the
// signature, filters event types, extracts the settlement purpose from event
// metadata, and delegates to the entitlement machine. It never mutates store
// state directly.
type Processor struct {
	Machine   *entitlement.Machine
	Secret    []byte
	Tolerance time.Duration

	// now is swapped in tests to pin the replay window.
	now func() time.Time
}

func NewProcessor(machine *entitlement.Machine, secret []byte, tolerance time.Duration) *Processor {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Processor{Machine: machine, Secret: secret, Tolerance: tolerance, now: time.Now}
}

// handledEvents is the allow-list; anything else is acknowledged untouched so
// the provider stops retrying.
var handledEvents = map[string]struct{}{
	"checkout.session.completed": {},
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (p *Processor) HandleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "payload too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	defer r.Body.Close()

	log := logging.FromContext(r.Context())

	if !p.verifySignature(r.Header.Get(SignatureHeader), raw) {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		// Signature was valid, so this is the provider's payload; a retry
		// cannot fix it. Log and acknowledge.
		log.Error("webhook: undecodable payload", "error", err)
		ack(w, "ignored")
		return
	}

	if _, ok := handledEvents[ev.Type]; !ok {
		ack(w, "ignored")
		return
	}

	settlement, ok := settlementFromEvent(ev)
	if !ok {
		log.Error("webhook: malformed event metadata", "event_id", ev.ID, "type", ev.Type)
		ack(w, "ignored")
		return
	}

	result, err := p.Machine.SettlePayment(r.Context(), settlement)
	if err != nil {
		// Precondition failures (wrong ad owner, unknown user or ad, bad
		// purpose) cannot be fixed by retrying the identical payload, so they
		// get the same ack-and-drop treatment as malformed metadata. The
		// settlement row rolled back with the effect, so a corrected delivery
		// of the same intent id still applies. 500 stays reserved for store
		// faults, which a retry can fix.
		if errors.Is(err, entitlement.ErrOwnershipMismatch) ||
			errors.Is(err, entitlement.ErrNotFound) ||
			errors.Is(err, entitlement.ErrInvalidPurpose) {
			log.Error("webhook: settlement rejected", "event_id", ev.ID,
				"payment_intent_id", settlement.PaymentIntentID, "error", err)
			ack(w, "ignored")
			return
		}
		log.Error("webhook: settlement failed", "event_id", ev.ID,
			"payment_intent_id", settlement.PaymentIntentID, "error", err)
		http.Error(w, "settlement failed", http.StatusInternalServerError)
		return
	}

	log.Info("webhook: settlement processed", "event_id", ev.ID,
		"payment_intent_id", settlement.PaymentIntentID, "result", string(result))
	ack(w, string(result))
}

// settlementFromEvent maps free-form metadata onto a typed purpose. Unknown
// extra keys are tolerated; missing required ones fail the mapping.
func settlementFromEvent(ev event) (entitlement.Settlement, bool) {
	meta := ev.Data.Object.Metadata
	s := entitlement.Settlement{
		PaymentIntentID: ev.Data.Object.ID,
		UserID:          str(meta, "userId", "user_id"),
	}
	if s.PaymentIntentID == "" || s.UserID == "" {
		return entitlement.Settlement{}, false
	}

	switch {
	case boolAny(meta, "isAdvertiser", "is_advertiser"):
		s.Purpose = entitlement.Purpose{Kind: entitlement.PurposeAdvertiserUpgrade}
	case str(meta, "packageType", "package_type") != "":
		s.Purpose = entitlement.Purpose{
			Kind:        entitlement.PurposePublisherPackage,
			PackageType: entitlement.PackageType(str(meta, "packageType", "package_type")),
		}
		if !s.Purpose.PackageType.Valid() {
			return entitlement.Settlement{}, false
		}
	case str(meta, "adId", "ad_id") != "":
		s.Purpose = entitlement.Purpose{
			Kind: entitlement.PurposeAdFunding,
			AdID: str(meta, "adId", "ad_id"),
		}
	default:
		return entitlement.Settlement{}, false
	}
	return s, true
}

// verifySignature checks the timestamped HMAC and bounds clock skew in both
// directions to limit replay.
func (p *Processor) verifySignature(header string, raw []byte) bool {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := p.now().Sub(time.Unix(unix, 0))
	if age > p.Tolerance || age < -p.Tolerance {
		return false
	}

	mac := hmac.New(sha256.New, p.Secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

// Sign produces a signature header value for body at time t. Shared with
// tests and local tooling that replay provider events.
func Sign(secret []byte, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func ack(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func str(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func boolAny(m map[string]string, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			s := strings.ToLower(strings.TrimSpace(v))
			return s == "true" || s == "on" || s == "1" || s == "yes"
		}
	}
	return false
}
