package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed payload may be before it
// is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature checks an inbound webhook signature header of the form
// "t=<unix>,v1=<hex hmac>". The MAC covers "<t>.<payload>" keyed with the
// shared webhook secret.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("webhook secret is not configured")
	}
	if strings.TrimSpace(header) == "" {
		return fmt.Errorf("missing signature header")
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("malformed signature timestamp")
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(kv[1]))
			if err != nil {
				return fmt.Errorf("malformed signature")
			}
			sigs = append(sigs, sig)
		}
	}

	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("signature header missing timestamp or signature")
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("signature timestamp outside tolerance")
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

// SignPayload produces a signature header for a payload. Used by tests and
// by local tooling that replays captured events.
func SignPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
