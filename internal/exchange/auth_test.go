package exchange

import (
	"strings"
	"testing"
)

func TestSignKnownVectors(t *testing.T) {
	t.Parallel()
	a := NewAuth("testkey", "testsecret", 600000)

	tests := []struct {
		name    string
		ts      int64
		payload string
		want    string
	}{
		{
			name:    "post body",
			ts:      1700000000000,
			payload: `{"category":"linear"}`,
			want:    "99a9fc7f696f23e6167ca73cbf29419c8537b2dd22fe0cee10aded498903d652",
		},
		{
			name:    "empty payload",
			ts:      1700000000000,
			payload: "",
			want:    "d5adefdc71a67bf72eb1723309829ea95246fe00a2f75c75339c1d081adab59b",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := a.Sign(tt.ts, tt.payload)
			if got != tt.want {
				t.Errorf("Sign() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSignIsDeterministicAndSensitive(t *testing.T) {
	t.Parallel()
	a := NewAuth("key", "secret", 600000)

	s1 := a.Sign(1700000000000, "payload")
	s2 := a.Sign(1700000000000, "payload")
	if s1 != s2 {
		t.Errorf("same inputs produced different signatures: %s vs %s", s1, s2)
	}
	if len(s1) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(s1))
	}
	if s1 != strings.ToLower(s1) {
		t.Errorf("signature %s is not lowercase hex", s1)
	}

	if a.Sign(1700000000001, "payload") == s1 {
		t.Error("timestamp change did not change signature")
	}
	if a.Sign(1700000000000, "payload2") == s1 {
		t.Error("payload change did not change signature")
	}
	if NewAuth("key2", "secret", 600000).Sign(1700000000000, "payload") == s1 {
		t.Error("api key change did not change signature")
	}
	if NewAuth("key", "secret2", 600000).Sign(1700000000000, "payload") == s1 {
		t.Error("secret change did not change signature")
	}
}

func TestHeaders(t *testing.T) {
	t.Parallel()
	a := NewAuth("mykey", "mysecret", 600000)

	h := a.Headers(1700000000000, `{"symbol":"BTCUSDT"}`)

	if h["X-BAPI-API-KEY"] != "mykey" {
		t.Errorf("X-BAPI-API-KEY = %q, want %q", h["X-BAPI-API-KEY"], "mykey")
	}
	if h["X-BAPI-SIGN-TYPE"] != "2" {
		t.Errorf("X-BAPI-SIGN-TYPE = %q, want %q", h["X-BAPI-SIGN-TYPE"], "2")
	}
	if h["X-BAPI-TIMESTAMP"] != "1700000000000" {
		t.Errorf("X-BAPI-TIMESTAMP = %q, want %q", h["X-BAPI-TIMESTAMP"], "1700000000000")
	}
	if h["X-BAPI-RECV-WINDOW"] != "600000" {
		t.Errorf("X-BAPI-RECV-WINDOW = %q, want %q", h["X-BAPI-RECV-WINDOW"], "600000")
	}
	if want := a.Sign(1700000000000, `{"symbol":"BTCUSDT"}`); h["X-BAPI-SIGN"] != want {
		t.Errorf("X-BAPI-SIGN = %q, want %q", h["X-BAPI-SIGN"], want)
	}
}

func TestNewAuthDefaultsRecvWindow(t *testing.T) {
	t.Parallel()
	a := NewAuth("k", "s", 0)
	if a.RecvWindowMS() != DefaultRecvWindowMS {
		t.Errorf("RecvWindowMS() = %d, want %d", a.RecvWindowMS(), DefaultRecvWindowMS)
	}
}
