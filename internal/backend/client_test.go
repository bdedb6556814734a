package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/session"
)

type staticHeaders struct{}

func (staticHeaders) Headers(existing http.Header) http.Header {
	h := existing.Clone()
	h.Set("X-CSRF-Token", "tok")
	return h
}

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestClient_SignInStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tok", r.Header.Get("X-CSRF-Token"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "renter@example.com", in["email"])
		json.NewEncoder(w).Encode(AuthResult{UserID: "u1", Token: "abc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, staticHeaders{})
	res, err := client.SignIn(context.Background(), "renter@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "abc", client.Token())
}

func TestClient_ErrorMapping(t *testing.T) {
	codes := map[int]error{
		http.StatusUnauthorized:    ErrUnauthorized,
		http.StatusForbidden:       ErrUnauthorized,
		http.StatusTooManyRequests: ErrTooManyRequests,
	}
	for code, want := range codes {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := NewClient(server.URL, nil).UserRoles(context.Background(), "u1")
		assert.ErrorIs(t, err, want)
		server.Close()
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()
	_, err := NewClient(server.URL, nil).UserRoles(context.Background(), "u1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Equal(t, "internal error", se.Message)
}

func TestClient_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", nil)
	_, err := client.VerifyAdmin(context.Background())
	assert.Error(t, err)

	client = NewClient(":bad-url", nil)
	assert.Error(t, client.Health(context.Background()))
}

func TestClient_RPCs(t *testing.T) {
	var lastBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		lastBody = nil
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&lastBody)
		}
		switch r.URL.Path {
		case "/api/v1/rpc/get_user_roles":
			w.Write([]byte(`{"roles":["renter","admin"]}`))
		case "/api/v1/rpc/admin":
			w.Write([]byte(`{"admin":true}`))
		case "/api/v1/rpc/validate_payment_operation":
			w.Write([]byte(`{"allowed":true}`))
		case "/api/v1/rpc/create_checkout_session":
			w.Write([]byte(`{"session_id":"cs_1","url":"https://pay.example/cs_1"}`))
		case "/api/v1/rpc/security_audit_status":
			w.Write([]byte(`{"failed_logins_24h":2,"suspicious_events_24h":1,"chain_intact":true}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	client.SetToken("abc")
	ctx := context.Background()

	roles, err := client.UserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"renter", "admin"}, roles)
	assert.Equal(t, "u1", lastBody["user_id"])

	admin, err := client.VerifyAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, admin)
	assert.Equal(t, "verify", lastBody["action"])

	require.NoError(t, client.LogSecurityEvent(ctx, "u1", "login", "signed in", risk.Medium))
	assert.Equal(t, "medium", lastBody["risk_level"])
	assert.Equal(t, "signed in", lastBody["event_details"])

	require.NoError(t, client.LogPaymentAction(ctx, "u1", secevent.PaymentAction{Action: "initiated", Amount: 1500, PaymentMethod: "card"}))
	assert.Equal(t, "u1", lastBody["user_id"])
	assert.Equal(t, "initiated", lastBody["action"])
	assert.EqualValues(t, 1500, lastBody["amount"])

	ok, err := client.ValidatePaymentOperation(ctx, "u1", "create_checkout", 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	id, url, err := client.CreateCheckoutSession(ctx, "u1", payment.Params{EquipmentID: "eq", EquipmentTitle: "Drone", TotalPrice: 1500})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", id)
	assert.Equal(t, "https://pay.example/cs_1", url)
	assert.Equal(t, "eq", lastBody["equipment_id"])

	st, err := client.AuditStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FailedLogins24h)
	assert.True(t, st.ChainIntact)

	require.NoError(t, client.AdminAction(ctx, AdminRequest{Action: "suspend_user", TargetUserID: "u2", Reason: "fraud"}))
	assert.Equal(t, "u2", lastBody["target_user_id"])
}

func TestClient_CurrentSession(t *testing.T) {
	confirmed := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/session":
			confirmed++
			json.NewEncoder(w).Encode(session.Descriptor{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
		case "/api/v1/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()
	ctx := context.Background()
	client := NewClient(server.URL, nil)

	_, err := client.CurrentSession(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)

	client.SetToken(signed(t, "u1", time.Now().Add(time.Hour)))
	d, err := client.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, 1, confirmed)

	client.SetToken(signed(t, "u1", time.Now().Add(-time.Minute)))
	d, err = client.CurrentSession(ctx)
	require.NoError(t, err)
	assert.False(t, d.ExpiresAt.After(time.Now()))
	assert.Equal(t, 1, confirmed)

	client.SetToken("not-a-jwt")
	_, err = client.CurrentSession(ctx)
	assert.Error(t, err)

	require.NoError(t, client.SignOut(ctx))
	assert.Empty(t, client.Token())
	require.NoError(t, client.SignOut(ctx))
}
