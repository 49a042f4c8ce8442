package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apperr "LifeSync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterPicksByKind(t *testing.T) {
	var got []string
	rec := func(name string) Sender {
		return SenderFunc(func(ctx context.Context, to string, msg Message) error {
			got = append(got, name+":"+to)
			return nil
		})
	}
	r := NewRouter()
	r.Handle("citizen", rec("app"))
	r.Handle("contact", rec("sms"))

	require.NoError(t, r.Send(context.Background(), "citizen", "c-1", Message{Body: "hi"}))
	require.NoError(t, r.Send(context.Background(), "contact", "+9100", Message{Body: "hi"}))
	assert.Equal(t, []string{"app:c-1", "sms:+9100"}, got)

	err := r.Send(context.Background(), "facility", "f-1", Message{})
	assert.True(t, errors.Is(err, apperr.ErrDeliveryFailure))
}

func TestAnyOfFallsThrough(t *testing.T) {
	var calls int32
	failing := SenderFunc(func(ctx context.Context, to string, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("offline")
	})
	ok := SenderFunc(func(ctx context.Context, to string, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.NoError(t, AnyOf(failing, ok).Send(context.Background(), "x", Message{}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	err := AnyOf(failing, failing).Send(context.Background(), "x", Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}

func TestHTTPSMSClient(t *testing.T) {
	var body smsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Phone == "+910000000000" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sms := NewSMS(SMSConfig{SignName: "LifeSync"}, NewHTTPSMSClient(srv.URL, 0))
	require.NoError(t, sms.Send(context.Background(), "+919999999999", Message{Title: "SOS", Body: "help"}))
	assert.Equal(t, "LifeSync", body.Sign)
	assert.Equal(t, "help", body.Params["body"])

	err := sms.Send(context.Background(), "+910000000000", Message{Body: "help"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPPushClient(t *testing.T) {
	var body pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	p := NewPush(PushConfig{GatewayURL: srv.URL, AppKey: "k"}, NewHTTPPushClient(PushConfig{GatewayURL: srv.URL, AppKey: "k"}, 0))
	require.NoError(t, p.Send(context.Background(), "device-1", Message{Title: "t", Body: "b", Data: map[string]string{"sessionId": "s1"}}))
	assert.Equal(t, "b", body.Content)
	assert.Equal(t, []interface{}{"device-1"}, body.Audience["alias"])
	assert.Equal(t, "s1", body.Extras["sessionId"])

	assert.Error(t, NewPush(PushConfig{}, nil).Send(context.Background(), "d", Message{}))
}
