package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"LifeSync/internal/models"
	"LifeSync/pkg/i18n"
	"LifeSync/pkg/notification"
	"LifeSync/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyTransport 对每个收件人先失败 failures[id] 次
type flakyTransport struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	sent     []notification.Message
	block    chan struct{}
}

func newFlaky(failures map[string]int) *flakyTransport {
	if failures == nil {
		failures = map[string]int{}
	}
	return &flakyTransport{failures: failures, calls: map[string]int{}}
}

func (t *flakyTransport) Send(ctx context.Context, kind, to string, msg notification.Message) error {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[to]++
	if t.calls[to] <= t.failures[to] {
		return errors.New("gateway unavailable")
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *flakyTransport) callsFor(to string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[to]
}

type recorder struct {
	mu   sync.Mutex
	recs []models.DeliveryRecord
}

func (r *recorder) RecordDelivery(sessionID string, rec models.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recorder) final(id string) (models.DeliveryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.recs) - 1; i >= 0; i-- {
		if r.recs[i].RecipientID == id && r.recs[i].State != models.DeliveryPending {
			return r.recs[i], true
		}
	}
	return models.DeliveryRecord{}, false
}

func (r *recorder) all(id string) []models.DeliveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DeliveryRecord
	for _, rec := range r.recs {
		if rec.RecipientID == id {
			out = append(out, rec)
		}
	}
	return out
}

func testConfig(maxAttempts int) Config {
	return Config{
		Workers:     2,
		QueueSize:   8,
		SendTimeout: time.Second,
		Policy: retry.Policy{
			MaxAttempts:       maxAttempts,
			InitialDelay:      2 * time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func start(t *testing.T, cfg Config, tr Transport, rec Recorder, opts ...Option) *Fanout {
	f := New(cfg, tr, rec, opts...)
	f.Start()
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func TestNotifyDeliversToEveryRecipient(t *testing.T) {
	tr := newFlaky(nil)
	rec := &recorder{}
	f := start(t, testConfig(3), tr, rec)

	f.Notify("s1", "assigned@1", notification.Message{Body: "x"}, []models.Recipient{
		{Kind: models.RecipientCitizen, ID: "c1"},
		{Kind: models.RecipientFacility, ID: "f1"},
		{Kind: models.RecipientContact, ID: ""},
	})

	for _, id := range []string{"c1", "f1"} {
		id := id
		require.Eventually(t, func() bool { _, ok := rec.final(id); return ok }, time.Second, 2*time.Millisecond)
		r, _ := rec.final(id)
		assert.Equal(t, models.DeliveryDelivered, r.State)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, "assigned@1", r.Event)
	}
	assert.Equal(t, 0, tr.callsFor(""))
}

func TestRetryThenDeliver(t *testing.T) {
	tr := newFlaky(map[string]int{"c1": 2})
	rec := &recorder{}
	f := start(t, testConfig(5), tr, rec)

	f.Notify("s1", "en_route@1", notification.Message{}, []models.Recipient{{Kind: models.RecipientCitizen, ID: "c1"}})

	require.Eventually(t, func() bool { _, ok := rec.final("c1"); return ok }, time.Second, 2*time.Millisecond)
	all := rec.all("c1")
	require.Len(t, all, 3)
	assert.Equal(t, models.DeliveryPending, all[0].State)
	assert.NotNil(t, all[0].NextRetryAt)
	assert.Equal(t, "gateway unavailable", all[0].LastError)
	assert.Equal(t, models.DeliveryDelivered, all[2].State)
	assert.Equal(t, 3, all[2].Attempts)
}

func TestRetryExhaustedMarksFailed(t *testing.T) {
	tr := newFlaky(map[string]int{"+91": 100})
	rec := &recorder{}
	f := start(t, testConfig(3), tr, rec)

	f.Notify("s1", "resolved@1", notification.Message{}, []models.Recipient{{Kind: models.RecipientContact, ID: "+91"}})

	require.Eventually(t, func() bool { _, ok := rec.final("+91"); return ok }, time.Second, 2*time.Millisecond)
	r, _ := rec.final("+91")
	assert.Equal(t, models.DeliveryFailed, r.State)
	assert.Equal(t, 3, r.Attempts)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, tr.callsFor("+91"))
	for _, x := range rec.all("+91") {
		assert.LessOrEqual(t, x.Attempts, 3)
	}
}

func TestNoRouteFailsImmediately(t *testing.T) {
	router := notification.NewRouter()
	rec := &recorder{}
	f := start(t, testConfig(5), router, rec)

	f.Notify("s1", "activated@1", notification.Message{}, []models.Recipient{{Kind: models.RecipientFacility, ID: "f1"}})

	require.Eventually(t, func() bool { _, ok := rec.final("f1"); return ok }, time.Second, 2*time.Millisecond)
	r, _ := rec.final("f1")
	assert.Equal(t, models.DeliveryFailed, r.State)
	assert.Equal(t, 1, r.Attempts)
}

func TestNotifyNeverBlocks(t *testing.T) {
	tr := newFlaky(nil)
	tr.block = make(chan struct{})
	cfg := testConfig(1)
	cfg.Workers = 1
	cfg.QueueSize = 1
	f := start(t, cfg, tr, &recorder{})

	recipients := make([]models.Recipient, 0, 20)
	for i := 0; i < 20; i++ {
		recipients = append(recipients, models.Recipient{Kind: models.RecipientContact, ID: string(rune('a' + i))})
	}
	done := make(chan struct{})
	go func() {
		f.Notify("s1", "activated@1", notification.Message{}, recipients)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	close(tr.block)
}

func TestOnEventRoutesAndRenders(t *testing.T) {
	tr := newFlaky(nil)
	rec := &recorder{}
	i18nSupport, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)
	names := func(id string) string { return map[string]string{"f1": "City General"}[id] }
	f := start(t, testConfig(3), tr, rec, WithRenderer(NewRenderer(i18nSupport, names)))

	at := time.UnixMilli(1700000000000)
	f.OnEvent(models.SessionEvent{
		Kind:       models.EventState,
		SessionID:  "s1",
		CitizenID:  "c1",
		State:      models.StateAssigned,
		FacilityID: "f1",
		Timestamp:  at,
		Contacts:   []string{"+911"},
	})

	for _, id := range []string{"c1", "f1", "+911"} {
		id := id
		require.Eventually(t, func() bool { _, ok := rec.final(id); return ok }, time.Second, 2*time.Millisecond)
	}
	r, _ := rec.final("c1")
	assert.Equal(t, "assigned@1700000000000", r.Event)

	tr.mu.Lock()
	var bodies []string
	for _, m := range tr.sent {
		bodies = append(bodies, m.Body)
	}
	tr.mu.Unlock()
	assert.Contains(t, bodies, "City General has accepted your emergency and is preparing a response.")

	// delivery_failed 事件不再扇出
	f.OnEvent(models.SessionEvent{Kind: models.EventDeliveryFailed, SessionID: "s1", CitizenID: "c2"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, tr.callsFor("c2"))
}

func TestRecipients(t *testing.T) {
	base := models.SessionEvent{Kind: models.EventState, CitizenID: "c1", Contacts: []string{"+911"}}

	matching := base
	matching.State = models.StateMatching
	assert.Equal(t, []models.Recipient{{Kind: models.RecipientCitizen, ID: "c1"}}, Recipients(matching))

	abandoned := base
	abandoned.State = models.StateAbandoned
	abandoned.Reason = models.ReasonNoCoverage
	assert.Len(t, Recipients(abandoned), 2)
	assert.Equal(t, "sos.abandoned.no_coverage", MessageID(abandoned))

	loc := models.SessionEvent{Kind: models.EventLocation, CitizenID: "c1", State: models.StateMatching}
	assert.Empty(t, Recipients(loc))
	loc.State = models.StateEnRoute
	loc.FacilityID = "f1"
	assert.Equal(t, []models.Recipient{{Kind: models.RecipientFacility, ID: "f1"}}, Recipients(loc))
	assert.Equal(t, "sos.location", MessageID(loc))
}

func TestRenderEnRouteWithDriver(t *testing.T) {
	i18nSupport, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)
	r := NewRenderer(i18nSupport, func(string) string { return "City General" })

	ev := models.SessionEvent{
		Kind:       models.EventState,
		SessionID:  "s1",
		CitizenID:  "c1",
		State:      models.StateEnRoute,
		FacilityID: "f1",
		Driver:     "+91 98480 22338",
		Timestamp:  time.UnixMilli(1700000000000),
	}
	assert.Equal(t, "sos.en_route.driver", MessageID(ev))

	citizen := r.Render(ev, models.Recipient{Kind: models.RecipientCitizen, ID: "c1"})
	assert.Equal(t, "Help from City General is on the way. Driver contact: +91 98480 22338.", citizen.Body)
	assert.Equal(t, "+91 98480 22338", citizen.Data["driverContact"])

	contact := r.Render(ev, models.Recipient{Kind: models.RecipientContact, ID: "+911"})
	assert.Contains(t, contact.Body, "Driver contact: +91 98480 22338")

	ev.Driver = ""
	assert.Equal(t, "sos.en_route", MessageID(ev))
	assert.NotContains(t, r.Render(ev, models.Recipient{Kind: models.RecipientCitizen, ID: "c1"}).Data, "driverContact")
}
