package dispatcher

import (
	"errors"
	"testing"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/push"
	"github.com/djlord-it/pushcron/internal/testutil"
)

func TestSendToDevice(t *testing.T) {
	devices := testutil.Devices("ldn", "Europe/London", 2)
	f := newFixture(t, devices...)

	res, err := f.d.SendToDevice(testutil.TestContext(t), "ldn-1", Message{Title: "Hi", Body: "there"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Failed != 0 || len(res.Details) != 1 || res.Details[0].DeviceID != "ldn-1" {
		t.Errorf("unexpected result %+v", res)
	}

	sent := f.notes.byStatus(domain.NotificationStatusSent)
	if len(sent) != 1 {
		t.Fatalf("sent notifications = %d, want 1", len(sent))
	}
	n := sent[0]
	if n.Type != domain.NotificationTypeAdmin || n.Source != "admin:device" || n.SentBy != "alice" {
		t.Errorf("unexpected notification metadata %+v", n)
	}
	if n.ScheduleID != nil || n.ExecutionID != nil {
		t.Error("ad hoc notifications must not reference a schedule")
	}
}

func TestSendToDevice_Errors(t *testing.T) {
	devices := testutil.Devices("ldn", "Europe/London", 1)
	devices[0].PushToken = ""
	f := newFixture(t, devices...)
	ctx := testutil.TestContext(t)

	_, err := f.d.SendToDevice(ctx, "ldn-0", Message{}, "alice")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("empty title: got %v, want ValidationError", err)
	}

	_, err = f.d.SendToDevice(ctx, "nope", Message{Title: "x"}, "alice")
	var nErr *domain.NotFoundError
	if !errors.As(err, &nErr) {
		t.Errorf("unknown device: got %v, want NotFoundError", err)
	}

	_, err = f.d.SendToDevice(ctx, "ldn-0", Message{Title: "x"}, "alice")
	var tErr *domain.TargetingError
	if !errors.As(err, &tErr) {
		t.Errorf("tokenless device: got %v, want TargetingError", err)
	}
	if f.notes.count() != 0 {
		t.Errorf("notifications = %d, want 0", f.notes.count())
	}
}

func TestSendToUser_AllDevicesWithToken(t *testing.T) {
	devices := append(testutil.Devices("u1", "UTC", 3), testutil.Devices("u2", "UTC", 2)...)
	devices[2].PushToken = ""
	f := newFixture(t, devices...)

	res, err := f.d.SendToUser(testutil.TestContext(t), "u1-user", Message{Title: "Yours"}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 {
		t.Errorf("sent = %d, want 2", res.Sent)
	}

	_, err = f.d.SendToUser(testutil.TestContext(t), "ghost", Message{Title: "x"}, "bob")
	var tErr *domain.TargetingError
	if !errors.As(err, &tErr) {
		t.Errorf("unknown user: got %v, want TargetingError", err)
	}
}

func TestBroadcast_PartialFailureAndAnalytics(t *testing.T) {
	devices := testutil.Devices("all", "Asia/Tokyo", 4)
	f := newFixture(t, devices...)
	f.gw.fail[devices[0].PushToken] = errors.New("gateway 500")
	a := &mockAnalytics{}
	f.d.WithAnalytics(a)

	res, err := f.d.Broadcast(testutil.TestContext(t), Message{Title: "News"}, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 3 || res.Failed != 1 {
		t.Errorf("result = %d sent / %d failed, want 3/1", res.Sent, res.Failed)
	}
	for _, n := range f.notes.byStatus(domain.NotificationStatusSent) {
		if n.Type != domain.NotificationTypeBroadcast {
			t.Errorf("type = %s, want broadcast", n.Type)
		}
	}
	if len(a.keys) != 1 || a.keys[0] != string(domain.NotificationTypeBroadcast) || a.sent != 3 || a.failed != 1 {
		t.Errorf("analytics = %+v", a)
	}
}

func TestSendTest_UsesFixedMessageAndEvictsInvalidToken(t *testing.T) {
	devices := testutil.Devices("t", "UTC", 1)
	f := newFixture(t, devices...)
	f.gw.fail[devices[0].PushToken] = push.ErrTokenInvalid

	res, err := f.d.SendTest(testutil.TestContext(t), "t-0", "dave")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	failed := f.notes.byStatus(domain.NotificationStatusFailed)
	if len(failed) != 1 || failed[0].Title != testMessage.Title || failed[0].Type != domain.NotificationTypeTest {
		t.Errorf("unexpected notifications %+v", failed)
	}
	if f.dir.evictions("t-0") != 1 {
		t.Errorf("evictions = %d, want 1", f.dir.evictions("t-0"))
	}
}
