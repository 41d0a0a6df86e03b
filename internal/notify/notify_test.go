package notify

import (
	"context"
	"errors"
	"testing"

	"order-hub/internal/logging"
	"order-hub/internal/repo"
	"order-hub/internal/wa"
)

type fakeCloud struct {
	creds wa.Credentials
	id    string
	err   error
	calls int
}

func (f *fakeCloud) SendText(_ context.Context, creds wa.Credentials, _, _ string) (string, error) {
	f.calls++
	f.creds = creds
	return f.id, f.err
}

type fakeDevice struct {
	ready bool
	calls int
}

func (f *fakeDevice) SendText(context.Context, string, string) (string, error) {
	f.calls++
	return "device-1", nil
}

func (f *fakeDevice) Ready() bool { return f.ready }

type journalEntry struct {
	body, providerID string
}

type fakeJournal struct {
	entries []journalEntry
}

func (f *fakeJournal) RecordOutbound(_ context.Context, _ *repo.Tenant, _ *repo.Customer, body, providerID, _ string) error {
	f.entries = append(f.entries, journalEntry{body: body, providerID: providerID})
	return nil
}

func ptr(s string) *string { return &s }

func TestTenantCredentialsOverrideDefaults(t *testing.T) {
	cloud := &fakeCloud{id: "wamid.1"}
	n := New(cloud, Config{Defaults: wa.Credentials{PhoneNumberID: "env-pn", AccessToken: "env-tok"}}, logging.Discard(), nil)
	tenant := &repo.Tenant{ID: "t1", WAPhoneNumberID: ptr("tenant-pn")}

	out := n.Deliver(context.Background(), tenant, "5215511112222", "hola")
	if !out.Delivered() || out.MessageID != "wamid.1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if cloud.creds.PhoneNumberID != "tenant-pn" || cloud.creds.AccessToken != "env-tok" {
		t.Fatalf("unexpected credentials %+v", cloud.creds)
	}
}

func TestProviderFailureIsAValue(t *testing.T) {
	cloud := &fakeCloud{err: errors.New("provider down")}
	journal := &fakeJournal{}
	n := New(cloud, Config{Defaults: wa.Credentials{PhoneNumberID: "pn", AccessToken: "tok"}}, logging.Discard(), nil)
	n.SetJournal(journal)

	out := n.NotifyCustomer(context.Background(), "order_created", &repo.Tenant{ID: "t1"}, &repo.Customer{ID: "c1", Phone: "1"}, "hola")
	if out.Kind != KindFailed || out.Reason != "provider down" {
		t.Fatalf("expected failed outcome, got %+v", out)
	}
	if len(journal.entries) != 0 {
		t.Fatal("failed sends must not be journaled")
	}
}

func TestSkippedWithoutChannel(t *testing.T) {
	n := New(&fakeCloud{}, Config{}, logging.Discard(), nil)
	out := n.Deliver(context.Background(), &repo.Tenant{ID: "t1"}, "1", "x")
	if out.Kind != KindSkipped {
		t.Fatalf("expected skipped, got %+v", out)
	}
	if n.APIEnabled(&repo.Tenant{ID: "t1"}) {
		t.Fatal("expected api disabled")
	}
}

func TestDeviceUsedOnlyForItsTenant(t *testing.T) {
	device := &fakeDevice{ready: true}
	journal := &fakeJournal{}
	n := New(nil, Config{}, logging.Discard(), nil)
	n.SetDevice(device, "t1")
	n.SetJournal(journal)

	out := n.NotifyCustomer(context.Background(), "status", &repo.Tenant{ID: "t1"}, &repo.Customer{ID: "c1", Phone: "1"}, "ready")
	if !out.Delivered() || out.Channel != wa.ChannelDevice {
		t.Fatalf("expected device send, got %+v", out)
	}
	if len(journal.entries) != 1 || journal.entries[0].providerID != "device-1" {
		t.Fatalf("expected journal entry, got %+v", journal.entries)
	}

	out = n.Deliver(context.Background(), &repo.Tenant{ID: "t2"}, "1", "x")
	if out.Kind != KindSkipped || device.calls != 1 {
		t.Fatalf("expected other tenant skipped, got %+v after %d device calls", out, device.calls)
	}
}
