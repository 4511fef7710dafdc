package locate

import (
	"errors"
	"testing"
	"time"

	"saltboot/internal/provider"
	"saltboot/internal/retry"
)

// fakeClient serves canned virtual guest listings, one per call, sticking
// on the last one once the script runs out.
type fakeClient struct {
	listings [][]provider.VirtualGuest
	listErr  error
	calls    int
}

func (f *fakeClient) VirtualGuests() ([]provider.VirtualGuest, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	i := f.calls
	if i >= len(f.listings) {
		i = len(f.listings) - 1
	}
	f.calls++
	return f.listings[i], nil
}

func (f *fakeClient) CreateVirtualGuest(provider.CreateRequest) error { return nil }
func (f *fakeClient) CancelVirtualGuest(int) error                    { return nil }
func (f *fakeClient) SSHKeys() ([]provider.SSHKey, error)             { return nil, nil }
func (f *fakeClient) AddSSHKey(string, string) (provider.SSHKey, error) {
	return provider.SSHKey{}, nil
}

func guest(id int, hostname, domain, ip string, passwords ...provider.Password) provider.VirtualGuest {
	return provider.VirtualGuest{
		ID:        id,
		Hostname:  hostname,
		Domain:    domain,
		FQDN:      hostname + "." + domain,
		PrimaryIP: ip,
		Passwords: passwords,
	}
}

func TestLocate_NotFoundIsNotAnError(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{
		{guest(7, "other", "example.com", "10.0.0.9")},
	}}

	desc, err := New(client).Locate("db1", "example.com")
	if err != nil {
		t.Fatalf("Locate() error = %v, want nil", err)
	}
	if desc != nil {
		t.Errorf("Locate() = %+v, want nil for absent guest", desc)
	}
}

func TestLocate_ExactMatchOnly(t *testing.T) {
	// Comparison is exact string equality: no prefixes, no case folding.
	client := &fakeClient{listings: [][]provider.VirtualGuest{{
		guest(1, "db1-old", "example.com", "10.0.0.1", provider.Password{Username: "root", Password: "x"}),
		guest(2, "DB1", "example.com", "10.0.0.2", provider.Password{Username: "root", Password: "x"}),
		guest(3, "db1", "example.org", "10.0.0.3", provider.Password{Username: "root", Password: "x"}),
	}}}

	desc, err := New(client).Locate("db1", "example.com")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if desc != nil {
		t.Errorf("Locate() = %+v, want nil: none of the listed guests match exactly", desc)
	}
}

func TestLocate_SingleMatchReturnsImmediately(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{{
		guest(42, "db1", "example.com", "10.0.0.5", provider.Password{Username: "root", Password: "p@ss"}),
	}}}

	start := time.Now()
	desc, err := New(client).Locate("db1", "example.com")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Locate() took %v, want immediate return when metadata is already populated", elapsed)
	}

	want := Descriptor{FQDN: "db1.example.com", IP: "10.0.0.5", RootPassword: "p@ss", ID: 42}
	if *desc != want {
		t.Errorf("Locate() = %+v, want %+v", *desc, want)
	}
}

func TestLocate_PollsUntilPasswordsPopulate(t *testing.T) {
	bare := guest(42, "db1", "example.com", "10.0.0.5")
	ready := guest(42, "db1", "example.com", "10.0.0.5", provider.Password{Username: "root", Password: "p@ss"})
	client := &fakeClient{listings: [][]provider.VirtualGuest{
		{bare}, {bare}, {ready},
	}}

	desc, err := New(client).Locate("db1", "example.com")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if desc.RootPassword != "p@ss" {
		t.Errorf("RootPassword = %q, want %q", desc.RootPassword, "p@ss")
	}
	if client.calls < 3 {
		t.Errorf("client queried %d times, want re-queries until metadata appears", client.calls)
	}
}

func TestLocate_AmbiguousInstance(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{{
		guest(1, "db1", "example.com", "10.0.0.1"),
		guest(2, "db1", "example.com", "10.0.0.2"),
	}}}

	_, err := New(client).Locate("db1", "example.com")
	var ambiguous *AmbiguousInstanceError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Locate() error = %v, want AmbiguousInstanceError", err)
	}
	if len(ambiguous.Matches) != 2 {
		t.Errorf("error carries %d matches, want 2", len(ambiguous.Matches))
	}
	if client.calls != 1 {
		t.Errorf("client queried %d times, want 1: ambiguity must not reach the polling step", client.calls)
	}
}

func TestLocate_AmbiguousRootPassword(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{{
		guest(42, "db1", "example.com", "10.0.0.5",
			provider.Password{Username: "root", Password: "one"},
			provider.Password{Username: "root", Password: "two"}),
	}}}

	_, err := New(client).Locate("db1", "example.com")
	var ambiguous *AmbiguousPasswordError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Locate() error = %v, want AmbiguousPasswordError", err)
	}
	if ambiguous.Count != 2 {
		t.Errorf("error reports %d root passwords, want 2", ambiguous.Count)
	}
}

func TestLocate_NoRootPasswordAmongCredentials(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{{
		guest(42, "db1", "example.com", "10.0.0.5", provider.Password{Username: "admin", Password: "x"}),
	}}}

	_, err := New(client).Locate("db1", "example.com")
	if !errors.Is(err, ErrProvisioningIncomplete) {
		t.Fatalf("Locate() error = %v, want ErrProvisioningIncomplete", err)
	}
}

func TestLocate_MetadataNeverPopulates(t *testing.T) {
	client := &fakeClient{listings: [][]provider.VirtualGuest{
		{guest(42, "db1", "example.com", "10.0.0.5")},
	}}

	l := New(client)
	l.wait = 10 * time.Millisecond

	_, err := l.Locate("db1", "example.com")
	if !errors.Is(err, retry.ErrTimeExceeded) {
		t.Fatalf("Locate() error = %v, want ErrTimeExceeded", err)
	}
}

func TestLocate_ListErrorPropagates(t *testing.T) {
	boom := errors.New("api down")
	client := &fakeClient{listErr: boom}

	_, err := New(client).Locate("db1", "example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("Locate() error = %v, want wrapped list error", err)
	}
}
