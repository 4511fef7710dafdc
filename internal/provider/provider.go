// Package provider is the boundary to the SoftLayer account that owns all
// persistent state: virtual guests and registered SSH keys. Nothing is
// stored locally; whatever the account reports is the truth.
package provider

// Password is an OS credential as reported by the provider.
type Password struct {
	Username string
	Password string
}

// VirtualGuest is a snapshot of a virtual guest record. On a freshly
// created guest the password list stays empty until the OS install
// finishes, so callers re-query rather than trusting one read.
type VirtualGuest struct {
	ID        int
	Hostname  string
	Domain    string
	FQDN      string
	PrimaryIP string
	Passwords []Password
}

// SSHKey is a registered public key on the account.
type SSHKey struct {
	ID    int
	Label string
}

// CreateRequest describes the virtual guest to order. Built once per run
// and never mutated after submission.
type CreateRequest struct {
	Hostname      string
	Domain        string
	CPUs          int
	MemoryMB      int
	HourlyBilling bool
	LocalDisk     bool
	OSCode        string
	Datacenter    string
	SSHKeyID      int
}

// Client is the subset of the cloud API this program consumes.
type Client interface {
	// VirtualGuests lists the account's guests with hostname, domain,
	// addressing and OS password metadata populated.
	VirtualGuests() ([]VirtualGuest, error)

	// CreateVirtualGuest submits an order and blocks until the provider
	// accepts it. Acceptance does not mean the OS is installed.
	CreateVirtualGuest(req CreateRequest) error

	// CancelVirtualGuest tears down a guest by ID.
	CancelVirtualGuest(id int) error

	// SSHKeys lists the account's registered public keys.
	SSHKeys() ([]SSHKey, error)

	// AddSSHKey registers a public key under the given label.
	AddSSHKey(label, publicKey string) (SSHKey, error)
}
