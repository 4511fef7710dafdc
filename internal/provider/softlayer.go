package provider

import (
	"fmt"

	"saltboot/internal/logging"

	"github.com/softlayer/softlayer-go/datatypes"
	"github.com/softlayer/softlayer-go/services"
	"github.com/softlayer/softlayer-go/session"
	"github.com/softlayer/softlayer-go/sl"
	"go.uber.org/zap"
)

// guestMask limits the virtual guest listing to the fields the locator
// needs. operatingSystem.passwords is the field that fills in last on a
// new guest.
const guestMask = "mask[id,fullyQualifiedDomainName,hostname,domain,primaryIpAddress,operatingSystem.passwords]"

// SoftLayer implements Client against the SoftLayer API.
type SoftLayer struct {
	sess *session.Session
}

// NewSoftLayer builds a client from API credentials. An empty endpoint
// selects the SDK's default public endpoint.
func NewSoftLayer(username, apiKey, endpoint string) *SoftLayer {
	if endpoint == "" {
		return &SoftLayer{sess: session.New(username, apiKey)}
	}
	return &SoftLayer{sess: session.New(username, apiKey, endpoint)}
}

// VirtualGuests lists the account's guests with the locator's mask.
func (c *SoftLayer) VirtualGuests() ([]VirtualGuest, error) {
	guests, err := services.GetAccountService(c.sess).Mask(guestMask).GetVirtualGuests()
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual guests: %w", err)
	}

	out := make([]VirtualGuest, 0, len(guests))
	for _, g := range guests {
		out = append(out, fromGuest(g))
	}
	return out, nil
}

// CreateVirtualGuest orders a guest via Virtual_Guest.createObject, which
// blocks until the order is accepted.
func (c *SoftLayer) CreateVirtualGuest(req CreateRequest) error {
	template := datatypes.Virtual_Guest{
		Hostname:                     sl.String(req.Hostname),
		Domain:                       sl.String(req.Domain),
		StartCpus:                    sl.Int(req.CPUs),
		MaxMemory:                    sl.Int(req.MemoryMB),
		HourlyBillingFlag:            sl.Bool(req.HourlyBilling),
		LocalDiskFlag:                sl.Bool(req.LocalDisk),
		OperatingSystemReferenceCode: sl.String(req.OSCode),
		Datacenter: &datatypes.Location{
			Name: sl.String(req.Datacenter),
		},
		SshKeys: []datatypes.Security_Ssh_Key{
			{Id: sl.Int(req.SSHKeyID)},
		},
	}

	logging.Logger().Info("ordering virtual guest",
		zap.String("hostname", req.Hostname),
		zap.String("domain", req.Domain),
		zap.String("datacenter", req.Datacenter))

	if _, err := services.GetVirtualGuestService(c.sess).CreateObject(&template); err != nil {
		return fmt.Errorf("failed to create virtual guest %s.%s: %w", req.Hostname, req.Domain, err)
	}
	return nil
}

// CancelVirtualGuest tears down a guest by ID.
func (c *SoftLayer) CancelVirtualGuest(id int) error {
	if _, err := services.GetVirtualGuestService(c.sess).Id(id).DeleteObject(); err != nil {
		return fmt.Errorf("failed to cancel virtual guest %d: %w", id, err)
	}
	return nil
}

// SSHKeys lists the registered public keys on the account.
func (c *SoftLayer) SSHKeys() ([]SSHKey, error) {
	keys, err := services.GetAccountService(c.sess).GetSshKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to list SSH keys: %w", err)
	}

	out := make([]SSHKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, SSHKey{
			ID:    intVal(k.Id),
			Label: strVal(k.Label),
		})
	}
	return out, nil
}

// AddSSHKey registers a public key under the given label.
func (c *SoftLayer) AddSSHKey(label, publicKey string) (SSHKey, error) {
	created, err := services.GetSecuritySshKeyService(c.sess).CreateObject(&datatypes.Security_Ssh_Key{
		Label: sl.String(label),
		Key:   sl.String(publicKey),
	})
	if err != nil {
		return SSHKey{}, fmt.Errorf("failed to register SSH key %q: %w", label, err)
	}
	return SSHKey{ID: intVal(created.Id), Label: strVal(created.Label)}, nil
}

func fromGuest(g datatypes.Virtual_Guest) VirtualGuest {
	vg := VirtualGuest{
		ID:        intVal(g.Id),
		Hostname:  strVal(g.Hostname),
		Domain:    strVal(g.Domain),
		FQDN:      strVal(g.FullyQualifiedDomainName),
		PrimaryIP: strVal(g.PrimaryIpAddress),
	}
	if g.OperatingSystem != nil {
		for _, p := range g.OperatingSystem.Passwords {
			vg.Passwords = append(vg.Passwords, Password{
				Username: strVal(p.Username),
				Password: strVal(p.Password),
			})
		}
	}
	return vg
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
