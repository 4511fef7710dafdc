// Package locate resolves a (hostname, domain) pair to a fully populated
// virtual guest record, riding out the window where a new guest's OS
// metadata has not landed yet.
package locate

import (
	"errors"
	"fmt"
	"time"

	"saltboot/internal/logging"
	"saltboot/internal/provider"
	"saltboot/internal/retry"

	"go.uber.org/zap"
)

// metadataWait bounds how long a single matching guest may take to report
// its OS passwords before the lookup gives up.
const metadataWait = 5 * time.Minute

// ErrProvisioningIncomplete means the guest's metadata populated but no
// root password ever appeared in it.
var ErrProvisioningIncomplete = errors.New("virtual guest has no root password")

// AmbiguousInstanceError reports multiple guests matching one
// (hostname, domain) pair. The locator refuses to guess which duplicate
// is authoritative.
type AmbiguousInstanceError struct {
	Hostname string
	Domain   string
	Matches  []provider.VirtualGuest
}

func (e *AmbiguousInstanceError) Error() string {
	return fmt.Sprintf("found %d virtual guests named %s.%s, refusing to pick one",
		len(e.Matches), e.Hostname, e.Domain)
}

// AmbiguousPasswordError reports multiple root passwords on one guest.
type AmbiguousPasswordError struct {
	FQDN  string
	Count int
}

func (e *AmbiguousPasswordError) Error() string {
	return fmt.Sprintf("found %d root passwords for %s, refusing to pick one", e.Count, e.FQDN)
}

// Descriptor is the short-lived snapshot handed to the orchestrator once
// a guest is fully provisioned. A later provider-side change is invisible
// until re-queried.
type Descriptor struct {
	FQDN         string
	IP           string
	RootPassword string
	ID           int
}

// Locator resolves guests against a provider account.
type Locator struct {
	client provider.Client
	wait   time.Duration
}

// New returns a Locator with the standard metadata wait.
func New(client provider.Client) *Locator {
	return &Locator{client: client, wait: metadataWait}
}

// Locate resolves (hostname, domain) to a Descriptor. A nil Descriptor
// with a nil error means no such guest exists; that is a valid answer,
// not a failure. Exactly one match is re-queried until its password list
// is non-empty, then the single root password is extracted.
func (l *Locator) Locate(hostname, domain string) (*Descriptor, error) {
	lookup := func() ([]provider.VirtualGuest, error) {
		logging.Logger().Debug("looking up virtual guest",
			zap.String("hostname", hostname),
			zap.String("domain", domain))

		guests, err := l.client.VirtualGuests()
		if err != nil {
			return nil, err
		}

		var matches []provider.VirtualGuest
		for _, g := range guests {
			if g.Hostname == hostname && g.Domain == domain {
				matches = append(matches, g)
			}
		}
		return matches, nil
	}

	matches, err := lookup()
	if err != nil {
		return nil, err
	}

	switch {
	case len(matches) == 0:
		return nil, nil
	case len(matches) > 1:
		return nil, &AmbiguousInstanceError{Hostname: hostname, Domain: domain, Matches: matches}
	}

	// A guest freshly ordered reports no OS passwords until the install
	// finishes. Repeat the lookup until the record fills in.
	matches, err = retry.UntilTest(l.wait, "virtual guest lookup", lookup,
		func(ms []provider.VirtualGuest) bool {
			return len(ms) > 0 && len(ms[0].Passwords) > 0
		})
	if err != nil {
		return nil, err
	}

	guest := matches[0]
	root, err := rootPassword(guest)
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("resolved virtual guest",
		zap.String("fqdn", guest.FQDN),
		zap.String("ip", guest.PrimaryIP),
		zap.Int("id", guest.ID))

	return &Descriptor{
		FQDN:         guest.FQDN,
		IP:           guest.PrimaryIP,
		RootPassword: root,
		ID:           guest.ID,
	}, nil
}

// rootPassword extracts the guest's root credential. The contract is
// exactly one: none means provisioning never completed, more than one is
// an integrity problem to surface, never to resolve by index.
func rootPassword(g provider.VirtualGuest) (string, error) {
	var roots []string
	for _, p := range g.Passwords {
		if p.Username == "root" {
			roots = append(roots, p.Password)
		}
	}

	switch len(roots) {
	case 1:
		return roots[0], nil
	case 0:
		return "", fmt.Errorf("%s: %w", g.FQDN, ErrProvisioningIncomplete)
	default:
		return "", &AmbiguousPasswordError{FQDN: g.FQDN, Count: len(roots)}
	}
}
