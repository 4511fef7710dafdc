package e2e_test

import (
	"errors"
	"io"
	"strings"

	"saltboot/internal/bootstrap"
	"saltboot/internal/config"
	"saltboot/internal/control"
	"saltboot/internal/locate"
	"saltboot/internal/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// FakeAccount plays the SoftLayer account: a scripted guest listing that
// gains a fully provisioned guest when one is created.
type FakeAccount struct {
	Guests    []provider.VirtualGuest
	Keys      []provider.SSHKey
	Created   []provider.CreateRequest
	Cancelled []int
}

func (f *FakeAccount) VirtualGuests() ([]provider.VirtualGuest, error) { return f.Guests, nil }

func (f *FakeAccount) CreateVirtualGuest(req provider.CreateRequest) error {
	f.Created = append(f.Created, req)
	f.Guests = append(f.Guests, provider.VirtualGuest{
		ID:        301,
		Hostname:  req.Hostname,
		Domain:    req.Domain,
		FQDN:      req.Hostname + "." + req.Domain,
		PrimaryIP: "198.51.100.7",
		Passwords: []provider.Password{{Username: "root", Password: "fresh-pass"}},
	})
	return nil
}

func (f *FakeAccount) CancelVirtualGuest(id int) error {
	f.Cancelled = append(f.Cancelled, id)
	return nil
}

func (f *FakeAccount) SSHKeys() ([]provider.SSHKey, error) { return f.Keys, nil }

func (f *FakeAccount) AddSSHKey(label, publicKey string) (provider.SSHKey, error) {
	key := provider.SSHKey{ID: 55, Label: label}
	f.Keys = append(f.Keys, key)
	return key, nil
}

// FakeInstance records what the configuration steps do over SSH.
type FakeInstance struct {
	Commands []string
	Uploads  []string
}

func (f *FakeInstance) Run(command string) (string, string, error) {
	f.Commands = append(f.Commands, command)
	return "", "", nil
}

func (f *FakeInstance) Upload(r io.Reader, remotePath string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.Uploads = append(f.Uploads, remotePath)
	return nil
}

func (f *FakeInstance) Close() error { return nil }

func newBootstrapper(account *FakeAccount, instance *FakeInstance) *bootstrap.Bootstrapper {
	cfg := &config.Config{
		CPUs:            1,
		MemoryMB:        1024,
		HourlyBilling:   true,
		OSCode:          "CENTOS_LATEST",
		Datacenter:      "dal09",
		SaltmasterImage: "saltstack/salt-master",
		CredentialsPath: "/nonexistent/.softlayer",
	}
	b := bootstrap.New(account, cfg)
	b.SetDialFunc(func(control.Config) (control.Executor, error) { return instance, nil })
	return b
}

var _ = Describe("Saltmaster bootstrap", func() {
	var (
		account  *FakeAccount
		instance *FakeInstance
	)

	BeforeEach(func() {
		account = &FakeAccount{}
		instance = &FakeInstance{}
	})

	Context("when the instance already exists with one root password", func() {
		BeforeEach(func() {
			account.Guests = []provider.VirtualGuest{{
				ID:        42,
				Hostname:  "db1",
				Domain:    "example.com",
				FQDN:      "db1.example.com",
				PrimaryIP: "10.0.0.5",
				Passwords: []provider.Password{{Username: "root", Password: "p@ss"}},
			}}
		})

		It("reports the instance with the password redacted and creates nothing", func() {
			res, err := newBootstrapper(account, instance).Run(bootstrap.Options{
				Hostname: "db1",
				Domain:   "example.com",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Created).To(BeFalse())
			Expect(bootstrap.Report(res.Instance, false)).To(Equal("db1.example.com 10.0.0.5 XXXXX 42"))
			Expect(account.Created).To(BeEmpty())
			Expect(instance.Commands).To(BeEmpty())
		})

		It("reveals the password only on request", func() {
			res, err := newBootstrapper(account, instance).Run(bootstrap.Options{
				Hostname: "db1",
				Domain:   "example.com",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(bootstrap.Report(res.Instance, true)).To(Equal("db1.example.com 10.0.0.5 p@ss 42"))
		})
	})

	Context("when the instance is absent and a key label is supplied", func() {
		BeforeEach(func() {
			account.Keys = []provider.SSHKey{{ID: 12, Label: "ops@bastion"}}
		})

		It("creates the instance, installs the saltmaster, and reports it as created", func() {
			res, err := newBootstrapper(account, instance).Run(bootstrap.Options{
				Hostname:  "db1",
				Domain:    "example.com",
				SSHPubKey: "ops@bastion",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Created).To(BeTrue())

			Expect(account.Created).To(HaveLen(1))
			Expect(account.Created[0].SSHKeyID).To(Equal(12))
			Expect(account.Created[0].Datacenter).To(Equal("dal09"))

			Expect(instance.Commands).To(ContainElement(ContainSubstring("yum install -y docker")))
			Expect(instance.Commands).To(ContainElement(ContainSubstring("docker run --name saltmaster")))
			Expect(account.Cancelled).To(BeEmpty())

			Expect(bootstrap.Report(res.Instance, false)).To(
				Equal("db1.example.com 198.51.100.7 XXXXX 301"))
		})

		It("uploads and extracts the seed tree before installing", func() {
			res, err := newBootstrapper(account, instance).Run(bootstrap.Options{
				Hostname:  "db1",
				Domain:    "example.com",
				SSHPubKey: "ops@bastion",
				SeedDir:   GinkgoT().TempDir(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Created).To(BeTrue())
			Expect(instance.Uploads).To(Equal([]string{"/tmp/saltmaster_seed.tar.gz"}))
			Expect(instance.Commands[0]).To(ContainSubstring("tar xzf"))
		})
	})

	Context("when two instances share the requested name and domain", func() {
		BeforeEach(func() {
			account.Guests = []provider.VirtualGuest{
				{ID: 1, Hostname: "db1", Domain: "example.com"},
				{ID: 2, Hostname: "db1", Domain: "example.com"},
			}
		})

		It("fails without creating or cancelling anything", func() {
			_, err := newBootstrapper(account, instance).Run(bootstrap.Options{
				Hostname: "db1",
				Domain:   "example.com",
			})
			var ambiguous *locate.AmbiguousInstanceError
			Expect(errors.As(err, &ambiguous)).To(BeTrue())
			Expect(ambiguous.Matches).To(HaveLen(2))
			Expect(account.Created).To(BeEmpty())
			Expect(account.Cancelled).To(BeEmpty())
		})
	})

	Context("when configuration fails after creation", func() {
		BeforeEach(func() {
			account.Keys = []provider.SSHKey{{ID: 12, Label: "ops@bastion"}}
		})

		It("cancels the partially provisioned instance exactly once", func() {
			failing := &failingInstance{failOn: "yum install -y docker"}
			b := newBootstrapper(account, instance)
			b.SetDialFunc(func(control.Config) (control.Executor, error) { return failing, nil })

			_, err := b.Run(bootstrap.Options{
				Hostname:  "db1",
				Domain:    "example.com",
				SSHPubKey: "ops@bastion",
			})
			Expect(err).To(HaveOccurred())
			Expect(account.Cancelled).To(Equal([]int{301}))
		})
	})
})

// failingInstance fails any command containing failOn.
type failingInstance struct {
	FakeInstance
	failOn string
}

func (f *failingInstance) Run(command string) (string, string, error) {
	if strings.Contains(command, f.failOn) {
		return "", "boom", errors.New("exit status 1")
	}
	return f.FakeInstance.Run(command)
}
