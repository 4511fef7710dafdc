// Package bootstrap drives the provision-then-configure flow: locate an
// existing saltmaster guest, or create one, wait for it to become
// reachable, configure it over SSH, and tear it down again if anything
// fails along the way.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"saltboot/internal/archive"
	"saltboot/internal/config"
	"saltboot/internal/control"
	"saltboot/internal/locate"
	"saltboot/internal/logging"
	"saltboot/internal/provider"
	"saltboot/internal/sshkeys"

	"go.uber.org/zap"
)

// sshWait bounds how long each configuration step may wait for an SSH
// session before giving up.
const sshWait = 5 * time.Minute

// seedArchivePath is where the packaged seed tree lands on the instance
// before extraction at /.
const seedArchivePath = "/tmp/saltmaster_seed.tar.gz"

// installDockerCmd and the saltmaster container run assume a CentOS image.
const installDockerCmd = "yum install -y docker && systemctl enable docker && systemctl start docker"

const installCLICmd = "yum install -y epel-release && yum update -y && yum install -y python-pip && pip install SoftLayer"

// ErrKeyRequired is returned when a new instance is needed but no SSH
// public key argument was supplied.
var ErrKeyRequired = errors.New("an SSH public key path or label is required to create a new instance")

// Options are the per-run inputs.
type Options struct {
	Hostname string
	Domain   string
	// SSHPubKey is a local public key path or a provider-side key label
	SSHPubKey string
	// SeedDir, if set, is a directory tree to overlay onto the instance
	// filesystem root
	SeedDir string
	// AddSLCLI installs the SoftLayer CLI on the instance and copies the
	// local credentials file over
	AddSLCLI bool
}

// Result reports the instance the run ended on and whether this run
// created it.
type Result struct {
	Instance *locate.Descriptor
	Created  bool
}

// DialFunc opens a remote-execution session; swappable in tests.
type DialFunc func(control.Config) (control.Executor, error)

// Bootstrapper owns one run's provisioning flow.
type Bootstrapper struct {
	client  provider.Client
	locator *locate.Locator
	cfg     *config.Config
	dial    DialFunc
}

// New builds a Bootstrapper on the given provider client.
func New(client provider.Client, cfg *config.Config) *Bootstrapper {
	return &Bootstrapper{
		client:  client,
		locator: locate.New(client),
		cfg:     cfg,
		dial: func(c control.Config) (control.Executor, error) {
			return control.Dial(c)
		},
	}
}

// SetDialFunc replaces how configuration steps open remote sessions.
// Test suites substitute a fake executor here.
func (b *Bootstrapper) SetDialFunc(dial DialFunc) {
	b.dial = dial
}

// Run executes the full flow. Failures after instance creation cancel the
// partially provisioned instance before returning; failures before it
// leave the account untouched.
func (b *Bootstrapper) Run(opts Options) (*Result, error) {
	desc, err := b.locator.Locate(opts.Hostname, opts.Domain)
	if err != nil {
		return nil, err
	}
	if desc != nil {
		logging.Logger().Info("virtual guest already exists",
			zap.String("fqdn", desc.FQDN),
			zap.Int("id", desc.ID))
		return &Result{Instance: desc, Created: false}, nil
	}

	// Nothing exists yet, so a key-resolution failure aborts cleanly
	// with no rollback needed.
	if opts.SSHPubKey == "" {
		return nil, ErrKeyRequired
	}
	key, err := sshkeys.Resolve(b.client, opts.SSHPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SSH key: %w", err)
	}

	req := b.cfg.CreateRequest(opts.Hostname, opts.Domain, key.ID)
	if err := b.client.CreateVirtualGuest(req); err != nil {
		return nil, err
	}

	// From here on a guest exists on the account; any failure must
	// cancel it before surfacing.
	desc, err = b.locator.Locate(opts.Hostname, opts.Domain)
	if err != nil {
		return nil, b.rollback(opts, desc, err)
	}
	if desc == nil {
		return nil, b.rollback(opts, nil,
			fmt.Errorf("virtual guest %s.%s not found after creation: %w",
				opts.Hostname, opts.Domain, locate.ErrProvisioningIncomplete))
	}

	if err := b.configure(desc, opts); err != nil {
		return nil, b.rollback(opts, desc, err)
	}

	return &Result{Instance: desc, Created: true}, nil
}

// configure runs the post-boot steps. Each step dials its own session and
// releases it before the next step starts.
func (b *Bootstrapper) configure(desc *locate.Descriptor, opts Options) error {
	if opts.SeedDir != "" {
		if err := b.withSession(desc, func(x control.Executor) error {
			return b.uploadSeed(x, opts.SeedDir)
		}); err != nil {
			return err
		}
	}

	if err := b.withSession(desc, b.installSaltmaster); err != nil {
		return err
	}

	if opts.AddSLCLI {
		if err := b.withSession(desc, b.installSLCLI); err != nil {
			return err
		}
	}

	return nil
}

// withSession dials the instance within the SSH wait budget, runs fn, and
// closes the session on every exit path.
func (b *Bootstrapper) withSession(desc *locate.Descriptor, fn func(control.Executor) error) error {
	x, err := b.dial(control.Config{
		Host:         desc.IP,
		User:         "root",
		Password:     desc.RootPassword,
		ConnectLimit: sshWait,
		InstanceName: desc.FQDN,
	})
	if err != nil {
		return err
	}
	defer safeClose(desc.FQDN, x)

	return fn(x)
}

// uploadSeed packages the seed directory, transfers it, and unpacks it at
// the instance root. Extraction failures are logged but not fatal; the
// seed overlay is an optional step.
func (b *Bootstrapper) uploadSeed(x control.Executor, seedDir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.PackDir(seedDir, pw))
	}()

	if err := x.Upload(pr, seedArchivePath); err != nil {
		return fmt.Errorf("failed to upload seed archive: %w", err)
	}

	cmd := fmt.Sprintf("ARCHIVE=%s; tar xzf $ARCHIVE -C / && rm -f $ARCHIVE", seedArchivePath)
	if _, stderr, err := x.Run(cmd); err != nil {
		logging.Logger().Warn("seed archive extraction failed",
			zap.String("seed_dir", seedDir),
			zap.String("stderr", logging.Truncate(stderr)),
			zap.Error(err))
		return nil
	}

	logging.Logger().Info("seed directory uploaded and extracted",
		zap.String("seed_dir", seedDir))
	return nil
}

// installSaltmaster installs docker and starts the saltmaster container.
// This is the mandatory step: a failure here fails the run.
func (b *Bootstrapper) installSaltmaster(x control.Executor) error {
	if _, stderr, err := x.Run(installDockerCmd); err != nil {
		return fmt.Errorf("failed to install docker (stderr: %s): %w", logging.Truncate(stderr), err)
	}

	runCmd := fmt.Sprintf("mkdir -p /etc/salt && docker run --name saltmaster -v /etc/salt:/etc/salt -v /srv:/srv -d %s", b.cfg.SaltmasterImage)
	if _, stderr, err := x.Run(runCmd); err != nil {
		return fmt.Errorf("failed to start saltmaster container (stderr: %s): %w", logging.Truncate(stderr), err)
	}

	return nil
}

// installSLCLI copies the local credentials file onto the instance and
// installs the SoftLayer CLI. Best effort: the saltmaster works without it.
func (b *Bootstrapper) installSLCLI(x control.Executor) error {
	creds, err := os.Open(b.cfg.CredentialsPath)
	if err != nil {
		logging.Logger().Warn("credentials file not readable, skipping CLI install",
			zap.String("path", b.cfg.CredentialsPath),
			zap.Error(err))
		return nil
	}
	defer safeClose("credentials file", creds)

	if err := x.Upload(creds, "/root/.softlayer"); err != nil {
		return fmt.Errorf("failed to copy credentials file: %w", err)
	}

	if _, stderr, err := x.Run(installCLICmd); err != nil {
		logging.Logger().Warn("SoftLayer CLI install failed",
			zap.String("stderr", logging.Truncate(stderr)),
			zap.Error(err))
	}
	return nil
}

// rollback cancels the partially provisioned instance, if one was
// obtained, and returns the original failure.
func (b *Bootstrapper) rollback(opts Options, desc *locate.Descriptor, cause error) error {
	fmt.Fprintf(os.Stderr, "Failed to create and provision instance named: %s. Hosing it. Original error: %v\n",
		opts.Hostname, cause)

	if desc == nil {
		return cause
	}

	logging.Logger().Warn("hosing partially provisioned instance",
		zap.String("fqdn", desc.FQDN),
		zap.Int("id", desc.ID),
		zap.Error(cause))

	if cancelErr := b.client.CancelVirtualGuest(desc.ID); cancelErr != nil {
		logging.Logger().Error("failed to cancel instance during rollback",
			zap.Int("id", desc.ID),
			zap.Error(cancelErr))
	}
	return cause
}

func safeClose(name string, closer io.Closer) {
	if err := closer.Close(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// Report renders the final instance line: fqdn, IP, root password, ID,
// space-separated. The password is redacted unless explicitly requested.
func Report(d *locate.Descriptor, showRootPass bool) string {
	pass := "XXXXX"
	if showRootPass {
		pass = d.RootPassword
	}
	return fmt.Sprintf("%s %s %s %d", d.FQDN, d.IP, pass, d.ID)
}
