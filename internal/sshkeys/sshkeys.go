// Package sshkeys resolves the --ssh-pub-key argument, which is either a
// local public key file to register with the provider or the label of a
// key the account already holds.
package sshkeys

import (
	"fmt"
	"os"

	"saltboot/internal/logging"
	"saltboot/internal/provider"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// DuplicateLabelError reports a key label that already exists on the
// account. Keys are never overwritten or silently reused; the caller must
// rename the key comment or remove the stale provider key.
type DuplicateLabelError struct {
	Path  string
	Label string
}

func (e *DuplicateLabelError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("key read from %s has label %q which is already registered; "+
			"change the key's comment field, remove the registered key, or pick another key", e.Path, e.Label)
	}
	return fmt.Sprintf("label %q matches more than one registered key", e.Label)
}

// KeyNotFoundError reports a label that matches no registered key.
type KeyNotFoundError struct {
	Label string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("no registered SSH key has label %q; provide the label of an existing key "+
		"or a path to a public key file to register", e.Label)
}

// Handle identifies a provider-side key usable at instance creation.
type Handle struct {
	ID    int
	Label string
}

// Resolve turns pathOrLabel into a provider-side key handle. A value that
// names an existing file is read and registered under a label derived
// from the key's comment field; anything else is treated as the label of
// an already-registered key.
func Resolve(client provider.Client, pathOrLabel string) (*Handle, error) {
	if _, err := os.Stat(pathOrLabel); err == nil {
		return register(client, pathOrLabel)
	}
	return lookup(client, pathOrLabel)
}

func register(client provider.Client, path string) (*Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %s: %w", path, err)
	}

	_, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", path, err)
	}
	if comment == "" {
		return nil, fmt.Errorf("public key %s has no comment field to derive a label from", path)
	}

	existing, err := byLabel(client, comment)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &DuplicateLabelError{Path: path, Label: comment}
	}

	logging.Logger().Info("registering SSH key",
		zap.String("path", path),
		zap.String("label", comment))

	key, err := client.AddSSHKey(comment, string(data))
	if err != nil {
		return nil, err
	}
	return &Handle{ID: key.ID, Label: key.Label}, nil
}

func lookup(client provider.Client, label string) (*Handle, error) {
	matches, err := byLabel(client, label)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, &KeyNotFoundError{Label: label}
	case 1:
		return &Handle{ID: matches[0].ID, Label: matches[0].Label}, nil
	default:
		return nil, &DuplicateLabelError{Label: label}
	}
}

func byLabel(client provider.Client, label string) ([]provider.SSHKey, error) {
	keys, err := client.SSHKeys()
	if err != nil {
		return nil, err
	}

	var matches []provider.SSHKey
	for _, k := range keys {
		if k.Label == label {
			matches = append(matches, k)
		}
	}
	return matches, nil
}
