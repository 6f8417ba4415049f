package sshexec

import (
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// ErrNoCredential is returned by ResolveAuth when neither the host row nor
// the environment default supplies a usable credential. Callers must map
// this directly to model.FailureAuthFailed without attempting a dial.
var ErrNoCredential = &credentialError{"no credential available for host"}

type credentialError struct{ msg string }

func (e *credentialError) Error() string { return e.msg }

// Credential is a resolved SSH identity: a username plus one auth method.
type Credential struct {
	User string
	Auth ssh.AuthMethod
}

// ResolveAuth selects the credential for h: the host row's own SSH user and
// key reference first, each falling back to the runner's single configured
// default (cfg.DefaultUser, cfg.DefaultKeyPath). The same default applies
// to hosts of every environment; there is no per-environment default.
// keyRef is a filesystem path to a private key
// in this implementation; a secret-manager-backed resolver would implement
// the same signature.
func ResolveAuth(h *model.Host, cfg config.SSHConfig) (*Credential, error) {
	user := h.SSHUser
	keyRef := h.SSHKeyRef
	if user == "" {
		user = cfg.DefaultUser
	}
	if keyRef == "" {
		keyRef = cfg.DefaultKeyPath
	}
	if user == "" || keyRef == "" {
		return nil, ErrNoCredential
	}

	key, err := os.ReadFile(keyRef)
	if err != nil {
		return nil, ErrNoCredential
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, ErrNoCredential
	}

	return &Credential{User: user, Auth: ssh.PublicKeys(signer)}, nil
}
