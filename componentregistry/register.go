// Package componentregistry registers the SFTP stream components with a
// component registry.
package componentregistry

import (
	"errors"

	"github.com/c360/sftpstreams/component"
	pkgerrors "github.com/c360/sftpstreams/errors"
	sftpsource "github.com/c360/sftpstreams/input/sftp"
	sftpsink "github.com/c360/sftpstreams/output/sftp"
)

// Register registers every built-in component:
//   - SFTP source (polls one or many servers and publishes file messages)
//   - SFTP sink (writes received messages as remote files)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := sftpsource.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "SFTP source component registration")
	}

	if err := sftpsink.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "SFTP sink component registration")
	}

	return nil
}
