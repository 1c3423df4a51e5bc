package transfer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
)

type vcapService struct {
	Name         string   `json:"name"`
	Label        string   `json:"label"`
	Tags         []string `json:"tags"`
	VolumeMounts []struct {
		ContainerDir string `json:"container_dir"`
		Mode         string `json:"mode"`
	} `json:"volume_mounts"`
}

// VolumeMountDir returns the container directory of the first volume mount
// of the bound service named serviceName, read from VCAP_SERVICES.
func VolumeMountDir(vcapServices, serviceName string) (string, error) {
	if vcapServices == "" {
		return "", errors.WrapInvalid(fmt.Errorf("VCAP_SERVICES is not set: %w", errors.ErrMissingConfig),
			"VolumeMountDir", "parse", "environment check")
	}
	var services map[string][]vcapService
	if err := json.Unmarshal([]byte(vcapServices), &services); err != nil {
		return "", errors.WrapInvalid(err, "VolumeMountDir", "parse", "decode VCAP_SERVICES")
	}
	for label, instances := range services {
		for _, svc := range instances {
			if svc.Name != serviceName && !(svc.Name == "" && label == serviceName) {
				continue
			}
			if len(svc.VolumeMounts) == 0 || svc.VolumeMounts[0].ContainerDir == "" {
				return "", errors.WrapInvalid(
					fmt.Errorf("service %q has no volume mount: %w", serviceName, errors.ErrInvalidConfig),
					"VolumeMountDir", "parse", "volume mount lookup")
			}
			return svc.VolumeMounts[0].ContainerDir, nil
		}
	}
	return "", errors.WrapInvalid(fmt.Errorf("service %q not bound: %w", serviceName, errors.ErrConfigNotFound),
		"VolumeMountDir", "parse", "service lookup")
}

// NewVolumePersister writes below the mount directory of serviceName.
func NewVolumePersister(fs afero.Fs, serviceName string) (*FilePersister, error) {
	dir, err := VolumeMountDir(os.Getenv("VCAP_SERVICES"), serviceName)
	if err != nil {
		return nil, err
	}
	p := NewFilePersister(fs, dir)
	p.destination = "cf_volume"
	return p, nil
}
