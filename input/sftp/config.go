package sftp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/metadata"
	"github.com/c360/sftpstreams/pkg/trigger"
	remote "github.com/c360/sftpstreams/sftp"
	"github.com/c360/sftpstreams/tasklaunch"
	"github.com/c360/sftpstreams/transfer"
)

// Payload modes for files synchronized to the local directory.
const (
	ModeRef      = "ref"
	ModeContents = "contents"
	ModeLines    = "lines"
)

// InputConfig holds configuration for the SFTP source component
type InputConfig struct {
	Subject string `json:"subject"`

	// Connection settings. Factory is the default; Factories holds per-key
	// credentials for multi-source polling.
	Factory   remote.Credentials            `json:"factory"`
	Factories map[string]remote.Credentials `json:"factories,omitempty"`

	// Directories enables multi-source polling with "key.directory" entries.
	Directories []string `json:"directories,omitempty"`
	Fair        bool     `json:"fair"`

	RemoteDir           string `json:"remote_dir"`
	RemoteFileSeparator string `json:"remote_file_separator"`
	TmpFileSuffix       string `json:"tmp_file_suffix"`
	LocalDir            string `json:"local_dir"`
	AutoCreateLocalDir  bool   `json:"auto_create_local_dir"`
	DeleteRemoteFiles   bool   `json:"delete_remote_files"`
	PreserveTimestamp   bool   `json:"preserve_timestamp"`
	FilenamePattern     string `json:"filename_pattern,omitempty"`
	FilenameRegex       string `json:"filename_regex,omitempty"`

	Stream     bool   `json:"stream"`
	ListOnly   bool   `json:"list_only"`
	Mode       string `json:"mode"` // ref, contents or lines for synchronized files
	MaxFetch   int    `json:"max_fetch"`
	TransferTo string `json:"transfer_to,omitempty"`

	TaskLauncherOutput bool              `json:"task_launcher_output"`
	Task               tasklaunch.Config `json:"task"`

	Trigger  trigger.Config  `json:"trigger"`
	Metadata metadata.Config `json:"metadata"`

	S3          transfer.S3Config          `json:"s3"`
	NFS         transfer.VolumeConfig      `json:"nfs"`
	ObjectStore transfer.ObjectStoreConfig `json:"object_store"`

	Retry errors.RetryConfig `json:"retry"`
}

// DefaultConfig returns the source defaults: poll "/" every second and sync
// files into $TMPDIR/sftp-source.
func DefaultConfig() InputConfig {
	return InputConfig{
		Subject:             "sftp.files",
		Factory:             remote.DefaultCredentials(),
		RemoteDir:           "/",
		RemoteFileSeparator: "/",
		TmpFileSuffix:       ".tmp",
		LocalDir:            filepath.Join(os.TempDir(), "sftp-source"),
		AutoCreateLocalDir:  true,
		PreserveTimestamp:   true,
		Mode:                ModeRef,
		TransferTo:          transfer.ToNone,
		Task:                tasklaunch.DefaultConfig(),
		Trigger:             trigger.DefaultConfig(),
		Metadata:            metadata.DefaultConfig(),
		S3:                  transfer.DefaultS3Config(),
		NFS:                 transfer.DefaultVolumeConfig(),
		ObjectStore:         transfer.DefaultObjectStoreConfig(),
		Retry:               errors.DefaultRetryConfig(),
	}
}

// MultiSource reports whether directories drive the poll target.
func (c *InputConfig) MultiSource() bool {
	return len(c.Directories) > 0
}

func (c *InputConfig) transferring() bool {
	return c.TransferTo != "" && c.TransferTo != transfer.ToNone
}

func (c *InputConfig) factories() remote.Factories {
	return remote.Factories{Default: c.Factory, Keyed: c.Factories}
}

func (c *InputConfig) transferOptions() transfer.Options {
	return transfer.Options{
		LocalDir:    c.LocalDir,
		S3:          c.S3,
		NFS:         c.NFS,
		ObjectStore: c.ObjectStore,
	}
}

// Validate checks the source configuration
func (c *InputConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"InputConfig", "Validate", "source config")
	}

	if c.Subject == "" {
		return invalid("subject is required")
	}
	if c.FilenamePattern != "" && c.FilenameRegex != "" {
		return invalid("filename_pattern and filename_regex are mutually exclusive")
	}
	if c.RemoteFileSeparator == "" {
		return invalid("remote_file_separator is required")
	}

	modes := 0
	for _, on := range []bool{c.ListOnly, c.Stream, c.transferring()} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return invalid("list_only, stream and transfer_to are mutually exclusive")
	}
	if c.TaskLauncherOutput && (c.Stream || c.transferring()) {
		return invalid("task_launcher_output cannot be combined with stream or transfer_to")
	}
	if c.TaskLauncherOutput && !c.Task.Enabled() {
		return invalid("task_launcher_output needs task.type dataflow or standalone")
	}

	switch c.Mode {
	case "", ModeRef, ModeContents, ModeLines:
	default:
		return invalid("unknown mode %q", c.Mode)
	}

	if c.MultiSource() {
		for key := range c.Factories {
			if key == "" {
				return invalid("factories keys cannot be empty")
			}
		}
	} else if c.RemoteDir == "" {
		return invalid("remote_dir is required")
	}

	if !c.ListOnly && !c.Stream && !c.transferring() && c.LocalDir == "" {
		return invalid("local_dir is required")
	}
	if err := transfer.ValidateDestination(c.TransferTo, c.transferOptions()); err != nil {
		return err
	}
	if c.TaskLauncherOutput {
		if err := c.Task.Validate(); err != nil {
			return err
		}
	}
	if err := c.Trigger.Validate(); err != nil {
		return err
	}
	return c.Metadata.Validate()
}
