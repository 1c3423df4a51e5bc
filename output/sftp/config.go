package sftp

import (
	"fmt"
	"text/template"

	"github.com/google/uuid"

	"github.com/c360/sftpstreams/errors"
	remote "github.com/c360/sftpstreams/sftp"
)

// Mode decides what happens when the target file already exists.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
	ModeFail    Mode = "fail"
	ModeIgnore  Mode = "ignore"
)

// Config holds configuration for the SFTP sink component
type Config struct {
	Subject string             `json:"subject"`
	Factory remote.Credentials `json:"factory"`

	RemoteDir            string `json:"remote_dir"`
	RemoteFileSeparator  string `json:"remote_file_separator"`
	AutoCreateDir        bool   `json:"auto_create_dir"`
	TmpFileSuffix        string `json:"tmp_file_suffix"`
	UseTemporaryFilename bool   `json:"use_temporary_filename"`
	Mode                 Mode   `json:"mode"`

	// FilenameExpression is a text/template over the message headers, for
	// example `{{.file_name}}.bak`.
	FilenameExpression string `json:"filename_expression,omitempty"`

	Retry errors.RetryConfig `json:"retry"`
}

// DefaultConfig returns the sink defaults: replace files under "/".
func DefaultConfig() Config {
	return Config{
		Subject:              "sftp.files",
		Factory:              remote.DefaultCredentials(),
		RemoteDir:            "/",
		RemoteFileSeparator:  "/",
		AutoCreateDir:        true,
		TmpFileSuffix:        ".tmp",
		UseTemporaryFilename: true,
		Mode:                 ModeReplace,
		Retry:                errors.DefaultRetryConfig(),
	}
}

// Validate checks the sink configuration
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"Config", "Validate", "sink config")
	}
	if c.Subject == "" {
		return invalid("subject is required")
	}
	if c.RemoteDir == "" {
		return invalid("remote_dir is required")
	}
	if c.RemoteFileSeparator == "" {
		return invalid("remote_file_separator is required")
	}
	switch c.Mode {
	case ModeReplace, ModeAppend, ModeFail, ModeIgnore:
	default:
		return invalid("unknown mode %q", c.Mode)
	}
	if c.UseTemporaryFilename && c.Mode != ModeAppend && c.TmpFileSuffix == "" {
		return invalid("tmp_file_suffix is required with use_temporary_filename")
	}
	if _, err := c.filenameTemplate(); err != nil {
		return invalid("filename_expression: %v", err)
	}
	return nil
}

// filenameTemplate parses FilenameExpression, or returns nil when unset.
func (c *Config) filenameTemplate() (*template.Template, error) {
	if c.FilenameExpression == "" {
		return nil, nil
	}
	return template.New("filename").
		Option("missingkey=error").
		Funcs(template.FuncMap{"uuid": uuid.NewString}).
		Parse(c.FilenameExpression)
}
