// Package tasklaunch turns file messages into task launch requests for a
// standalone task launcher or a Data Flow server.
package tasklaunch

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/sftp"
)

// Type selects the request format.
type Type string

const (
	TypeNone       Type = "none"
	TypeDataflow   Type = "dataflow"
	TypeStandalone Type = "standalone"
)

// Environment property names passed to launched tasks.
const (
	EnvDataSourceURL      = "spring_datasource_url"
	EnvDataSourceUserName = "spring_datasource_username"
	EnvDataSourcePassword = "spring_datasource_password"
)

// Config describes the launch request.
type Config struct {
	Type                        Type              `json:"type"`
	ResourceURI                 string            `json:"resource_uri"`
	ApplicationName             string            `json:"application_name"`
	TaskName                    string            `json:"task_name"`
	TaskNames                   map[string]string `json:"task_names"`
	DataSourceURL               string            `json:"data_source_url"`
	DataSourceUserName          string            `json:"data_source_user_name"`
	DataSourcePassword          string            `json:"data_source_password,omitempty"`
	DeploymentProperties        string            `json:"deployment_properties"`
	EnvironmentProperties       string            `json:"environment_properties"`
	RemoteFilePathParameterName string            `json:"remote_file_path_parameter_name"`
	LocalFilePathParameterName  string            `json:"local_file_path_parameter_name"`
	LocalFilePathParameterValue string            `json:"local_file_path_parameter_value"`
	Parameters                  []string          `json:"parameters"`
}

// DefaultConfig returns a disabled launcher with the usual parameter names
// and an in-memory H2 data source.
func DefaultConfig() Config {
	return Config{
		Type:                        TypeNone,
		DataSourceURL:               "jdbc:h2:tcp://localhost:19092/mem:dataflow",
		DataSourceUserName:          "sa",
		RemoteFilePathParameterName: "remoteFilePath",
		LocalFilePathParameterName:  "localFilePath",
		LocalFilePathParameterValue: os.TempDir(),
	}
}

// Validate checks the type and the property lists.
func (c Config) Validate() error {
	invalid := func(err error) error {
		return errors.WrapInvalid(err, "tasklaunch.Config", "Validate", "task launch config check")
	}
	switch c.Type {
	case "", TypeNone, TypeDataflow, TypeStandalone:
	default:
		return invalid(fmt.Errorf("unknown task launch type %q: %w", c.Type, errors.ErrInvalidConfig))
	}
	if c.Type == TypeStandalone && c.DataSourceURL == "" {
		return invalid(fmt.Errorf("data_source_url is required: %w", errors.ErrMissingConfig))
	}
	if _, err := ParseProperties(c.DeploymentProperties); err != nil {
		return invalid(err)
	}
	if _, err := ParseProperties(c.EnvironmentProperties); err != nil {
		return invalid(err)
	}
	return nil
}

// Enabled reports whether requests are built at all.
func (c Config) Enabled() bool {
	return c.Type == TypeDataflow || c.Type == TypeStandalone
}

// ParseProperties parses "k=v,k2=v2". Empty input is an empty map.
func ParseProperties(s string) (map[string]string, error) {
	props := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return props, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("property %q is not in key=value form: %w", pair, errors.ErrInvalidConfig)
		}
		props[k] = strings.TrimSpace(v)
	}
	return props, nil
}

// StandaloneRequest is the payload for a standalone task launcher.
type StandaloneRequest struct {
	URI                   string            `json:"uri"`
	CommandlineArguments  []string          `json:"commandlineArguments"`
	EnvironmentProperties map[string]string `json:"environmentProperties"`
	DeploymentProperties  map[string]string `json:"deploymentProperties"`
	ApplicationName       string            `json:"applicationName,omitempty"`
}

// DataflowRequest is the payload for a Data Flow task launcher.
type DataflowRequest struct {
	Name            string            `json:"name"`
	Args            []string          `json:"args"`
	DeploymentProps map[string]string `json:"deploymentProps"`
}

// Builder converts emitted file messages into launch requests.
type Builder struct {
	cfg         Config
	listOnly    bool
	multiSource bool
	localDir    string
	defaults    sftp.Credentials
	deploy      map[string]string
	env         map[string]string
}

// NewBuilder validates cfg. localDir is where non list-only files land;
// defaults are the credentials used in single-source mode.
func NewBuilder(cfg Config, listOnly, multiSource bool, localDir string, defaults sftp.Credentials) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deploy, _ := ParseProperties(cfg.DeploymentProperties)
	env, _ := ParseProperties(cfg.EnvironmentProperties)
	if localDir == "" {
		localDir = cfg.LocalFilePathParameterValue
	}
	return &Builder{
		cfg:         cfg,
		listOnly:    listOnly,
		multiSource: multiSource,
		localDir:    localDir,
		defaults:    defaults.WithDefaults(),
		deploy:      deploy,
		env:         env,
	}, nil
}

// Build returns a new message whose payload is the JSON launch request for
// msg. Server identity headers are not carried over. With TypeNone msg is
// returned as is.
func (b *Builder) Build(msg *message.Message) (*message.Message, error) {
	if !b.cfg.Enabled() {
		return msg, nil
	}
	filename := msg.String(message.HeaderFilename)
	if filename == "" {
		filename = string(msg.Payload)
	}

	args := []string{}
	if dir := msg.String(message.HeaderRemoteDirectory); dir != "" {
		args = append(args, b.cfg.RemoteFilePathParameterName+"="+sftp.Join(dir, filename, "/"))
	}

	env := make(map[string]string, len(b.env)+8)
	for k, v := range b.env {
		env[k] = v
	}

	conn := b.connection(msg)
	switch {
	case b.listOnly && b.cfg.Type == TypeDataflow:
		for _, kv := range conn {
			args = append(args, kv[0]+"="+kv[1])
		}
	case b.listOnly:
		for _, kv := range conn {
			env[kv[0]] = kv[1]
		}
	default:
		args = append(args, b.cfg.LocalFilePathParameterName+"="+sftp.Join(b.localDir, filename, string(os.PathSeparator)))
	}
	args = append(args, b.cfg.Parameters...)

	var (
		payload []byte
		err     error
	)
	if b.cfg.Type == TypeDataflow {
		name, nerr := b.taskName(msg)
		if nerr != nil {
			return nil, nerr
		}
		payload, err = json.Marshal(DataflowRequest{Name: name, Args: args, DeploymentProps: b.deploy})
	} else {
		env[EnvDataSourceURL] = b.cfg.DataSourceURL
		env[EnvDataSourceUserName] = b.cfg.DataSourceUserName
		if b.cfg.DataSourcePassword != "" {
			env[EnvDataSourcePassword] = b.cfg.DataSourcePassword
		}
		payload, err = json.Marshal(StandaloneRequest{
			URI:                   b.cfg.ResourceURI,
			CommandlineArguments:  args,
			EnvironmentProperties: env,
			DeploymentProperties:  b.deploy,
			ApplicationName:       b.cfg.ApplicationName,
		})
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "Builder", "Build", "encode launch request")
	}

	out := msg.WithoutPrefix(message.ServerHeaderPrefix)
	out.Payload = payload
	out.Set(message.HeaderContentType, "application/json")
	return out, nil
}

// connection returns the ordered connection properties for list-only
// requests. Multi-source requests read them from the message headers.
func (b *Builder) connection(msg *message.Message) [][2]string {
	if !b.multiSource {
		return [][2]string{
			{message.HeaderHost, b.defaults.Host},
			{message.HeaderUsername, b.defaults.Username},
			{message.HeaderPassword, b.defaults.Password},
			{message.HeaderPort, strconv.Itoa(b.defaults.Port)},
		}
	}
	return [][2]string{
		{message.HeaderHost, msg.String(message.HeaderHost)},
		{message.HeaderPort, msg.String(message.HeaderPort)},
		{message.HeaderUsername, msg.String(message.HeaderUsername)},
		{message.HeaderPassword, msg.String(message.HeaderPassword)},
		{message.HeaderSelectedServer, msg.String(message.HeaderSelectedServer)},
	}
}

func (b *Builder) taskName(msg *message.Message) (string, error) {
	if b.multiSource && len(b.cfg.TaskNames) > 0 {
		key := msg.String(message.HeaderSelectedServer)
		name := b.cfg.TaskNames[key]
		if name == "" {
			return "", errors.WrapInvalid(
				fmt.Errorf("no task name configured for server key %q: %w", key, errors.ErrConfigNotFound),
				"Builder", "taskName", "task name lookup")
		}
		return name, nil
	}
	if b.cfg.TaskName != "" {
		return b.cfg.TaskName, nil
	}
	return b.cfg.ApplicationName, nil
}
