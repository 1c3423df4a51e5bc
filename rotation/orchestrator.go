package rotation

import (
	"fmt"
	"log/slog"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/sftp"
)

// Orchestrator sequences one poll cycle across a Policy and a Binding.
// Callers drive it explicitly: BeforeTick, then AfterTick on the messages the
// cycle produced, then FinalizeTick once they are handed downstream. A cycle
// whose transport call failed ends with AbortTick instead.
type Orchestrator struct {
	policy    *Policy
	binding   Binding
	factories sftp.Factories
	logger    *slog.Logger
}

// NewOrchestrator builds an orchestrator over a fresh policy for registry.
func NewOrchestrator(registry *Registry, fair bool, factories sftp.Factories, logger *slog.Logger) (*Orchestrator, error) {
	policy, err := NewPolicy(registry, fair)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{policy: policy, factories: factories, logger: logger}, nil
}

// Policy exposes the rotation policy for inspection.
func (o *Orchestrator) Policy() *Policy { return o.policy }

// BoundKey returns the key of the in-flight cycle.
func (o *Orchestrator) BoundKey() (string, bool) { return o.binding.CurrentKey() }

// BeforeTick selects the target for this cycle and binds its key. The bool
// is always true; a false return would skip the tick.
func (o *Orchestrator) BeforeTick() (KeyDirectory, bool) {
	if key, bound := o.binding.CurrentKey(); bound {
		o.logger.Warn("Previous poll cycle was not finalized", "key", key)
	}
	target := o.policy.CurrentTarget()
	o.binding.Bind(target.Key)
	o.logger.Debug("Next poll target", "key", target.Key, "directory", target.Directory, "index", o.policy.Index())
	return target, true
}

// AfterTick attaches the server identity headers of the bound key to msgs.
// Credentials for keys without an explicit entry fall back to the default.
// The binding stays in place.
func (o *Orchestrator) AfterTick(msgs []*message.Message) error {
	key, bound := o.binding.CurrentKey()
	if !bound {
		return errors.WrapFatal(fmt.Errorf("no rotation key bound: %w", errors.ErrNotStarted),
			"Orchestrator", "AfterTick", "decorate messages")
	}
	headers := o.headersFor(key)
	for _, msg := range msgs {
		for k, v := range headers {
			msg.Set(k, v)
		}
	}
	return nil
}

// FinalizeTick ends the cycle: the binding is cleared, then the result is
// reported to the policy.
func (o *Orchestrator) FinalizeTick(hadResults bool) {
	key, _ := o.binding.CurrentKey()
	o.binding.Clear()
	before := o.policy.Index()
	o.policy.OnPollResult(hadResults)
	if !hadResults {
		o.logger.Debug("Poll produced no files", "key", key)
	}
	if !o.policy.Fair() && o.policy.Index() != before {
		next, _ := o.policy.Current()
		o.logger.Debug("Rotating to next target", "from", key, "to", next.Key, "directory", next.Directory)
	}
}

// AbortTick ends a failed cycle. The binding is cleared and rotation state is
// left as it was, so exhaustive mode retries the same target on the next tick.
func (o *Orchestrator) AbortTick(err error) {
	key, _ := o.binding.CurrentKey()
	o.binding.Clear()
	o.logger.Warn("Poll cycle failed", "key", key, "error", err)
}

// Headers returns the server identity headers for the current target, or nil
// before the first selection.
func (o *Orchestrator) Headers() map[string]any {
	target, ok := o.policy.Current()
	if !ok {
		return nil
	}
	return o.headersFor(target.Key)
}

// Credentials returns the resolved credentials for key.
func (o *Orchestrator) Credentials(key string) sftp.Credentials {
	return o.factories.Resolve(key)
}

func (o *Orchestrator) headersFor(key string) map[string]any {
	creds := o.factories.Resolve(key)
	return map[string]any{
		message.HeaderSelectedServer: key,
		message.HeaderHost:           creds.Host,
		message.HeaderPort:           creds.Port,
		message.HeaderUsername:       creds.Username,
		message.HeaderPassword:       creds.Password,
	}
}
