package omega

import (
	"context"

	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
	"hivehub.dev/vault"
)

// Config enumerates the governance policy knobs. Defaults are all true.
type Config struct {
	// Enforce aborts actions when the record cannot be persisted.
	Enforce bool

	// BlockOnFailure short-circuits actions when the pre-check fails.
	BlockOnFailure bool

	RequireTimestamp bool
	RequireSource    bool
	RequireAction    bool

	// ISO8601Strict requires the hub timestamp layout; when false any
	// RFC-3339 timestamp passes.
	ISO8601Strict bool

	// ValidateSchema disables all record validation when false.
	ValidateSchema bool
}

// DefaultConfig returns the default policy with every knob enabled.
func DefaultConfig() Config {
	return Config{
		Enforce:          true,
		BlockOnFailure:   true,
		RequireTimestamp: true,
		RequireSource:    true,
		RequireAction:    true,
		ISO8601Strict:    true,
		ValidateSchema:   true,
	}
}

// Journal persists governance records. The notebook vault implements it.
type Journal interface {
	EnsureWritable() error
	AppendLog(entry vault.LogEntry) (string, error)
}

// Omega is the four-step governance pipeline: pre-check, validate,
// write, post-verify. It implements the dispatcher guard.
type Omega struct {
	journal Journal
	cfg     Config
}

// New creates the pipeline over journal.
func New(journal Journal, cfg Config) *Omega {
	return &Omega{journal: journal, cfg: cfg}
}

// PreCheck verifies the journal is writable. Under BlockOnFailure a
// failed check becomes GovernanceBlocked; otherwise it is logged and the
// action proceeds.
func (o *Omega) PreCheck() error {
	if err := o.journal.EnsureWritable(); err != nil {
		if o.cfg.BlockOnFailure {
			return fault.Wrap(fault.GovernanceBlocked, err, "notebook vault is not writable")
		}
		common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Governance pre-check failed, continuing")
	}
	return nil
}

// Commit validates and persists one record, reporting whether it was
// written. A write failure aborts the action only under Enforce.
func (o *Omega) Commit(record Record) (bool, error) {
	if err := record.Validate(o.cfg); err != nil {
		return false, err
	}

	if _, err := o.journal.AppendLog(record.logEntry()); err != nil {
		if o.cfg.Enforce {
			return false, fault.Wrap(fault.GovernanceBlocked, err, "cannot persist governance record")
		}
		common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Governance record not persisted, continuing")
		return false, nil
	}
	return true, nil
}

// Before implements the dispatcher guard: pre-check, then the pre-record
// for the tool call. A failure here stops the call.
func (o *Omega) Before(ctx context.Context, server, tool string, args map[string]interface{}) error {
	if err := o.PreCheck(); err != nil {
		return err
	}

	record := NewRecord(TypeToolCall, server, tool, map[string]interface{}{
		"arguments": summarizeArgs(args),
	})
	_, err := o.Commit(record)
	return err
}

// After emits the result record for a call that ran. The action already
// happened, so persistence problems here are logged, never raised.
func (o *Omega) After(ctx context.Context, server, tool string, result *mcp.CallResult, callErr error) {
	data := map[string]interface{}{"success": callErr == nil}
	if callErr != nil {
		data["error"] = callErr.Error()
		if kind := fault.KindOf(callErr); kind != "" {
			data["kind"] = string(kind)
		}
	} else {
		data["result"] = truncate(result.Text(), maxSummaryChars)
	}

	record := NewRecord(TypeToolCall, server, tool+"_result", data)
	if _, err := o.Commit(record); err != nil {
		common.Logger.WithFields(logrus.Fields{
			"tool":  tool,
			"error": err.Error(),
		}).Warn("Governance result record failed")
	}
}

// WrapToolCall runs fn under the full pipeline for programmatic
// invocations that bypass the dispatcher.
func (o *Omega) WrapToolCall(ctx context.Context, source, action string, data map[string]interface{}, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := o.PreCheck(); err != nil {
		return nil, err
	}
	if _, err := o.Commit(NewRecord(TypeToolCall, source, action, data)); err != nil {
		return nil, err
	}

	result, err := fn(ctx)

	after := map[string]interface{}{"success": err == nil}
	if err != nil {
		after["error"] = err.Error()
	} else {
		after["result"] = summarizeValue(result)
	}
	if _, commitErr := o.Commit(NewRecord(TypeToolCall, source, action+"_result", after)); commitErr != nil {
		common.Logger.WithFields(logrus.Fields{
			"action": action,
			"error":  commitErr.Error(),
		}).Warn("Governance result record failed")
	}
	return result, err
}
