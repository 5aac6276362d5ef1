// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lattice Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRegistrySourceInvalid      Code = "registry.source.invalid"
	CodeRegistryRefInvalid         Code = "registry.ref.invalid"
	CodeRegistryWhitelistDenied    Code = "registry.whitelist.denied"
	CodeRegistryEntryNotFound      Code = "registry.entry.not_found"
	CodeRegistrySourcesLoadFailure Code = "registry.sources.load.failure"

	CodePluginManifestInvalid Code = "plugin.manifest.validate.invalid"
	CodePluginNotFound        Code = "plugin.not_found"
	CodePluginLoadFailure     Code = "plugin.load.failure"
	CodePluginIDInvalid       Code = "plugin.id.invalid_input"

	CodeFetchDestinationInvalid Code = "fetch.destination.invalid"
	CodeFetchCloneFailure       Code = "fetch.clone.failure"
	CodeFetchCloneTimeout       Code = "fetch.clone.timeout"
	CodeFetchIntegrityViolation Code = "fetch.integrity.violation"

	CodeDepsPackageInvalid      Code = "deps.package.invalid_input"
	CodeDepsCommandFailure      Code = "deps.command.failure"
	CodeDepsManifestReadFailure Code = "deps.manifest.read.failure"

	CodeInstallBackupFailure        Code = "installer.backup.failure"
	CodeInstallAlreadyInstalled     Code = "installer.target.conflict"
	CodeInstallConfirmationRequired Code = "installer.dependencies.confirmation_required"
	CodeInstallMoveFailure          Code = "installer.move.failure"
	CodeInstallRollbackFailure      Code = "installer.rollback.failure"
	CodeUninstallTargetMissing      Code = "installer.uninstall.not_found"

	CodePolicySnapshotWriteFailure Code = "policy.snapshot.write.failure"
	CodePolicySnapshotReadFailure  Code = "policy.snapshot.read.failure"

	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStorePolicyNotFound     Code = "store.policy.get.not_found"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreInvalidInput       Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"

	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPlugin(value string) Attr {
	return Field("plugin", value)
}

func FieldAPI(value string) Attr {
	return Field("api_id", value)
}

func FieldTransaction(value string) Attr {
	return Field("transaction", value)
}

func FieldRef(value string) Attr {
	return Field("ref", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsDenied(err error) bool {
	return reason(CodeOf(err)) == "denied"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsConfirmationRequired reports whether err is the soft
// dependency-confirmation outcome rather than a hard failure.
func IsConfirmationRequired(err error) bool {
	return reason(CodeOf(err)) == "confirmation_required"
}

func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
