package registry

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-partners/core"
)

func registryError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(core.RedactSensitiveMap(metadata))
	}
	return err
}

func registryWrap(source error, message string, metadata map[string]any) error {
	if source == nil {
		return registryInternal(message, metadata)
	}
	err := goerrors.Wrap(source, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PartnersErrorInternal)
	if len(metadata) > 0 {
		err.WithMetadata(core.RedactSensitiveMap(metadata))
	}
	return err
}

func registryBadInput(message string, metadata map[string]any) error {
	return registryError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.PartnersErrorBadInput,
		metadata,
	)
}

func registryInternal(message string, metadata map[string]any) error {
	return registryError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.PartnersErrorInternal,
		metadata,
	)
}

func duplicateNameError(name string) error {
	return registryError(
		fmt.Sprintf("registry: partner name %q already exists", name),
		goerrors.CategoryConflict,
		http.StatusConflict,
		core.PartnersErrorDuplicateName,
		map[string]any{"partner_name": name},
	)
}

func notFoundError(ref string) error {
	return registryError(
		fmt.Sprintf("registry: partner %q not found", ref),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		core.PartnersErrorNotFound,
		map[string]any{"partner_ref": ref},
	)
}

func invalidTransitionError(from core.PartnerStatus, to core.PartnerStatus, id string) error {
	return registryError(
		fmt.Sprintf("registry: transition %s to %s is not allowed", from, to),
		goerrors.CategoryConflict,
		http.StatusConflict,
		core.PartnersErrorInvalidTransition,
		map[string]any{
			"partner_id":  id,
			"from_status": string(from),
			"to_status":   string(to),
		},
	)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key") ||
		strings.Contains(message, "already exists")
}
