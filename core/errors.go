package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	PartnersErrorBadInput          = "PARTNERS_BAD_INPUT"
	PartnersErrorDuplicateName     = "PARTNERS_DUPLICATE_NAME"
	PartnersErrorNotFound          = "PARTNERS_NOT_FOUND"
	PartnersErrorNotActive         = "PARTNERS_NOT_ACTIVE"
	PartnersErrorInvalidTransition = "PARTNERS_INVALID_TRANSITION"
	PartnersErrorSignatureFormat   = "PARTNERS_SIGNATURE_INVALID_FORMAT"
	PartnersErrorSignatureExpired  = "PARTNERS_SIGNATURE_EXPIRED"
	PartnersErrorSignatureFuture   = "PARTNERS_SIGNATURE_FUTURE_TIMESTAMP"
	PartnersErrorSignatureMismatch = "PARTNERS_SIGNATURE_MISMATCH"
	PartnersErrorDeliveryTimeout   = "PARTNERS_DELIVERY_TIMEOUT"
	PartnersErrorDeliveryHTTP      = "PARTNERS_DELIVERY_HTTP_ERROR"
	PartnersErrorInternal          = "PARTNERS_INTERNAL_ERROR"
)

// PartnerErrorMapper normalizes arbitrary errors into the envelope the
// partner surface exposes: category, HTTP code, text code. Rich errors pass
// through with defaults filled in.
func PartnerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensurePartnerErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return newPartnerError(err.Error(), goerrors.CategoryConflict, PartnersErrorDuplicateName)
	case strings.Contains(msg, "not found"):
		return newPartnerError(err.Error(), goerrors.CategoryNotFound, PartnersErrorNotFound)
	case strings.Contains(msg, "not active"), strings.Contains(msg, "suspended"):
		return newPartnerError(err.Error(), goerrors.CategoryAuthz, PartnersErrorNotActive)
	case strings.Contains(msg, "signature"), strings.Contains(msg, "timestamp"):
		return newPartnerError(err.Error(), goerrors.CategoryAuth, PartnersErrorSignatureMismatch)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newPartnerError(err.Error(), goerrors.CategoryBadInput, PartnersErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensurePartnerErrorEnvelope(mapped)
}

func newPartnerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensurePartnerErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensurePartnerErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = partnerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultPartnerTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultPartnerTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return PartnersErrorBadInput
	case goerrors.CategoryNotFound:
		return PartnersErrorNotFound
	case goerrors.CategoryAuth:
		return PartnersErrorSignatureMismatch
	case goerrors.CategoryAuthz:
		return PartnersErrorNotActive
	case goerrors.CategoryConflict:
		return PartnersErrorDuplicateName
	case goerrors.CategoryOperation:
		return PartnersErrorDeliveryHTTP
	default:
		return PartnersErrorInternal
	}
}

func partnerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
