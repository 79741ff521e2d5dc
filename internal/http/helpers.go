package http

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"verdeling/internal/auth"
	"verdeling/internal/billing"
	"verdeling/internal/core"
	"verdeling/internal/ports"
	"verdeling/internal/services"
)

// storeTimeout bounds every store-backed handler.
const storeTimeout = 7 * time.Second

func withStoreTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), storeTimeout)
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func escape(s string) string {
	return template.HTMLEscapeString(s)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

var validationErrors = []error{
	core.ErrInvalidYear,
	core.ErrInvalidMonth,
	core.ErrInvalidAmount,
	core.ErrEmptyName,
	core.ErrEmptySpace,
	core.ErrDuplicateSpace,
	core.ErrReservedSpace,
	core.ErrInvalidStatus,
	billing.ErrInvalidTransition,
	services.ErrBeforeInitial,
	auth.ErrWeakPassword,
	ports.ErrConflict,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// userMessage is the Dutch text shown for err.
func userMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidYear), errors.Is(err, core.ErrInvalidMonth):
		return "Ongeldige maand"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Ongeldig bedrag"
	case errors.Is(err, core.ErrInvalidStatus):
		return "Ongeldige status"
	case errors.Is(err, ports.ErrConflict):
		return "Er bestaat al een record voor deze maand"
	case errors.Is(err, services.ErrBeforeInitial):
		return "Deze maand ligt voor de beginstanden"
	case errors.Is(err, billing.ErrInvalidTransition):
		return "Deze actie is niet mogelijk voor deze maand"
	case errors.Is(err, services.ErrPartialFailure):
		return "Niet alle meterstanden zijn verwerkt. Probeer het opnieuw."
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Onjuist e-mailadres of wachtwoord"
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "Je sessie is verlopen. Log opnieuw in."
	case isValidation(err):
		return "Ongeldige invoer"
	default:
		return "Er ging iets mis. Probeer het later opnieuw."
	}
}

// writeError maps err onto the response: missing data is a 200 panel,
// validation problems 422, auth problems 401 and the rest 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, component, op string, err error) {
	switch {
	case errors.Is(err, billing.ErrNotFound), errors.Is(err, ports.ErrNotFound):
		NoDataResponse("Geen gegevens beschikbaar voor deze periode").Write(w)
	case isValidation(err):
		UnprocessableEntityError(userMessage(err)).Write(w)
	case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		UnauthorizedError(userMessage(err)).Write(w)
	default:
		s.events.LogError(r.Context(), "Request failed", err, component, op, nil)
		InternalServerError(userMessage(err)).Write(w)
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"amount":  core.FormatAmount,
		"kwh":     core.FormatKwh,
		"percent": core.FormatPercent,
		"field":   func(key string) string { return MeterFieldPrefix + key },
	}
}
