// Package http serves the server-rendered Dutch UI.
//
// This file parses and validates request data: periods, meter values and
// bodies that arrive either form-encoded or as JSON.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"verdeling/internal/core"
)

// MeterFieldPrefix marks the form fields carrying meter values.
const MeterFieldPrefix = "meter:"

// ParsePeriod reads the period from "period" (YYYY-MM) or from "year" and
// "month". Without any of them it returns fallback.
func ParsePeriod(values url.Values, fallback core.YearMonth) (core.YearMonth, error) {
	if v := strings.TrimSpace(values.Get("period")); v != "" {
		return core.ParseYearMonth(v)
	}

	ys := strings.TrimSpace(values.Get("year"))
	ms := strings.TrimSpace(values.Get("month"))
	if ys == "" && ms == "" {
		return fallback, nil
	}

	ym := fallback
	if ys != "" {
		y, err := strconv.Atoi(ys)
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("year %q: %w", ys, core.ErrInvalidYear)
		}
		ym.Year = y
	}
	if ms != "" {
		m, err := strconv.Atoi(ms)
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("month %q: %w", ms, core.ErrInvalidMonth)
		}
		ym.Month = m
	}
	if err := ym.Validate(); err != nil {
		return core.YearMonth{}, err
	}
	return ym, nil
}

// ParseYear reads an optional "year" query value. Zero means unset.
func ParseYear(values url.Values) int {
	y, err := strconv.Atoi(strings.TrimSpace(values.Get("year")))
	if err != nil {
		return 0
	}
	return y
}

// ParseMeterValues collects the submitted meter readings keyed by entry
// field name. Blank inputs are left out so the prefilled value stays;
// anything else goes through the lenient reading parser.
func ParseMeterValues(form url.Values) map[string]float64 {
	out := make(map[string]float64)
	for key, vals := range form {
		field, ok := strings.CutPrefix(key, MeterFieldPrefix)
		if !ok || field == "" || len(vals) == 0 {
			continue
		}
		raw := strings.TrimSpace(vals[len(vals)-1])
		if raw == "" {
			continue
		}
		out[field] = core.ParseReading(raw)
	}
	return out
}

// RequestBodyParser reads a body once and serves values from it whether it
// was sent as JSON (htmx json-enc) or form-encoded.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(r.Body)
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Values returns the parsed data as url.Values.
func (p *RequestBodyParser) Values() url.Values {
	if p.jsonData == nil {
		if p.formData == nil {
			return url.Values{}
		}
		return p.formData
	}
	out := url.Values{}
	for k, v := range p.jsonData {
		out.Set(k, stringValue(v))
	}
	return out
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseFormOrFail parses the request form and returns an error response on
// failure.
func ParseFormOrFail(r *http.Request) *HTMXResponseBuilder {
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Ongeldig verzoek")
	}
	return nil
}
