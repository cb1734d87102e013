package regional

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// Validation step names a document format can require.
const (
	StepFormat   = "format"
	StepChecksum = "checksum"
	StepValidity = "validity"
)

// DocumentFormat is the regional rule set for one document type.
type DocumentFormat struct {
	Length           int      `yaml:"length"`
	Pattern          string   `yaml:"pattern,omitempty"`
	RequiresExpiry   bool     `yaml:"requires_expiry"`
	MaxValidityYears int      `yaml:"max_validity_years"`
	Steps            []string `yaml:"steps"`
}

// ChecksumValidator is the external collaborator contract for
// country-specific check-digit routines. The core never implements the
// digit arithmetic itself; deployments plug a validator in at boot.
type ChecksumValidator interface {
	// ValidateChecksum reports whether the number's check digits are
	// consistent for the given document type. An error means the routine
	// was unavailable; the document is then scored without this step.
	ValidateChecksum(docType, number string) (bool, error)
}

// DocumentValidation is the regional verdict on a submitted document.
// Flags reuse TxFlag so the consumer can turn them into risk signals the
// same way transaction findings are.
type DocumentValidation struct {
	Valid          bool     `json:"valid"`
	Risk           float64  `json:"risk"`
	Flags          []TxFlag `json:"flags,omitempty"`
	StepsPerformed []string `json:"steps_performed,omitempty"`
}

var docPatternCache sync.Map // pattern string -> *regexp.Regexp

func docPattern(pattern string) *regexp.Regexp {
	if cached, ok := docPatternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil
	}
	docPatternCache.Store(pattern, re)
	return re
}

// normalizeDocNumber strips the separators document numbers commonly arrive
// with (CPF dots and dash, CNPJ slash, spacing).
func normalizeDocNumber(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '/':
			return -1
		}
		return r
	}, number)
}

func (a *tableAnalyzer) ValidateDocument(doc *models.DocumentEvent, at time.Time) DocumentValidation {
	var out DocumentValidation
	if doc == nil {
		return out
	}

	format, ok := a.table.Documents[strings.ToLower(doc.DocumentType)]
	if !ok {
		out.Flags = append(out.Flags, TxFlag{Name: "unknown_document_type", Value: 0.4, Confidence: 0.8})
		out.Risk = capRisk(sumFlags(out.Flags))
		return out
	}

	number := normalizeDocNumber(doc.DocumentNumber)

	if stepRequired(format.Steps, StepFormat) {
		out.StepsPerformed = append(out.StepsPerformed, StepFormat)
		if !formatValid(format, number) {
			out.Flags = append(out.Flags, TxFlag{Name: "document_format_invalid", Value: 0.5, Confidence: 0.9})
		}
	}

	if doc.IssuingCountry != "" && !strings.EqualFold(doc.IssuingCountry, a.table.CountryCode) {
		out.Flags = append(out.Flags, TxFlag{Name: "foreign_document", Value: 0.3, Confidence: 0.8})
	}

	if stepRequired(format.Steps, StepChecksum) && a.checksums != nil {
		valid, err := a.checksums.ValidateChecksum(strings.ToLower(doc.DocumentType), number)
		if err == nil {
			out.StepsPerformed = append(out.StepsPerformed, StepChecksum)
			if !valid {
				out.Flags = append(out.Flags, TxFlag{Name: "document_checksum_failed", Value: 0.7, Confidence: 0.95})
			}
		}
	}

	if stepRequired(format.Steps, StepValidity) {
		out.StepsPerformed = append(out.StepsPerformed, StepValidity)
		out.Flags = append(out.Flags, validityFlags(format, doc, at)...)
	}

	out.Risk = capRisk(sumFlags(out.Flags))
	out.Valid = len(out.Flags) == 0
	return out
}

func formatValid(format DocumentFormat, number string) bool {
	if number == "" {
		return false
	}
	if format.Length > 0 && len(number) != format.Length {
		return false
	}
	if format.Pattern != "" {
		re := docPattern(format.Pattern)
		if re == nil || !re.MatchString(number) {
			return false
		}
	}
	return true
}

func validityFlags(format DocumentFormat, doc *models.DocumentEvent, at time.Time) []TxFlag {
	var flags []TxFlag

	if doc.IssueDate != nil && doc.IssueDate.After(at) {
		flags = append(flags, TxFlag{Name: "document_issue_date_future", Value: 0.5, Confidence: 0.9})
	}

	switch {
	case doc.ExpiryDate != nil:
		if doc.ExpiryDate.Before(at) {
			flags = append(flags, TxFlag{Name: "document_expired", Value: 0.6, Confidence: 0.95})
		}
	case format.RequiresExpiry:
		flags = append(flags, TxFlag{Name: "document_missing_expiry", Value: 0.3, Confidence: 0.7})
		if doc.IssueDate != nil && format.MaxValidityYears > 0 &&
			at.After(doc.IssueDate.AddDate(format.MaxValidityYears, 0, 0)) {
			flags = append(flags, TxFlag{Name: "document_expired", Value: 0.6, Confidence: 0.85})
		}
	}
	return flags
}

func stepRequired(steps []string, step string) bool {
	if len(steps) == 0 {
		// Tables that list no steps get the full default sequence.
		return true
	}
	return containsFold(steps, step)
}

func sumFlags(flags []TxFlag) float64 {
	total := 0.0
	for _, f := range flags {
		total += f.Value
	}
	return total
}
