package analysis

import (
	"fmt"
	"strings"
)

// Defaults the service applies to optional request fields.
const (
	DefaultMaturity        = "实验室"
	DefaultPatentStatus    = "已有专利"
	DefaultExpectedOutcome = "技术转让"
)

// Request describes the scientific achievement to analyse. Title,
// Description and Field are required.
type Request struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Field           string `json:"field"`
	Maturity        string `json:"maturity"`
	Keywords        string `json:"keywords"`
	TeamSize        string `json:"teamSize"`
	InvestmentNeeds string `json:"investmentNeeds"`
	PatentStatus    string `json:"patentStatus"`
	ExpectedOutcome string `json:"expectedOutcome"`
}

// WithDefaults fills unset optional fields with the service defaults.
func (r Request) WithDefaults() Request {
	if r.Maturity == "" {
		r.Maturity = DefaultMaturity
	}
	if r.PatentStatus == "" {
		r.PatentStatus = DefaultPatentStatus
	}
	if r.ExpectedOutcome == "" {
		r.ExpectedOutcome = DefaultExpectedOutcome
	}
	return r
}

// Validate reports the missing required fields as ErrInvalidRequest.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(r.Field) == "" {
		missing = append(missing, "field")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// KeywordList splits the comma separated keywords.
func (r Request) KeywordList() []string {
	var keywords []string
	for _, k := range strings.Split(r.Keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// Status is the state of an analysis session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the session will not change any more.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Submission is the service's answer to a submitted request.
type Submission struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
}

// Result is the stored outcome of a session. The analysis sections are free
// form objects; use Query to pick them apart.
type Result struct {
	SessionID        string         `json:"session_id"`
	Status           Status         `json:"status"`
	MarketAnalysis   map[string]any `json:"market_analysis,omitempty"`
	PatentAnalysis   map[string]any `json:"patent_analysis,omitempty"`
	TransferStrategy map[string]any `json:"transfer_strategy,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Healthy reports whether the service said it is healthy.
func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// ServerConfig is what the service reports about itself.
type ServerConfig struct {
	APIVersion       string   `json:"api_version"`
	SupportedMethods []string `json:"supported_methods"`
	DocsURL          string   `json:"docs_url"`
}
