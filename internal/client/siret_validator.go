package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SIRETResult is the outcome of a SIRET validation. When the registry
// lookup is unavailable the result degrades to format-only validation and
// FormatOnly is set.
type SIRETResult struct {
	IsValid     bool   `json:"is_valid"`
	SIREN       string `json:"siren,omitempty"`
	NIC         string `json:"nic,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FormatOnly  bool   `json:"format_only,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SIRETValidator validates French SIRET identifiers.
type SIRETValidator struct {
	client    *http.Client
	sireneURL string
	token     string
	log       zerolog.Logger
}

// NewSIRETValidator creates a validator. When token is empty the registry
// lookup is skipped entirely and only the format check runs.
func NewSIRETValidator(sireneURL, token string, timeout time.Duration, log zerolog.Logger) *SIRETValidator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &SIRETValidator{
		client:    &http.Client{Timeout: timeout},
		sireneURL: sireneURL,
		token:     token,
		log:       log,
	}
}

// Validate checks the SIRET format locally (14 digits, Luhn checksum) and
// enriches the result with a best-effort Sirene registry lookup. Registry
// failures never fail the validation.
func (v *SIRETValidator) Validate(ctx context.Context, siret string) SIRETResult {
	if !CheckSIRETFormat(siret) {
		return SIRETResult{Error: "invalid SIRET: expected 14 digits with a valid checksum"}
	}

	result := SIRETResult{
		IsValid: true,
		SIREN:   siret[:9],
		NIC:     siret[9:],
	}

	if v.token == "" {
		result.FormatOnly = true
		return result
	}

	name, err := v.lookupName(ctx, siret)
	if err != nil {
		v.log.Debug().Err(err).Str("siret", siret).Msg("sirene lookup failed, degrading to format-only")
		result.FormatOnly = true
		return result
	}

	result.CompanyName = name
	return result
}

func (v *SIRETValidator) lookupName(ctx context.Context, siret string) (string, error) {
	url := fmt.Sprintf("%s/siret/%s", v.sireneURL, siret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sirene returned %d", resp.StatusCode)
	}

	var payload struct {
		Etablissement struct {
			UniteLegale struct {
				DenominationUniteLegale string `json:"denominationUniteLegale"`
			} `json:"uniteLegale"`
		} `json:"etablissement"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	return payload.Etablissement.UniteLegale.DenominationUniteLegale, nil
}

// CheckSIRETFormat reports whether s is 14 digits passing the Luhn
// checksum used by INSEE.
func CheckSIRETFormat(s string) bool {
	if len(s) != 14 {
		return false
	}

	sum := 0
	for i, c := range s {
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		// Even positions (0-based) are doubled: SIRET uses Luhn from the left.
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}

	return sum%10 == 0
}
