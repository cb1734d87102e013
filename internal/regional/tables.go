package regional

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trustguard/riskcore/internal/models"
)

// builtinTables are the boot-time defaults for the four supported regions.
// Deployments override individual tables via LoadTables.
var builtinTables = []Table{
	{
		Code:        "AO",
		CountryCode: "AO",
		DialPrefix:  "244",
		PhoneLength: 9,
		UrbanCities: []string{"Luanda", "Benguela", "Huambo", "Lubango", "Cabinda", "Malanje"},
		HighRiskAreas: []string{
			"Lunda Norte", "Lunda Sul", "Cabinda",
		},
		BorderAreas: []string{"Cabinda", "Cunene", "Zaire", "Moxico"},
		PhoneRules: []PhoneRule{
			{Prefixes: []string{"91", "92", "93", "94"}, Operator: "unitel"},
			{Prefixes: []string{"99"}, Operator: "movicel"},
			{Prefixes: []string{"95"}, Operator: "africell"},
		},
		KnownCarriers:     []string{"unitel", "movicel", "africell"},
		ExpectedLanguages: []string{"pt"},
		Services: map[string]ServiceLimits{
			"multicaixa": {
				MaxAmount:        500000,
				MaxPerHour:       10,
				UnusualHourStart: 2,
				UnusualHourEnd:   5,
			},
		},
		Documents: map[string]DocumentFormat{
			// Bilhete de identidade: 9 digits, 2 province letters, 3 digits.
			"bi": {
				Length:           14,
				Pattern:          `[0-9]{9}[A-Z]{2}[0-9]{3}`,
				RequiresExpiry:   true,
				MaxValidityYears: 10,
				Steps:            []string{StepFormat, StepValidity},
			},
		},
		Overlay: models.PolicyOverlay{
			HighRiskCountries: []string{"CD"},
		},
	},
	{
		Code:        "BR",
		CountryCode: "BR",
		DialPrefix:  "55",
		PhoneLength: 11,
		UrbanCities: []string{
			"São Paulo", "Rio de Janeiro", "Brasília", "Salvador",
			"Belo Horizonte", "Fortaleza", "Curitiba", "Recife", "Porto Alegre",
		},
		HighRiskAreas: []string{"Foz do Iguaçu", "Tabatinga", "Corumbá", "Pacaraima"},
		BorderAreas:   []string{"Foz do Iguaçu", "Tabatinga", "Corumbá", "Pacaraima", "Chuí"},
		PhoneRules: []PhoneRule{
			// Brazilian mobile numbers are DDD + 9 digits starting with 9;
			// operator cannot be derived from the prefix since portability.
			{Prefixes: []string{
				"119", "219", "319", "419", "519", "619", "719", "819",
				"859", "919", "279", "479", "489",
			}, Operator: ""},
		},
		KnownCarriers:     []string{"vivo", "claro", "tim", "oi"},
		ExpectedLanguages: []string{"pt"},
		Services: map[string]ServiceLimits{
			"pix": {
				MaxAmount:        20000,
				MaxPerHour:       15,
				UnusualHourStart: 0,
				UnusualHourEnd:   6,
			},
		},
		Documents: map[string]DocumentFormat{
			"cpf":  {Length: 11, Pattern: `[0-9]{11}`, Steps: []string{StepFormat, StepChecksum}},
			"cnpj": {Length: 14, Pattern: `[0-9]{14}`, Steps: []string{StepFormat, StepChecksum}},
		},
		Overlay: models.PolicyOverlay{
			SignalWeights: map[string]float64{"velocity_exceeded": 0.25},
		},
	},
	{
		Code:        "MZ",
		CountryCode: "MZ",
		DialPrefix:  "258",
		PhoneLength: 9,
		UrbanCities: []string{"Maputo", "Matola", "Beira", "Nampula", "Chimoio", "Quelimane"},
		HighRiskAreas: []string{
			"Ressano Garcia", "Machipanda", "Zóbuè",
		},
		BorderAreas: []string{"Ressano Garcia", "Machipanda", "Zóbuè", "Mandimba"},
		PhoneRules: []PhoneRule{
			{Prefixes: []string{"82", "83"}, Operator: "tmcel"},
			{Prefixes: []string{"84", "85"}, Operator: "vodacom"},
			{Prefixes: []string{"86", "87"}, Operator: "movitel"},
		},
		KnownCarriers:     []string{"vodacom", "movitel", "tmcel"},
		ExpectedLanguages: []string{"pt"},
		Services: map[string]ServiceLimits{
			"m-pesa": {
				MaxAmount:        25000,
				MaxPerHour:       10,
				CashInOutWindow:  10 * time.Minute,
				UnusualHourStart: 1,
				UnusualHourEnd:   4,
			},
			"e-mola": {
				MaxAmount:       25000,
				MaxPerHour:      10,
				CashInOutWindow: 10 * time.Minute,
			},
			"mkesh": {
				MaxAmount:       15000,
				MaxPerHour:      8,
				CashInOutWindow: 10 * time.Minute,
			},
		},
		Documents: map[string]DocumentFormat{
			"nuit": {Length: 9, Pattern: `[0-9]{9}`, Steps: []string{StepFormat, StepChecksum}},
			"bi": {
				Length:           13,
				Pattern:          `[0-9]{12}[A-Z]`,
				RequiresExpiry:   true,
				MaxValidityYears: 10,
				Steps:            []string{StepFormat, StepValidity},
			},
		},
		Overlay: models.PolicyOverlay{
			SignalWeights: map[string]float64{
				"rapid_cash_in_cash_out": 0.25,
				"same_agent_cash_in_out": 0.25,
			},
		},
	},
	{
		Code:        "PT",
		CountryCode: "PT",
		DialPrefix:  "351",
		PhoneLength: 9,
		UrbanCities: []string{"Lisboa", "Porto", "Braga", "Coimbra", "Faro", "Setúbal"},
		PhoneRules: []PhoneRule{
			{Prefixes: []string{"91"}, Operator: "vodafone"},
			{Prefixes: []string{"92"}, Operator: "nos"},
			{Prefixes: []string{"93"}, Operator: "nos"},
			{Prefixes: []string{"96"}, Operator: "meo"},
		},
		KnownCarriers:     []string{"meo", "nos", "vodafone"},
		ExpectedLanguages: []string{"pt", "en"},
		Services: map[string]ServiceLimits{
			"mbway": {
				MaxAmount:  750,
				MaxPerHour: 20,
			},
		},
		Documents: map[string]DocumentFormat{
			"nif": {Length: 9, Pattern: `[0-9]{9}`, Steps: []string{StepFormat, StepChecksum}},
			// Cartão de cidadão: 8 digits, check digit, 2 letters, version digit.
			"cc": {
				Length:           12,
				Pattern:          `[0-9]{9}[A-Z]{2}[0-9]`,
				RequiresExpiry:   true,
				MaxValidityYears: 10,
				Steps:            []string{StepFormat, StepChecksum, StepValidity},
			},
		},
	},
}

// LoadTables reads region table overrides from a YAML file. Tables present in
// the file replace the built-in table for the same region code.
func LoadTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region tables: %w", err)
	}
	var doc struct {
		Regions []Table `yaml:"regions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse region tables: %w", err)
	}

	merged := make([]Table, len(builtinTables))
	copy(merged, builtinTables)
	for _, override := range doc.Regions {
		if override.Code == "" {
			return nil, fmt.Errorf("region table without code")
		}
		replaced := false
		for i := range merged {
			if merged[i].Code == override.Code {
				merged[i] = override
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, override)
		}
	}
	return merged, nil
}

// NewRegistryFromTables builds a registry over an explicit table set.
func NewRegistryFromTables(tables []Table) *Registry {
	r := &Registry{analyzers: make(map[string]Analyzer, len(tables))}
	for _, table := range tables {
		r.analyzers[table.Code] = NewAnalyzer(table)
	}
	return r
}
