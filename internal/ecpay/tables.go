package ecpay

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sky940714/shophub/internal/models"
)

//go:embed tables.yaml
var tablesYAML []byte

type endpoints struct {
	Checkout        string `yaml:"checkout"`
	LogisticsCreate string `yaml:"logistics_create"`
	LogisticsPrint  string `yaml:"logistics_print"`
}

type carrier struct {
	C2C                 string `yaml:"c2c"`
	PrintPath           string `yaml:"print_path"`
	NeedsValidationCode bool   `yaml:"needs_validation_code"`
}

type failureRule struct {
	Category   string   `yaml:"category"`
	Message    string   `yaml:"message"`
	Substrings []string `yaml:"substrings"`
}

type tables struct {
	Endpoints       map[string]endpoints `yaml:"endpoints"`
	Carriers        map[string]carrier   `yaml:"carriers"`
	LogisticsStatus map[string][]string  `yaml:"logistics_status"`
	Failures        []failureRule        `yaml:"failures"`

	statusByCode map[string]models.OrderStatus
}

var gatewayTables = mustLoadTables(tablesYAML)

func mustLoadTables(raw []byte) *tables {
	t, err := loadTables(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func loadTables(raw []byte) (*tables, error) {
	var t tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse gateway tables: %w", err)
	}

	t.statusByCode = make(map[string]models.OrderStatus)
	for name, codes := range t.LogisticsStatus {
		status, ok := models.ParseOrderStatus(name)
		if !ok {
			return nil, fmt.Errorf("gateway tables: unknown order status %q", name)
		}
		for _, code := range codes {
			if prev, dup := t.statusByCode[code]; dup {
				return nil, fmt.Errorf("gateway tables: code %s mapped to %s and %s", code, prev, status)
			}
			t.statusByCode[code] = status
		}
	}

	for _, mode := range []string{ModeStage, ModeProduction} {
		if _, ok := t.Endpoints[mode]; !ok {
			return nil, fmt.Errorf("gateway tables: missing %s endpoints", mode)
		}
	}
	return &t, nil
}

// StatusForLogisticsCode maps a logistics RtnCode to the order status it
// implies. Codes outside the table report false.
func StatusForLogisticsCode(code string) (models.OrderStatus, bool) {
	status, ok := gatewayTables.statusByCode[strings.TrimSpace(code)]
	return status, ok
}

// C2CSubType translates the storefront carrier name into the gateway's
// consumer-to-consumer sub type. Names already in C2C form pass through.
func C2CSubType(subType string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(subType))
	if c, ok := gatewayTables.Carriers[key]; ok {
		return c.C2C, nil
	}
	for _, c := range gatewayTables.Carriers {
		if c.C2C == key {
			return c.C2C, nil
		}
	}
	return "", fmt.Errorf("unsupported convenience store carrier %q", subType)
}

func carrierFor(subType string) (carrier, bool) {
	c2c, err := C2CSubType(subType)
	if err != nil {
		return carrier{}, false
	}
	for _, c := range gatewayTables.Carriers {
		if c.C2C == c2c {
			return c, true
		}
	}
	return carrier{}, false
}
