package pricing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"bestelling-engine/models"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("pricing")

var hundred = decimal.NewFromInt(100)

// PricingConfig represents the pricing configuration structure
type PricingConfig struct {
	Currency string         `yaml:"currency"`
	VAT      VATConfig      `yaml:"vat"`
	Shipping ShippingConfig `yaml:"shipping"`
	Discount DiscountConfig `yaml:"discount"`
}

// VATConfig names the fixed VAT categories. Lines carry one of these
// percentages as their VAT label, or an empty label when exempt.
type VATConfig struct {
	High string `yaml:"high"`
	Low  string `yaml:"low"`
	Zero string `yaml:"zero"`
}

type ShippingConfig struct {
	VATLabel string          `yaml:"vatLabel"`
	Brackets []WeightBracket `yaml:"brackets"`
}

// WeightBracket prices parcels up to MaxGrams. A bracket with MaxGrams 0 has
// no upper limit.
type WeightBracket struct {
	MaxGrams int    `yaml:"maxGrams"`
	Price    string `yaml:"price"`
	price    decimal.Decimal
}

// DiscountConfig holds the combination discount for competition entries:
// once a basket holds MinLines entries, every entry gets Percentage off.
type DiscountConfig struct {
	CompetitionMinLines   int    `yaml:"competitionMinLines"`
	CompetitionPercentage string `yaml:"competitionPercentage"`
	competitionPct        decimal.Decimal
}

// Totals is the derived money state of a basket or order.
type Totals struct {
	VAT   [3]models.VATBucket
	Total decimal.Decimal
}

// Engine handles VAT, shipping and discount calculations based on configuration
type Engine struct {
	config *PricingConfig
}

// DefaultConfig is used when no configuration file is given.
func DefaultConfig() PricingConfig {
	return PricingConfig{
		Currency: "EUR",
		VAT:      VATConfig{High: "21", Low: "9", Zero: "0"},
		Shipping: ShippingConfig{
			VATLabel: "21",
			Brackets: []WeightBracket{
				{MaxGrams: 2000, Price: "4.95"},
				{MaxGrams: 10000, Price: "6.95"},
				{MaxGrams: 0, Price: "13.95"},
			},
		},
		Discount: DiscountConfig{CompetitionMinLines: 0, CompetitionPercentage: "0"},
	}
}

// NewEngine creates a pricing engine from a YAML file, or from DefaultConfig
// when configPath is empty.
func NewEngine(configPath string) (*Engine, error) {
	config := DefaultConfig()

	if configPath != "" {
		// Resolve config path
		if !filepath.IsAbs(configPath) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
			configPath = filepath.Join(wd, configPath)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read pricing config: %w", err)
		}

		config = PricingConfig{}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse pricing config: %w", err)
		}
	}

	engine, err := NewEngineFromConfig(config)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		logger.Info().Msgf("✅ PricingEngine: Successfully loaded pricing config from %s", configPath)
	}
	return engine, nil
}

// NewEngineFromConfig validates the configuration and builds an engine.
func NewEngineFromConfig(config PricingConfig) (*Engine, error) {
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}

	// Sort brackets by weight, unlimited bracket last
	sort.SliceStable(config.Shipping.Brackets, func(i, j int) bool {
		a, b := config.Shipping.Brackets[i].MaxGrams, config.Shipping.Brackets[j].MaxGrams
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})

	return &Engine{config: &config}, nil
}

func validateConfig(config *PricingConfig) error {
	if config.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if config.VAT.High == "" {
		return fmt.Errorf("vat.high is required")
	}
	for _, label := range []string{config.VAT.High, config.VAT.Low, config.VAT.Zero, config.Shipping.VATLabel} {
		if label == "" {
			continue
		}
		if _, err := decimal.NewFromString(label); err != nil {
			return fmt.Errorf("vat label %q is not a percentage", label)
		}
	}
	if len(config.Shipping.Brackets) == 0 {
		return fmt.Errorf("shipping brackets are required")
	}
	for i := range config.Shipping.Brackets {
		p, err := decimal.NewFromString(config.Shipping.Brackets[i].Price)
		if err != nil || p.IsNegative() {
			return fmt.Errorf("shipping bracket %d has invalid price %q", i, config.Shipping.Brackets[i].Price)
		}
		config.Shipping.Brackets[i].price = p
	}

	pct := config.Discount.CompetitionPercentage
	if pct == "" {
		pct = "0"
	}
	p, err := decimal.NewFromString(pct)
	if err != nil || p.IsNegative() || p.GreaterThan(hundred) {
		return fmt.Errorf("discount percentage %q must be between 0 and 100", config.Discount.CompetitionPercentage)
	}
	config.Discount.competitionPct = p
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() PricingConfig {
	return *e.config
}

// VATFor returns the VAT included in price for the given label. Exempt
// (empty) labels carry no VAT.
func (e *Engine) VATFor(label string, price decimal.Decimal) decimal.Decimal {
	if strings.TrimSpace(label) == "" {
		return decimal.Zero
	}
	pct, err := decimal.NewFromString(label)
	if err != nil || pct.IsZero() {
		return decimal.Zero
	}
	return price.Mul(pct).Div(hundred.Add(pct)).Round(2)
}

// ShippingVATLabel is the VAT category applied to shipping costs.
func (e *Engine) ShippingVATLabel() string {
	return e.config.Shipping.VATLabel
}

// Shipping returns the shipping cost for a parcel of the given weight.
// Only shipped parcels cost anything.
func (e *Engine) Shipping(weightGrams int, transport models.Transport) decimal.Decimal {
	if transport != models.TransportShip || weightGrams <= 0 {
		return decimal.Zero
	}
	for _, b := range e.config.Shipping.Brackets {
		if b.MaxGrams == 0 || weightGrams <= b.MaxGrams {
			return b.price
		}
	}
	// heavier than every bracket and no unlimited bracket: use the largest
	return e.config.Shipping.Brackets[len(e.config.Shipping.Brackets)-1].price
}

// ApplyDiscounts recomputes the combination discount on competition lines in
// place. It returns the lines whose discount changed.
func (e *Engine) ApplyDiscounts(lines []models.OrderLine) []*models.OrderLine {
	count := 0
	for _, l := range lines {
		if l.Code == models.ProductCompetition {
			count++
		}
	}

	active := e.config.Discount.CompetitionMinLines > 0 &&
		count >= e.config.Discount.CompetitionMinLines &&
		e.config.Discount.competitionPct.IsPositive()

	var changed []*models.OrderLine
	for i := range lines {
		l := &lines[i]
		if l.Code != models.ProductCompetition {
			continue
		}
		discount := decimal.Zero
		if active {
			discount = l.Price.Mul(e.config.Discount.competitionPct).Div(hundred).Round(2)
		}
		if discount.GreaterThan(l.Price) {
			discount = l.Price
		}
		if !discount.Equal(l.Discount) {
			l.Discount = discount
			changed = append(changed, l)
		}
	}
	return changed
}

// Totals computes the VAT buckets and grand total of a set of lines plus a
// shipping cost that is not itself a line.
func (e *Engine) Totals(lines []models.OrderLine, shipping decimal.Decimal) Totals {
	total := decimal.Zero
	buckets := make(map[string]decimal.Decimal)

	for _, l := range lines {
		net := l.Net()
		if net.IsNegative() {
			net = decimal.Zero
		}
		total = total.Add(net)
		if l.VATLabel != "" {
			buckets[l.VATLabel] = buckets[l.VATLabel].Add(l.VATAmount)
		}
	}

	if shipping.IsPositive() {
		total = total.Add(shipping)
		if label := e.config.Shipping.VATLabel; label != "" {
			buckets[label] = buckets[label].Add(e.VATFor(label, shipping))
		}
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	// highest percentage first
	sort.Slice(labels, func(i, j int) bool {
		a, _ := decimal.NewFromString(labels[i])
		b, _ := decimal.NewFromString(labels[j])
		return a.GreaterThan(b)
	})

	var t Totals
	for i, label := range labels {
		if i >= len(t.VAT) {
			logger.Warn().Msgf("⚠️ Totals: more than %d VAT categories, dropping %s", len(t.VAT), label)
			continue
		}
		t.VAT[i] = models.VATBucket{Percentage: label, Amount: buckets[label]}
	}
	t.Total = total
	return t
}
