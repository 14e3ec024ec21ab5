package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models plenario.yml.
type Config struct {
	Chamber struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Seats int    `yaml:"seats"`
	} `yaml:"chamber"`
	Agenda struct {
		OverheadMinutes       int            `yaml:"overhead_minutes"`
		DefaultMaxMinutes     int            `yaml:"default_max_minutes"`
		DefaultMaxItems       int            `yaml:"default_max_items"`
		ItemMinutes           map[string]int `yaml:"item_minutes"`
		DefaultItemMinutes    int            `yaml:"default_item_minutes"`
		ExpedienteCategories  []string       `yaml:"expediente_categories"`
		CommunicationKeywords []string       `yaml:"communication_categories"`
	} `yaml:"agenda"`
	Calendar struct {
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
	Eligibility struct {
		ExemptCategories []string `yaml:"exempt_categories"`
		PlenaryUnits     []string `yaml:"plenary_units"`
		StaleDays        int      `yaml:"stale_days"`
	} `yaml:"eligibility"`
	Voting struct {
		PresenceWindowMinutes int                   `yaml:"presence_window_minutes"`
		DefaultQuorum         string                `yaml:"default_quorum"`
		QuorumByCategory      map[string]string     `yaml:"quorum_by_category"`
		Quorums               map[string]QuorumRule `yaml:"quorums"`
		TwoTurnCategories     []string              `yaml:"two_turn_categories"`
	} `yaml:"voting"`
	Cache struct {
		Backend    string `yaml:"backend"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	RateLimit struct {
		Enabled       bool `yaml:"enabled"`
		PerMinute     int  `yaml:"per_minute"`
		WindowSeconds int  `yaml:"window_seconds"`
	} `yaml:"rate_limit"`
	Flows    map[string]FlowSeed `yaml:"flows"`
	Webhooks []WebhookConfig     `yaml:"webhooks"`
}

// QuorumRule describes a threshold of the shape floor(base × multiplier)+1.
type QuorumRule struct {
	Base       string  `yaml:"base"` // "valid" or "seats"
	Multiplier float64 `yaml:"multiplier"`
}

// FlowSeed is a declarative stage list used by seed-default-flows.
type FlowSeed struct {
	Name   string      `yaml:"name"`
	Stages []StageSeed `yaml:"stages"`
}

type StageSeed struct {
	Name                string `yaml:"name"`
	Unit                string `yaml:"unit"`
	DeadlineDays        int    `yaml:"deadline_days"`
	UrgencyDeadlineDays *int   `yaml:"urgency_deadline_days,omitempty"`
	RequiresOpinion     bool   `yaml:"requires_opinion"`
	EnablesAgenda       bool   `yaml:"enables_agenda"`
	Terminal            bool   `yaml:"terminal"`
	Condition           *struct {
		Kind      string `yaml:"kind"`
		Attribute string `yaml:"attribute"`
		WhenTrue  int    `yaml:"when_true"`
		WhenFalse int    `yaml:"when_false"`
	} `yaml:"condition,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with plen chamber config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Chamber.ID == "" {
		return fmt.Errorf("config.chamber.id is required")
	}
	if c.Chamber.Seats <= 0 {
		return fmt.Errorf("config.chamber.seats must be positive")
	}
	if c.Voting.DefaultQuorum == "" {
		return fmt.Errorf("config.voting.default_quorum is required")
	}
	if _, ok := c.Voting.Quorums[c.Voting.DefaultQuorum]; !ok {
		return fmt.Errorf("default quorum %s not defined in config.voting.quorums", c.Voting.DefaultQuorum)
	}
	for kind, rule := range c.Voting.Quorums {
		if rule.Base != "valid" && rule.Base != "seats" {
			return fmt.Errorf("quorum %s base must be 'valid' or 'seats'", kind)
		}
		if rule.Multiplier <= 0 || rule.Multiplier >= 1 {
			return fmt.Errorf("quorum %s multiplier must be in (0,1)", kind)
		}
	}
	for category, kind := range c.Voting.QuorumByCategory {
		if _, ok := c.Voting.Quorums[kind]; !ok {
			return fmt.Errorf("category %s references unknown quorum %s", category, kind)
		}
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("config.calendar.holidays entry %q must be YYYY-MM-DD", h)
		}
	}
	if c.Cache.Backend != "" && c.Cache.Backend != "memory" && c.Cache.Backend != "store" {
		return fmt.Errorf("config.cache.backend must be 'memory' or 'store'")
	}
	for category, seed := range c.Flows {
		if len(seed.Stages) == 0 {
			return fmt.Errorf("flow %s has no stages", category)
		}
		terminal := false
		for i, st := range seed.Stages {
			if st.Name == "" {
				return fmt.Errorf("flow %s stage %d has empty name", category, i+1)
			}
			if st.DeadlineDays < 0 {
				return fmt.Errorf("flow %s stage %s has negative deadline", category, st.Name)
			}
			if st.Terminal {
				terminal = true
			}
			if st.Condition != nil {
				if st.Condition.Kind == "" {
					return fmt.Errorf("flow %s stage %s condition missing kind", category, st.Name)
				}
				if st.Condition.Kind == "attribute" && st.Condition.Attribute == "" {
					return fmt.Errorf("flow %s stage %s attribute condition missing attribute", category, st.Name)
				}
			}
		}
		if !terminal {
			return fmt.Errorf("flow %s has no terminal stage", category)
		}
	}
	return nil
}

// OverheadMinutes returns the reserved minutes for opening/closing
// formalities, defaulting when unset.
func (c *Config) OverheadMinutes() int {
	if c.Agenda.OverheadMinutes > 0 {
		return c.Agenda.OverheadMinutes
	}
	return 30
}

// ItemMinutesFor returns the estimated discussion minutes for a category.
func (c *Config) ItemMinutesFor(category string) int {
	if m, ok := c.Agenda.ItemMinutes[category]; ok && m > 0 {
		return m
	}
	if c.Agenda.DefaultItemMinutes > 0 {
		return c.Agenda.DefaultItemMinutes
	}
	return 10
}

// QuorumFor resolves the quorum rule for a proposition category.
func (c *Config) QuorumFor(category string) (string, QuorumRule) {
	kind := c.Voting.DefaultQuorum
	if k, ok := c.Voting.QuorumByCategory[category]; ok {
		kind = k
	}
	return kind, c.Voting.Quorums[kind]
}

// PresenceWindowMinutes returns the pre-session presence window.
func (c *Config) PresenceWindowMinutes() int {
	if c.Voting.PresenceWindowMinutes > 0 {
		return c.Voting.PresenceWindowMinutes
	}
	return 15
}

// HolidaySet returns the configured holidays keyed by YYYY-MM-DD date.
func (c *Config) HolidaySet() map[string]bool {
	if len(c.Calendar.Holidays) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.Calendar.Holidays))
	for _, h := range c.Calendar.Holidays {
		set[h] = true
	}
	return set
}

// StaleDays returns the staleness horizon for priority escalation.
func (c *Config) StaleDays() int {
	if c.Eligibility.StaleDays > 0 {
		return c.Eligibility.StaleDays
	}
	return 90
}

func (c *Config) IsExemptCategory(category string) bool {
	for _, e := range c.Eligibility.ExemptCategories {
		if e == category {
			return true
		}
	}
	return false
}

func (c *Config) IsTwoTurnCategory(category string) bool {
	for _, e := range c.Voting.TwoTurnCategories {
		if e == category {
			return true
		}
	}
	return false
}

func (c *Config) IsExpedienteCategory(category string) bool {
	for _, e := range c.Agenda.ExpedienteCategories {
		if e == category {
			return true
		}
	}
	return false
}

func (c *Config) IsCommunicationCategory(category string) bool {
	for _, e := range c.Agenda.CommunicationKeywords {
		if e == category {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plenario.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(chamberID string) string {
	return fmt.Sprintf(defaultTemplate, chamberID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a chamber.
func Default(chamberID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, chamberID))).Decode(&cfg)
	cfg.Chamber.ID = chamberID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `chamber:
  id: %s
  name: "Câmara Municipal"
  seats: 9

agenda:
  overhead_minutes: 30
  default_max_minutes: 240
  default_max_items: 20
  default_item_minutes: 10
  item_minutes:
    projeto_de_lei: 20
    projeto_de_lei_complementar: 30
    projeto_de_resolucao: 15
    projeto_de_decreto_legislativo: 15
    veto: 20
    requerimento: 5
    mocao: 5
    indicacao: 5
  expediente_categories: [requerimento, mocao, indicacao]
  communication_categories: [comunicado]

calendar:
  holidays:
    - 2026-01-01
    - 2026-04-21
    - 2026-05-01
    - 2026-09-07
    - 2026-10-12
    - 2026-11-02
    - 2026-11-15
    - 2026-12-25

eligibility:
  exempt_categories: [mocao, indicacao]
  plenary_units: ["Plenário", "Mesa Diretora"]
  stale_days: 90

voting:
  presence_window_minutes: 15
  default_quorum: simple_majority
  quorums:
    simple_majority:
      base: valid
      multiplier: 0.5
    absolute_majority:
      base: seats
      multiplier: 0.5
    two_thirds:
      base: seats
      multiplier: 0.66
  quorum_by_category:
    projeto_de_lei_complementar: absolute_majority
    veto: absolute_majority
  two_turn_categories: [projeto_de_lei_complementar]

cache:
  backend: memory
  ttl_seconds: 60

rate_limit:
  enabled: false
  per_minute: 120
  window_seconds: 60

flows:
  projeto_de_lei:
    name: "Tramitação de Projeto de Lei"
    stages:
      - name: "Protocolo e autuação"
        unit: "Secretaria Legislativa"
        deadline_days: 5
      - name: "Comissão de Justiça e Redação"
        unit: "Comissão de Justiça"
        deadline_days: 15
        urgency_deadline_days: 5
        requires_opinion: true
        condition:
          kind: attribute
          attribute: fiscal_impact
          when_true: 3
          when_false: 4
      - name: "Comissão de Finanças e Orçamento"
        unit: "Comissão de Finanças"
        deadline_days: 15
        urgency_deadline_days: 5
        requires_opinion: true
      - name: "Pronto para pauta"
        unit: "Plenário"
        deadline_days: 10
        enables_agenda: true
      - name: "Deliberação concluída"
        unit: "Plenário"
        deadline_days: 0
        terminal: true
  projeto_de_lei_complementar:
    name: "Tramitação de Projeto de Lei Complementar"
    stages:
      - name: "Protocolo e autuação"
        unit: "Secretaria Legislativa"
        deadline_days: 5
      - name: "Comissão de Justiça e Redação"
        unit: "Comissão de Justiça"
        deadline_days: 20
        urgency_deadline_days: 7
        requires_opinion: true
      - name: "Comissão de Finanças e Orçamento"
        unit: "Comissão de Finanças"
        deadline_days: 20
        urgency_deadline_days: 7
        requires_opinion: true
      - name: "Pronto para pauta"
        unit: "Plenário"
        deadline_days: 10
        enables_agenda: true
      - name: "Deliberação concluída"
        unit: "Plenário"
        deadline_days: 0
        terminal: true
  projeto_de_resolucao:
    name: "Tramitação de Projeto de Resolução"
    stages:
      - name: "Protocolo e autuação"
        unit: "Secretaria Legislativa"
        deadline_days: 5
      - name: "Mesa Diretora"
        unit: "Mesa Diretora"
        deadline_days: 10
        requires_opinion: true
        enables_agenda: true
      - name: "Deliberação concluída"
        unit: "Plenário"
        deadline_days: 0
        terminal: true
  veto:
    name: "Apreciação de Veto"
    stages:
      - name: "Leitura do veto"
        unit: "Secretaria Legislativa"
        deadline_days: 2
      - name: "Comissão de Justiça e Redação"
        unit: "Comissão de Justiça"
        deadline_days: 10
        urgency_deadline_days: 3
        requires_opinion: true
      - name: "Apreciação em plenário"
        unit: "Plenário"
        deadline_days: 30
        enables_agenda: true
      - name: "Deliberação concluída"
        unit: "Plenário"
        deadline_days: 0
        terminal: true
  requerimento:
    name: "Tramitação de Requerimento"
    stages:
      - name: "Protocolo"
        unit: "Secretaria Legislativa"
        deadline_days: 2
      - name: "Apreciação em plenário"
        unit: "Plenário"
        deadline_days: 10
        enables_agenda: true
      - name: "Deliberação concluída"
        unit: "Plenário"
        deadline_days: 0
        terminal: true
`
