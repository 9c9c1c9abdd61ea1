package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/sciconv/pkg/sciconv/analysis"
	"github.com/tsarna/sciconv/pkg/sciconv/chat"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// ChatPath is appended to an endpoint's api_base when chat_url is not set.
	ChatPath = "/api/chat/ws"

	DefaultDevelopmentAPIBase = "http://localhost:8000"
	DefaultProductionAPIBase  = "https://scientific-achievement-api.vercel.app"

	DefaultAnalysisTimeout = 30 * time.Second
	DefaultPollInterval    = "@every 5s"
)

// Endpoint is the pair of base URLs for one environment.
type Endpoint struct {
	Name    string
	APIBase string
	ChatURL string
}

type ChatConfig struct {
	Transport   string
	DialTimeout time.Duration
	ClientID    string
	Headers     map[string]string
}

type ReconnectConfig struct {
	Enabled bool
	Backoff chat.Backoff
}

type AnalysisConfig struct {
	Timeout      time.Duration
	PollInterval string
}

// Config is the resolved configuration. Endpoint is chosen once, when the
// configuration is built, from Environment.
type Config struct {
	Environment string
	Endpoint    Endpoint
	Endpoints   map[string]Endpoint

	Chat      ChatConfig
	Reconnect ReconnectConfig
	Analysis  AnalysisConfig
}

// Default returns the built-in configuration for the development endpoint.
func Default() *Config {
	endpoints := defaultEndpoints()
	return &Config{
		Environment: EnvDevelopment,
		Endpoint:    endpoints[EnvDevelopment],
		Endpoints:   endpoints,
		Chat: ChatConfig{
			Transport:   "coder",
			DialTimeout: chat.DefaultDialTimeout,
			Headers:     map[string]string{},
		},
		Reconnect: ReconnectConfig{
			Enabled: true,
			Backoff: chat.DefaultBackoff(),
		},
		Analysis: AnalysisConfig{
			Timeout:      DefaultAnalysisTimeout,
			PollInterval: DefaultPollInterval,
		},
	}
}

func defaultEndpoints() map[string]Endpoint {
	endpoints := make(map[string]Endpoint)
	for name, base := range map[string]string{
		EnvDevelopment: DefaultDevelopmentAPIBase,
		EnvProduction:  DefaultProductionAPIBase,
	} {
		chatURL, _ := DeriveChatURL(base)
		endpoints[name] = Endpoint{Name: name, APIBase: base, ChatURL: chatURL}
	}
	return endpoints
}

// DeriveChatURL maps an HTTP API base to the chat WebSocket URL: http becomes
// ws, https becomes wss, and ChatPath is appended.
func DeriveChatURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api_base must be an http or https URL, got %q", apiBase)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api_base %q has no host", apiBase)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + ChatPath
	return u.String(), nil
}

// Resolve returns the endpoint for env.
func (c *Config) Resolve(env string) (Endpoint, error) {
	endpoint, ok := c.Endpoints[env]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown environment %q, expected one of %v", env, c.EnvironmentNames())
	}
	return endpoint, nil
}

// EnvironmentNames lists the configured environments in sorted order.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

/// HCL schema

type fileConfig struct {
	Environment string           `hcl:"environment,optional"`
	Endpoints   []endpointBlock  `hcl:"endpoint,block"`
	Chat        []chatBlock      `hcl:"chat,block"`
	Reconnect   []reconnectBlock `hcl:"reconnect,block"`
	Analysis    []analysisBlock  `hcl:"analysis,block"`
}

type endpointBlock struct {
	Name     string    `hcl:"name,label"`
	APIBase  string    `hcl:"api_base"`
	ChatURL  string    `hcl:"chat_url,optional"`
	DefRange hcl.Range `hcl:",def_range"`
}

type chatBlock struct {
	Transport   string            `hcl:"transport,optional"`
	DialTimeout hcl.Expression    `hcl:"dial_timeout,optional"`
	ClientID    string            `hcl:"client_id,optional"`
	Headers     map[string]string `hcl:"headers,optional"`
	DefRange    hcl.Range         `hcl:",def_range"`
}

type reconnectBlock struct {
	Enabled      *bool          `hcl:"enabled,optional"`
	InitialDelay hcl.Expression `hcl:"initial_delay,optional"`
	MaxDelay     hcl.Expression `hcl:"max_delay,optional"`
	Factor       *float64       `hcl:"factor,optional"`
	MaxAttempts  *int           `hcl:"max_attempts,optional"`
	DefRange     hcl.Range      `hcl:",def_range"`
}

type analysisBlock struct {
	Timeout      hcl.Expression `hcl:"timeout,optional"`
	PollInterval string         `hcl:"poll_interval,optional"`
	DefRange     hcl.Range      `hcl:",def_range"`
}

/// Builder

type ConfigBuilder struct {
	logger      *zap.Logger
	sources     []any
	environment string
	environ     []string
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger:  zap.NewNop(),
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds files, directories (every *.hcl inside) or raw []byte
// configuration.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithEnvironment overrides the environment named in the files.
func (cb *ConfigBuilder) WithEnvironment(env string) *ConfigBuilder {
	cb.environment = env
	return cb
}

// WithEnviron replaces the process environment exposed as env.*.
func (cb *ConfigBuilder) WithEnviron(environ []string) *ConfigBuilder {
	cb.environ = environ
	return cb
}

func (cb *ConfigBuilder) evalContext() *hcl.EvalContext {
	env := GetEnvObject()
	if cb.environ != nil {
		env = envObject(cb.environ)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": env,
		},
		Functions: StandardFunctions(),
	}
}

// Build parses the sources, applies them over Default and resolves the
// endpoint.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := cb.evalContext()
	config := Default()

	userFuncs, bodies, addDiags := extractUserFunctions(bodies, func() *hcl.EvalContext { return evalCtx })
	diags = diags.Extend(addDiags)
	diags = diags.Extend(addUserFunctions(evalCtx, userFuncs))
	if diags.HasErrors() {
		return nil, diags
	}

	var file fileConfig
	if len(bodies) > 0 {
		diags = diags.Extend(gohcl.DecodeBody(hcl.MergeBodies(bodies), evalCtx, &file))
		if diags.HasErrors() {
			return nil, diags
		}
	}

	diags = diags.Extend(config.applyEndpoints(file.Endpoints))
	diags = diags.Extend(config.applyChat(file.Chat, evalCtx))
	diags = diags.Extend(config.applyReconnect(file.Reconnect, evalCtx))
	diags = diags.Extend(config.applyAnalysis(file.Analysis, evalCtx))
	if diags.HasErrors() {
		return nil, diags
	}

	if file.Environment != "" {
		config.Environment = file.Environment
	}
	if cb.environment != "" {
		config.Environment = cb.environment
	}

	endpoint, err := config.Resolve(config.Environment)
	if err != nil {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown environment",
			Detail:   err.Error(),
		})
	}
	config.Endpoint = endpoint

	cb.logger.Debug("Configuration resolved",
		zap.String("environment", config.Environment),
		zap.String("api_base", endpoint.APIBase),
		zap.String("chat_url", endpoint.ChatURL))

	return config, diags
}

func (c *Config) applyEndpoints(blocks []endpointBlock) hcl.Diagnostics {
	var diags hcl.Diagnostics
	seen := make(map[string]hcl.Range)

	for _, block := range blocks {
		if prev, dup := seen[block.Name]; dup {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate endpoint",
				Detail:   fmt.Sprintf("Endpoint %q was already defined at %s", block.Name, prev),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		seen[block.Name] = block.DefRange

		chatURL := block.ChatURL
		if chatURL == "" {
			derived, err := DeriveChatURL(block.APIBase)
			if err != nil {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid api_base",
					Detail:   err.Error(),
					Subject:  block.DefRange.Ptr(),
				})
				continue
			}
			chatURL = derived
		} else if u, err := url.Parse(chatURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid chat_url",
				Detail:   fmt.Sprintf("chat_url must be a ws or wss URL, got %q", chatURL),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}

		c.Endpoints[block.Name] = Endpoint{
			Name:    block.Name,
			APIBase: strings.TrimSuffix(block.APIBase, "/"),
			ChatURL: chatURL,
		}
	}

	return diags
}

func (c *Config) applyChat(blocks []chatBlock, evalCtx *hcl.EvalContext) hcl.Diagnostics {
	diags := singleBlock("chat", blockRanges(blocks, func(b chatBlock) hcl.Range { return b.DefRange }))
	if len(blocks) == 0 || diags.HasErrors() {
		return diags
	}
	block := blocks[0]

	if block.Transport != "" {
		if _, err := chat.DialerByName(block.Transport); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid transport",
				Detail:   err.Error(),
				Subject:  block.DefRange.Ptr(),
			})
		} else {
			c.Chat.Transport = block.Transport
		}
	}

	timeout, addDiags := ParseDuration(block.DialTimeout, evalCtx, c.Chat.DialTimeout)
	diags = diags.Extend(addDiags)
	c.Chat.DialTimeout = timeout

	c.Chat.ClientID = block.ClientID
	for key, value := range block.Headers {
		c.Chat.Headers[key] = value
	}

	return diags
}

func (c *Config) applyReconnect(blocks []reconnectBlock, evalCtx *hcl.EvalContext) hcl.Diagnostics {
	diags := singleBlock("reconnect", blockRanges(blocks, func(b reconnectBlock) hcl.Range { return b.DefRange }))
	if len(blocks) == 0 || diags.HasErrors() {
		return diags
	}
	block := blocks[0]
	backoff := &c.Reconnect.Backoff

	if block.Enabled != nil {
		c.Reconnect.Enabled = *block.Enabled
	}

	initial, addDiags := ParseDuration(block.InitialDelay, evalCtx, backoff.Initial)
	diags = diags.Extend(addDiags)
	backoff.Initial = initial

	maxDelay, addDiags := ParseDuration(block.MaxDelay, evalCtx, backoff.Max)
	diags = diags.Extend(addDiags)
	backoff.Max = maxDelay

	if block.Factor != nil {
		if *block.Factor < 1 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid factor",
				Detail:   fmt.Sprintf("factor must be at least 1, got %g", *block.Factor),
				Subject:  block.DefRange.Ptr(),
			})
		} else {
			backoff.Factor = *block.Factor
		}
	}

	if block.MaxAttempts != nil {
		if *block.MaxAttempts < 0 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid max_attempts",
				Detail:   fmt.Sprintf("max_attempts must be 0 (unlimited) or more, got %d", *block.MaxAttempts),
				Subject:  block.DefRange.Ptr(),
			})
		} else {
			backoff.MaxAttempts = *block.MaxAttempts
		}
	}

	if backoff.Max < backoff.Initial {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid reconnect delays",
			Detail:   fmt.Sprintf("max_delay (%s) is shorter than initial_delay (%s)", backoff.Max, backoff.Initial),
			Subject:  block.DefRange.Ptr(),
		})
	}

	return diags
}

func (c *Config) applyAnalysis(blocks []analysisBlock, evalCtx *hcl.EvalContext) hcl.Diagnostics {
	diags := singleBlock("analysis", blockRanges(blocks, func(b analysisBlock) hcl.Range { return b.DefRange }))
	if len(blocks) == 0 || diags.HasErrors() {
		return diags
	}
	block := blocks[0]

	timeout, addDiags := ParseDuration(block.Timeout, evalCtx, c.Analysis.Timeout)
	diags = diags.Extend(addDiags)
	c.Analysis.Timeout = timeout

	if block.PollInterval != "" {
		if _, err := analysis.ParseSchedule(block.PollInterval); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid poll_interval",
				Detail:   fmt.Sprintf("poll_interval must be a cron schedule such as \"@every 5s\": %v", err),
				Subject:  block.DefRange.Ptr(),
			})
		} else {
			c.Analysis.PollInterval = block.PollInterval
		}
	}

	return diags
}

func blockRanges[B any](blocks []B, rng func(B) hcl.Range) []hcl.Range {
	ranges := make([]hcl.Range, len(blocks))
	for i, b := range blocks {
		ranges[i] = rng(b)
	}
	return ranges
}

// singleBlock reports every block of kind after the first.
func singleBlock(kind string, ranges []hcl.Range) hcl.Diagnostics {
	var diags hcl.Diagnostics
	for i := 1; i < len(ranges); i++ {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Duplicate %s block", kind),
			Detail:   fmt.Sprintf("Only one %s block is allowed; the first is at %s", kind, ranges[0]),
			Subject:  ranges[i].Ptr(),
		})
	}
	return diags
}
