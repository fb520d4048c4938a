package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/autoflow/internal/capabilities"
	"github.com/rendis/autoflow/pkg/schema"
)

// Plugin states.
const (
	StateHealthy   = "healthy"
	StateUnhealthy = "unhealthy"
	StateStopped   = "stopped"
)

const defaultCheckInterval = 30 * time.Second

// maxErrors is the number of consecutive failures that mark a plugin unhealthy.
const maxErrors = 3

// Config describes how to launch an external MCP server whose tools become
// capabilities.
type Config struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	// Prefix is prepended to every tool name on registration.
	Prefix string `json:"prefix,omitempty"`
	// HighRisk lists remote tool names that need approval.
	HighRisk []string `json:"high_risk,omitempty"`
}

// Registrar is where discovered tools are registered.
type Registrar interface {
	Register(c capabilities.Capability) error
}

// Manager owns the MCP client connections to plugin servers.
type Manager struct {
	registry Registrar
	plugins  map[string]*managedPlugin
	mu       sync.RWMutex
	logger   *slog.Logger
}

type managedPlugin struct {
	config Config

	mu       sync.Mutex
	client   *client.Client
	status   string
	errCount int
	lastErr  string
	tools    []string
}

// NewManager creates a Manager registering into registry.
func NewManager(registry Registrar, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		plugins:  make(map[string]*managedPlugin),
		logger:   logger,
	}
}

// Load launches cfg.Command as a stdio MCP server and registers its tools.
func (m *Manager) Load(ctx context.Context, cfg Config) error {
	if cfg.Name == "" || cfg.Command == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin needs a name and a command")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start plugin %q: %w", cfg.Name, err)
	}
	if err := m.Attach(ctx, cfg, c); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Attach initializes an already started client and registers its tools.
// Tools whose name is taken are skipped.
func (m *Manager) Attach(ctx context.Context, cfg Config, c *client.Client) error {
	m.mu.Lock()
	if _, exists := m.plugins[cfg.Name]; exists {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already loaded", cfg.Name)
	}
	p := &managedPlugin{config: cfg, client: c, status: StateHealthy}
	m.plugins[cfg.Name] = p
	m.mu.Unlock()

	if err := m.discover(ctx, p); err != nil {
		m.mu.Lock()
		delete(m.plugins, cfg.Name)
		m.mu.Unlock()
		return err
	}
	m.logger.InfoContext(ctx, "plugin loaded",
		slog.String("plugin", cfg.Name),
		slog.Int("tools", len(p.tools)),
	)
	return nil
}

func (m *Manager) discover(ctx context.Context, p *managedPlugin) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "autoflow", Version: "1.0.0"}
	if _, err := p.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("handshake with plugin %q: %w", p.config.Name, err)
	}

	listed, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools of plugin %q: %w", p.config.Name, err)
	}

	for _, t := range listed.Tools {
		tool := newRemoteTool(p, t, slices.Contains(p.config.HighRisk, t.Name))
		if err := m.registry.Register(tool); err != nil {
			m.logger.WarnContext(ctx, "plugin tool skipped",
				slog.String("plugin", p.config.Name),
				slog.String("tool", tool.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.tools = append(p.tools, tool.name)
	}
	return nil
}

// Watch pings every plugin each interval until ctx is done. A plugin that
// fails maxErrors pings in a row is marked unhealthy; its tools fail fast
// until a ping succeeds again.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings every plugin once.
func (m *Manager) Check(ctx context.Context) {
	for _, p := range m.snapshot() {
		c := p.connection()
		if c == nil {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			if p.recordError(err) {
				m.logger.WarnContext(ctx, "plugin unhealthy",
					slog.String("plugin", p.config.Name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		p.recordOK()
	}
}

// Stop closes every plugin connection.
func (m *Manager) Stop() error {
	var errs []error
	for _, p := range m.snapshot() {
		p.mu.Lock()
		c := p.client
		p.client = nil
		p.status = StateStopped
		p.mu.Unlock()
		if c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close plugin %q: %w", p.config.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Status describes one plugin.
type Status struct {
	Name    string   `json:"name"`
	State   string   `json:"state"`
	Tools   []string `json:"tools"`
	LastErr string   `json:"last_error,omitempty"`
}

// Status returns the current state of every plugin, sorted by name.
func (m *Manager) Status() []Status {
	plugins := m.snapshot()
	out := make([]Status, 0, len(plugins))
	for _, p := range plugins {
		p.mu.Lock()
		out = append(out, Status{Name: p.config.Name, State: p.status, Tools: p.tools, LastErr: p.lastErr})
		p.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Status) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func (m *Manager) snapshot() []*managedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*managedPlugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	return out
}

// current returns the client when the plugin can take calls.
func (p *managedPlugin) current() *client.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StateHealthy {
		return nil
	}
	return p.client
}

// connection returns the client unless the plugin is stopped.
func (p *managedPlugin) connection() *client.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *managedPlugin) state() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// recordError counts a failure and reports whether it flipped the plugin
// to unhealthy.
func (p *managedPlugin) recordError(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount++
	p.lastErr = err.Error()
	if p.status == StateHealthy && p.errCount >= maxErrors {
		p.status = StateUnhealthy
		return true
	}
	return false
}

func (p *managedPlugin) recordOK() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount = 0
	if p.status == StateUnhealthy {
		p.status = StateHealthy
	}
}
