package mcp

import (
	"context"
	"fmt"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"pkt.systems/pslog"

	"github.com/megamem/vaultd"
	"github.com/megamem/vaultd/internal/svcfields"
	"github.com/megamem/vaultd/internal/telemetry"
)

// Config controls the vaultd MCP server runtime behavior.
type Config struct {
	// ConfigPath locates the shared vault configuration file. Empty resolves
	// the per-user default location.
	ConfigPath string
	// Vault overrides the configuration loaded from ConfigPath when non-nil
	// (used by tests and by explicit CLI flags).
	Vault *vaultd.Config
	// DisableConfigWatch turns off live reload of the shared config file.
	DisableConfigWatch bool
}

// Server is the MCP facade service contract.
type Server interface {
	Run(context.Context) error
}

// NewServerRequest wraps constructor inputs.
type NewServerRequest struct {
	Config Config
	Logger pslog.Logger
}

type server struct {
	cfg          Config
	configPath   string
	logger       pslog.Logger
	lifecycleLog pslog.Logger
	toolLog      pslog.Logger
	metrics      *telemetry.Metrics
	session      *vaultd.Session
}

// NewServer constructs the vaultd MCP facade service.
func NewServer(req NewServerRequest) (Server, error) {
	logger := req.Logger
	if logger == nil {
		logger = pslog.NewStructured(os.Stderr).With("app", "vaultd")
	}
	configPath := req.Config.ConfigPath
	if configPath == "" && req.Config.Vault == nil {
		var err error
		configPath, err = vaultd.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return &server{
		cfg:          req.Config,
		configPath:   configPath,
		logger:       logger,
		lifecycleLog: svcfields.WithSubsystem(logger, "server.lifecycle.mcp"),
		toolLog:      svcfields.WithSubsystem(logger, "mcp.tools"),
		metrics:      telemetry.New(),
	}, nil
}

// Run attaches to the vault (running the owner election) and serves MCP over
// stdio until ctx is done or the client closes the stream.
func (s *server) Run(ctx context.Context) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	opts := []vaultd.SessionOption{
		vaultd.WithSessionLogger(s.logger),
		vaultd.WithSessionMetrics(s.metrics),
	}
	if s.configPath != "" {
		path := s.configPath
		opts = append(opts, vaultd.WithConfigReload(func() (vaultd.Config, error) {
			return vaultd.LoadConfig(path)
		}))
	}
	session, err := vaultd.Connect(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	s.session = session
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.lifecycleLog.Warn("session close", "error", cerr)
		}
	}()
	s.lifecycleLog.Info("vault session attached",
		"role", session.Role(),
		"vault", cfg.VaultIdentity(),
		"listener_port", cfg.ListenerPort)

	if s.configPath != "" && !s.cfg.DisableConfigWatch {
		err := vaultd.WatchConfig(ctx, s.configPath, s.logger, func(next vaultd.Config) {
			// The new token and port take effect on the next re-election; an
			// active owner keeps serving its current incarnation.
			s.lifecycleLog.Info("shared config changed", "listener_port", next.ListenerPort)
		})
		if err != nil {
			s.lifecycleLog.Warn("config watch unavailable", "error", err)
		}
	}

	mcpSrv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "vaultd",
		Version: "0.1.0",
	}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions(cfg),
	})
	s.registerTools(mcpSrv)

	s.lifecycleLog.Info("mcp server ready", "transport", "stdio")
	return mcpSrv.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *server) loadConfig() (vaultd.Config, error) {
	if s.cfg.Vault != nil {
		cfg := *s.cfg.Vault
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return vaultd.Config{}, err
		}
		return cfg, nil
	}
	return vaultd.LoadConfig(s.configPath)
}

func (s *server) registerTools(srv *mcpsdk.Server) {
	desc := func(name string) string {
		description, ok := toolDescriptions[name]
		if !ok {
			panic(fmt.Sprintf("missing MCP tool description for %q", name))
		}
		return description
	}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteRead,
		Description: desc(toolNoteRead),
	}, withStructuredToolErrors(s.handleNoteReadTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteWrite,
		Description: desc(toolNoteWrite),
	}, withStructuredToolErrors(s.handleNoteWriteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteCreate,
		Description: desc(toolNoteCreate),
	}, withStructuredToolErrors(s.handleNoteCreateTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteDelete,
		Description: desc(toolNoteDelete),
	}, withStructuredToolErrors(s.handleNoteDeleteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteRename,
		Description: desc(toolNoteRename),
	}, withStructuredToolErrors(s.handleNoteRenameTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteMetadata,
		Description: desc(toolNoteMetadata),
	}, withStructuredToolErrors(s.handleNoteMetadataTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNoteList,
		Description: desc(toolNoteList),
	}, withStructuredToolErrors(s.handleNoteListTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolSearch,
		Description: desc(toolSearch),
	}, withStructuredToolErrors(s.handleSearchTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolFolderCreate,
		Description: desc(toolFolderCreate),
	}, withStructuredToolErrors(s.handleFolderCreateTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolFolderRename,
		Description: desc(toolFolderRename),
	}, withStructuredToolErrors(s.handleFolderRenameTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolFolderDelete,
		Description: desc(toolFolderDelete),
	}, withStructuredToolErrors(s.handleFolderDeleteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolExplore,
		Description: desc(toolExplore),
	}, withStructuredToolErrors(s.handleExploreTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolTemplateList,
		Description: desc(toolTemplateList),
	}, withStructuredToolErrors(s.handleTemplateListTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolTemplateCreate,
		Description: desc(toolTemplateCreate),
	}, withStructuredToolErrors(s.handleTemplateCreateTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolVaultInfo,
		Description: desc(toolVaultInfo),
	}, withStructuredToolErrors(s.handleVaultInfoTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolVaultStatus,
		Description: desc(toolVaultStatus),
	}, withStructuredToolErrors(s.handleVaultStatusTool))
}

func serverInstructions(cfg vaultd.Config) string {
	return fmt.Sprintf(
		"vaultd bridges this MCP session to the vault rooted at %s. "+
			"Note and folder paths are vault-relative (no leading slash). "+
			"Multiple MCP sessions may target the same vault concurrently; "+
			"coordination is automatic.", cfg.DefaultVaultPath)
}
