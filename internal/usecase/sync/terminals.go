package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

// TerminalSpec is one terminal in a fleet manifest.
type TerminalSpec struct {
	Name    string `toml:"name"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Enabled *bool  `toml:"enabled"`
}

type fleetManifest struct {
	Terminals []TerminalSpec `toml:"terminals"`
}

// AddTerminal registers one terminal, filling in the default port.
func (s *Service) AddTerminal(ctx context.Context, input ports.TerminalCreate) (ports.Terminal, error) {
	if ctx == nil {
		return ports.Terminal{}, errors.New("context is required")
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Host = strings.TrimSpace(input.Host)
	if input.Host == "" {
		return ports.Terminal{}, errors.New("terminal host is required")
	}
	if input.Name == "" {
		input.Name = input.Host
	}
	if input.Port == 0 {
		input.Port = s.cfg.Terminal.DefaultPort
	}
	if input.Port <= 0 || input.Port > 65535 {
		return ports.Terminal{}, fmt.Errorf("terminal port %d out of range", input.Port)
	}

	return s.repo.AddTerminal(ctx, input)
}

// ImportTerminals loads a TOML fleet manifest and registers every terminal
// in it. Terminals whose address is already registered are skipped.
func (s *Service) ImportTerminals(ctx context.Context, path string) (added int, skipped int, err error) {
	if ctx == nil {
		return 0, 0, errors.New("context is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, errs.Wrapf(err, "read fleet manifest %q", path)
	}

	var manifest fleetManifest
	if err := toml.Unmarshal(raw, &manifest); err != nil {
		return 0, 0, errs.Wrapf(err, "parse fleet manifest %q", path)
	}
	if len(manifest.Terminals) == 0 {
		return 0, 0, errors.New("fleet manifest lists no terminals")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.sync.terminals"))
	for _, spec := range manifest.Terminals {
		terminal, addErr := s.AddTerminal(ctx, ports.TerminalCreate{
			Name: spec.Name,
			Host: spec.Host,
			Port: spec.Port,
		})
		if addErr != nil {
			if errors.Is(addErr, ports.ErrTerminalAddrInUse) {
				skipped++
				continue
			}
			return added, skipped, errs.Wrapf(addErr, "import terminal %q", spec.Host)
		}
		if spec.Enabled != nil && !*spec.Enabled {
			if patchErr := s.repo.UpdateTerminal(ctx, terminal.TerminalID, ports.TerminalPatch{Enabled: spec.Enabled}); patchErr != nil {
				return added, skipped, errs.Wrapf(patchErr, "disable imported terminal %q", spec.Host)
			}
		}
		added++
		logging.Info(logCtx, "terminal imported", slog.String("host", spec.Host), slog.Int("port", terminal.Port))
	}
	return added, skipped, nil
}

// ListTerminals returns the registered fleet.
func (s *Service) ListTerminals(ctx context.Context, enabledOnly bool) ([]ports.Terminal, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	return s.repo.ListTerminals(ctx, enabledOnly)
}

// RemoveTerminal unregisters a terminal. Its already ingested entries stay
// in the ledger.
func (s *Service) RemoveTerminal(ctx context.Context, terminalID uint64) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	return s.repo.RemoveTerminal(ctx, terminalID)
}

// TestTerminal dials a registered terminal and fetches its roster head,
// proving both reachability and protocol agreement.
func (s *Service) TestTerminal(ctx context.Context, terminalID uint64) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	terminal, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return 0, err
	}

	client, err := s.dialer.Dial(ctx, terminal.Host, terminal.Port, s.terminalTimeout())
	if err != nil {
		return 0, errs.Wrapf(err, "connect terminal %q", terminal.Name)
	}
	defer func() { _ = client.Close() }()

	roster, err := client.GetUsers(ctx)
	if err != nil {
		return 0, errs.Wrapf(err, "probe terminal %q", terminal.Name)
	}
	return len(roster), nil
}
