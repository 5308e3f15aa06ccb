package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type incident struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Caller    string    `json:"caller"`
	Error     string    `json:"error"`
}

// recordIncident persists a ledger invariant failure for operators. The
// engine state is left as it was before the failing step.
func (s *Server) recordIncident(op string, caller common.Address, opErr error) {
	s.logger.Error("ledger invariant incident",
		zap.String("op", op),
		zap.String("caller", caller.Hex()),
		zap.Error(opErr),
	)
	if s.cfg.Service.IncidentPath == "" {
		return
	}

	entry := incident{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Operation: op,
		Caller:    caller.Hex(),
		Error:     opErr.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.logger.Warn("incident marshal error", zap.Error(err))
		return
	}

	if err := os.MkdirAll(s.cfg.Service.IncidentPath, 0o755); err != nil {
		s.logger.Warn("incident mkdir error", zap.Error(err))
		return
	}

	filename := fmt.Sprintf("%d-%s.json", entry.Timestamp.UnixNano(), entry.ID)
	path := filepath.Join(s.cfg.Service.IncidentPath, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Warn("incident write error", zap.String("path", path), zap.Error(err))
	}

	s.updateIncidentDepth()
}

func (s *Server) updateIncidentDepth() int {
	depth := s.currentIncidentDepth()
	if s.metrics != nil {
		s.metrics.setIncidents(depth)
	}
	return depth
}

func (s *Server) currentIncidentDepth() int {
	if s.cfg.Service.IncidentPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Service.IncidentPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("incident read error", zap.Error(err))
		}
		return 0
	}
	return len(entries)
}
