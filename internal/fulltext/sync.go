package fulltext

import (
	"log/slog"

	"github.com/starford/specdex/internal/document"
)

// Sync brings the mirror up to date with docs:
//   - new/changed documents (by fingerprint) are replaced
//   - documents no longer present are deleted
func Sync(m Mirror, docs []*document.Document, logger *slog.Logger) error {
	fingerprints, err := m.Fingerprints()
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		current[d.ID] = struct{}{}
		if fingerprints[d.ID] == d.Fingerprint {
			continue
		}
		if err := m.ReplaceDocument(d); err != nil {
			logger.Warn("fulltext sync: replace failed", slog.String("document", d.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("fulltext sync: mirrored", slog.String("document", d.ID))
		}
	}

	// Remove stale entries.
	for id := range fingerprints {
		if _, ok := current[id]; !ok {
			if err := m.DeleteDocument(id); err != nil {
				logger.Warn("fulltext sync: delete failed", slog.String("document", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("fulltext sync: removed stale", slog.String("document", id))
			}
		}
	}

	return nil
}
