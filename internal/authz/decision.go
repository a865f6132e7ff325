// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EvaluationRecord is the structured audit record of one top-level
// evaluation call. Exactly one of Decision (evaluate) or Held
// (permissions_for) is set. MatchedGrantIDs lists the positive grants that
// produced each allow.
type EvaluationRecord struct {
	Subject         ResolvedSubject
	Resources       []ResourcePattern
	Permissions     []Permission
	Decision        [][]bool
	Held            [][]Permission
	MatchedGrantIDs []int64
	SuperUser       bool
}

// DecisionLogger emits one structured record per evaluation. Emission is
// fire-and-forget: it never returns an error and must never fail the
// request it describes.
type DecisionLogger struct {
	logger *slog.Logger
}

// NewDecisionLogger wraps a slog logger for decision records.
func NewDecisionLogger(logger *slog.Logger) *DecisionLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionLogger{logger: logger}
}

// LogEvaluation emits the record with a time-ordered event ID.
func (l *DecisionLogger) LogEvaluation(ctx context.Context, rec EvaluationRecord) {
	attrs := []slog.Attr{
		slog.String("event_id", newEventID()),
		slog.Time("ts", time.Now().UTC()),
		slog.Group("caller",
			slog.Bool("anonymous", rec.Subject.Anonymous),
			slog.String("iss", rec.Subject.Issuer),
			slog.String("sub", rec.Subject.Subject),
		),
		slog.Any("resources", rec.Resources),
	}

	if rec.Permissions != nil {
		attrs = append(attrs, slog.Any("permissions", rec.Permissions))
	}
	if rec.Decision != nil {
		attrs = append(attrs, slog.Any("decision", rec.Decision))
	} else {
		attrs = append(attrs, slog.Any("decision", rec.Held))
	}

	attrs = append(attrs,
		slog.Any("matched_grant_ids", rec.MatchedGrantIDs),
		slog.Bool("superuser", rec.SuperUser),
	)

	l.logger.LogAttrs(ctx, slog.LevelInfo, "DECISION-LOG", attrs...)
}

// newEventID returns a UUID v7 so decision records sort by time; it falls
// back to v4 if v7 generation fails.
func newEventID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}
