package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/safety/policy"
)

// completerGenerator turns a Completer into a Generator.
type completerGenerator struct {
	completer Completer
	engine    policy.Engine
	logger    *zap.Logger
}

// NewGenerator wraps a model completer with prompt rendering and response parsing.
func NewGenerator(c Completer, engine policy.Engine, logger *zap.Logger) Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = policy.NewEngine()
	}
	return &completerGenerator{completer: c, engine: engine, logger: logger}
}

func (g *completerGenerator) Propose(ctx context.Context, req Request) (*Proposal, error) {
	if g.completer == nil {
		return nil, ErrProviderNotConfigured
	}

	prompt := BuildPrompt(req, g.engine)
	start := time.Now()
	text, err := g.completer.Complete(ctx, prompt)
	metrics.RecordProposal(g.completer.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", g.completer.Name(), err)
	}

	p, err := ParseResponse(text, !req.AnalysisOnly())
	g.logger.Debug("proposal received",
		zap.String("issue_id", req.Issue.ID),
		zap.String("provider", g.completer.Name()),
		zap.Int("attempt", req.Attempt),
		zap.Bool("has_change", p.ProposedConfigText != ""),
		zap.Duration("duration", time.Since(start)),
	)
	return p, err
}
