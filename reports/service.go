package reports

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
)

// =============================================================================
// SERVICE
// =============================================================================

const (
	DefaultLimit       = 100
	DefaultConcurrency = 8
)

type Config struct {
	// Domain is the public site host used to build links.
	Domain string
	// Limit is how many of the newest reports are read.
	Limit int
	// Concurrency bounds in-flight content lookups.
	Concurrency int
}

type Service struct {
	reports   ReportSource
	content   ContentSource
	contracts market.ContractReader
	users     UserSource
	cfg       Config
	logger    *zap.Logger
	recorder  Recorder
}

func NewService(reports ReportSource, content ContentSource, contracts market.ContractReader, users UserSource, cfg Config, logger *zap.Logger, recorder Recorder) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		reports:   reports,
		content:   content,
		contracts: contracts,
		users:     users,
		cfg:       cfg,
		logger:    logger.Named("reports"),
		recorder:  recorder,
	}
}

// List returns the newest reports joined with their content, in report
// order. Reports whose content cannot be resolved are left out.
func (s *Service) List(ctx context.Context) ([]LiteReport, error) {
	rows, err := s.reports.LatestReports(ctx, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	resolved := make([]*LiteReport, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, r := range rows {
		i, r := i, r
		g.Go(func() error {
			lite, err := s.resolve(gctx, r)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.drop(r, err)
				return nil
			}
			resolved[i] = &lite
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]LiteReport, 0, len(rows))
	for _, lite := range resolved {
		if lite != nil {
			out = append(out, *lite)
		}
	}
	return out, nil
}

func (s *Service) drop(r Report, err error) {
	reason := "error"
	switch {
	case errors.Is(err, generic.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, generic.ErrUnsupportedKind):
		reason = "unsupported"
	}
	s.recorder.ReportDropped(reason)

	log := s.logger.Debug
	if reason == "error" {
		log = s.logger.Warn
	}
	log("report dropped",
		zap.String("report_id", r.ID),
		zap.String("content_type", string(r.ContentType)),
		zap.String("content_id", r.ContentID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (s *Service) resolve(ctx context.Context, r Report) (LiteReport, error) {
	target, err := r.Target()
	if err != nil {
		return LiteReport{}, err
	}

	var slug, text string
	switch t := target.(type) {
	case ContractTarget:
		c, err := s.contracts.GetContract(ctx, t.ContractID)
		if err != nil {
			return LiteReport{}, err
		}
		slug, text = c.URL(s.cfg.Domain), c.Question

	case ContractCommentTarget:
		c, err := s.contracts.GetContract(ctx, t.ContractID)
		if err != nil {
			return LiteReport{}, err
		}
		cm, err := s.comment(ctx, t.CommentID, ParentContract, c.ID)
		if err != nil {
			return LiteReport{}, err
		}
		if text, err = commentText(cm); err != nil {
			return LiteReport{}, err
		}
		slug = c.URL(s.cfg.Domain) + "#" + cm.ID

	case PostCommentTarget:
		p, err := s.content.Post(ctx, t.PostID)
		if err != nil {
			return LiteReport{}, err
		}
		cm, err := s.comment(ctx, t.CommentID, ParentPost, p.ID)
		if err != nil {
			return LiteReport{}, err
		}
		if text, err = commentText(cm); err != nil {
			return LiteReport{}, err
		}
		slug = "https://" + s.cfg.Domain + "/post/" + p.Slug + "#" + cm.ID

	case UserTarget:
		u, err := s.users.GetAccount(ctx, generic.AccountID(t.UserID))
		if err != nil {
			return LiteReport{}, err
		}
		slug, text = "https://"+s.cfg.Domain+"/"+u.Username, u.Name
	}

	return LiteReport{
		ReportedByID:       r.UserID,
		Slug:               slug,
		ID:                 r.ID,
		Text:               text,
		ContentOwnerID:     r.ContentOwnerID,
		ReasonsDescription: r.Description,
	}, nil
}

// comment loads a comment and checks it belongs to the expected parent.
func (s *Service) comment(ctx context.Context, id string, parentType ParentType, parentID string) (Comment, error) {
	cm, err := s.content.Comment(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	if cm.ParentType != parentType || cm.ParentID != parentID {
		return Comment{}, fmt.Errorf("comment %s on %s %s: %w", id, parentType, parentID, generic.ErrNotFound)
	}
	return cm, nil
}

func commentText(cm Comment) (string, error) {
	if cm.Text != "" {
		return cm.Text, nil
	}
	return RichTextToString(cm.Content)
}

type nopRecorder struct{}

func (nopRecorder) ReportDropped(string) {}
