package analytic

import (
	"context"
	"errors"
	"strings"
)

// Service exposes analytical account and rule operations plus line matching.
type Service struct {
	repo   Repository
	lookup MasterLookup
}

// NewService builds the analytic service.
func NewService(repo Repository, lookup MasterLookup) *Service {
	return &Service{repo: repo, lookup: lookup}
}

func (s *Service) ListAccounts(ctx context.Context, includeArchived bool) ([]Account, error) {
	return s.repo.ListAccounts(ctx, includeArchived)
}

func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	if id <= 0 {
		return Account{}, errors.New("invalid account ID")
	}
	return s.repo.GetAccount(ctx, id)
}

func (s *Service) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if strings.TrimSpace(account.Name) == "" {
		return Account{}, errors.New("account name is required")
	}
	if strings.TrimSpace(account.Code) == "" {
		return Account{}, errors.New("account code is required")
	}
	return s.repo.CreateAccount(ctx, account)
}

func (s *Service) ArchiveAccount(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid account ID")
	}
	return s.repo.ArchiveAccount(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, includeArchived bool) ([]Rule, error) {
	return s.repo.ListRules(ctx, includeArchived)
}

func (s *Service) GetRule(ctx context.Context, id int64) (Rule, error) {
	if id <= 0 {
		return Rule{}, errors.New("invalid rule ID")
	}
	return s.repo.GetRule(ctx, id)
}

// CreateRule stores a rule. Priority is derived from the criteria the rule
// defines, not supplied by the caller.
func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return Rule{}, errors.New("rule name is required")
	}
	if rule.AnalyticalAccountID <= 0 {
		return Rule{}, errors.New("analytical account is required")
	}
	rule.Priority = rule.CriteriaCount()
	if rule.Priority == 0 {
		return Rule{}, errors.New("rule needs at least one matching criterion")
	}
	return s.repo.CreateRule(ctx, rule)
}

func (s *Service) ArchiveRule(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid rule ID")
	}
	return s.repo.ArchiveRule(ctx, id)
}

// MatchLine resolves partner tags and product category from master data,
// then runs the rules against them. A missing partner or product simply
// narrows the criteria; no match is not an error.
func (s *Service) MatchLine(ctx context.Context, partnerID, productID *int64) (Assignment, bool, error) {
	criteria := Criteria{PartnerID: partnerID, ProductID: productID}
	if partnerID != nil {
		tagIDs, err := s.lookup.ContactTagIDs(ctx, *partnerID)
		if err != nil {
			return Assignment{}, false, err
		}
		criteria.TagIDs = tagIDs
	}
	if productID != nil {
		categoryID, err := s.lookup.ProductCategoryID(ctx, *productID)
		if err != nil {
			return Assignment{}, false, err
		}
		criteria.CategoryID = categoryID
	}

	rules, err := s.repo.ListRules(ctx, false)
	if err != nil {
		return Assignment{}, false, err
	}
	assignment, ok := Match(rules, criteria)
	return assignment, ok, nil
}
